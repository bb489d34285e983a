// Package sqlitestore keeps documents in a single SQLite file. Every table
// shares one relation; ids and bodies are stored as deterministic CBOR so a
// record id, an int and an int64 all map to the same key.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

var _ storage.Storage = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeID(id any) ([]byte, error) {
	id = models.NormalizeID(id)
	if !models.IsComparableID(id) {
		return nil, fmt.Errorf("sqlitestore: %w: %T", constants.ErrNotComparableID, id)
	}
	return models.Marshal(id)
}

func decodeRow(idBytes, body []byte) (storage.Record, error) {
	var id any
	if err := models.Unmarshal(idBytes, &id); err != nil {
		return storage.Record{}, fmt.Errorf("sqlitestore: decode id: %w", err)
	}
	fields := make(map[string]any)
	if err := models.Unmarshal(body, &fields); err != nil {
		return storage.Record{}, fmt.Errorf("sqlitestore: decode %v: %w", id, err)
	}
	return storage.Record{ID: id, Fields: fields}, nil
}

func encodeBody(fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	return models.Marshal(fields)
}

func (s *Store) LoadByID(ctx context.Context, table string, id any) (storage.Record, error) {
	key, err := encodeID(id)
	if err != nil {
		return storage.Record{}, err
	}
	var idBytes, body []byte
	err = s.db.QueryRowContext(ctx,
		"SELECT id, body FROM documents WHERE tbl = ? AND id = ?", table, key,
	).Scan(&idBytes, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, &storage.NotFoundError{Table: table, ID: id}
	}
	if err != nil {
		return storage.Record{}, err
	}
	return decodeRow(idBytes, body)
}

func (s *Store) LoadByIDs(ctx context.Context, table string, ids []any) ([]*storage.Record, error) {
	out := make([]*storage.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	slots := make(map[string][]int, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, table)
	for i, id := range ids {
		key, err := encodeID(id)
		if err != nil {
			return nil, err
		}
		if _, seen := slots[string(key)]; !seen {
			args = append(args, key)
		}
		slots[string(key)] = append(slots[string(key)], i)
	}

	query := "SELECT id, body FROM documents WHERE tbl = ? AND id IN (" +
		strings.TrimSuffix(strings.Repeat("?,", len(args)-1), ",") + ")"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var idBytes, body []byte
		if err := rows.Scan(&idBytes, &body); err != nil {
			return nil, err
		}
		rec, err := decodeRow(idBytes, body)
		if err != nil {
			return nil, err
		}
		for _, i := range slots[string(idBytes)] {
			r := rec.Clone()
			out[i] = &r
		}
	}
	return out, rows.Err()
}

func (s *Store) Insert(ctx context.Context, table string, rec storage.Record) (any, error) {
	id := models.NormalizeID(rec.ID)
	if models.IsZeroID(id) {
		u, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		id = u.String()
	}
	key, err := encodeID(id)
	if err != nil {
		return nil, err
	}
	body, err := encodeBody(rec.Fields)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (tbl, id, body) VALUES (?, ?, ?)", table, key, body)
	if isConstraint(err) {
		return nil, &storage.ConflictError{Table: table, ID: id}
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, table string, rec storage.Record) error {
	key, err := encodeID(rec.ID)
	if err != nil {
		return err
	}
	body, err := encodeBody(rec.Fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET body = ? WHERE tbl = ? AND id = ?", body, table, key)
	if err != nil {
		return err
	}
	return expectOne(res, table, rec.ID)
}

func (s *Store) Delete(ctx context.Context, table string, id any) error {
	key, err := encodeID(id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE tbl = ? AND id = ?", table, key)
	if err != nil {
		return err
	}
	return expectOne(res, table, id)
}

// Query scans the table in insertion order and evaluates the filter in
// process.
func (s *Store) Query(ctx context.Context, table string, filter storage.Filter) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, body FROM documents WHERE tbl = ? ORDER BY rowid", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []storage.Record
	for rows.Next() {
		var idBytes, body []byte
		if err := rows.Scan(&idBytes, &body); err != nil {
			return nil, err
		}
		rec, err := decodeRow(idBytes, body)
		if err != nil {
			return nil, err
		}
		all = append(all, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return filter.Apply(all), nil
}

// TableInfo summarizes one table.
type TableInfo struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Tables lists every table holding at least one document.
func (s *Store) Tables(ctx context.Context) ([]TableInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tbl, COUNT(*) FROM documents GROUP BY tbl ORDER BY tbl")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TableInfo
	for rows.Next() {
		var info TableInfo
		if err := rows.Scan(&info.Name, &info.Count); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, table string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &storage.NotFoundError{Table: table, ID: id}
	}
	return nil
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
