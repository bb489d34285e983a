// Package surrealstore keeps documents in SurrealDB, one SurrealDB table per
// document table. Ids become native record ids; every other field is stored
// as is.
//
// All statements are parameterized. Field names used in filters are checked
// against a plain identifier pattern before they are put in a statement.
package surrealstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/surrealdb/surrealodm/pkg/connection"
	"github.com/surrealdb/surrealodm/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealodm/pkg/connection/http"
	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/logger"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

type Store struct {
	conn connection.Connection
}

var _ storage.Storage = (*Store)(nil)

// New uses an already connected connection.
func New(conn connection.Connection) *Store {
	return &Store{conn: conn}
}

// Open connects to endpoint ("ws://", "wss://", "http://" or "https://") and
// selects namespace and database.
func Open(ctx context.Context, endpoint, namespace, database string, log logger.Logger) (*Store, error) {
	u, err := url.ParseRequestURI(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	conf := connection.NewConfig(u)
	if log != nil {
		conf.Logger = log
	}

	var conn connection.Connection
	switch u.Scheme {
	case constants.WebsocketScheme, constants.WebsocketSecureScheme:
		conn = gorillaws.New(conf)
	case constants.HTTPScheme, constants.HTTPSecureScheme:
		conn = http.New(conf)
	default:
		return nil, fmt.Errorf("invalid connection url scheme %q", u.Scheme)
	}

	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}
	if err := conn.Use(ctx, namespace, database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/database: %w", err)
	}
	return New(conn), nil
}

func (s *Store) Close() error {
	return s.conn.Close(context.Background())
}

func (s *Store) call(ctx context.Context, method connection.RPCFunction, params ...any) (any, error) {
	var res connection.RPCResponse[any]
	if err := connection.Send(ctx, s.conn, &res, method, params...); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return nil, nil
	}
	return *res.Result, nil
}

func recordID(table string, id any) (models.RecordID, error) {
	id = models.NormalizeID(id)
	if !models.IsComparableID(id) {
		return models.RecordID{}, fmt.Errorf("surrealstore: %w: %T", constants.ErrNotComparableID, id)
	}
	return models.RecordID{Table: table, ID: id}, nil
}

// toRecord turns a SurrealDB object into a storage record, moving the record
// id out of the field map.
func toRecord(v any) (storage.Record, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return storage.Record{}, fmt.Errorf("%w: expected a record, got %T", constants.InvalidResponse, v)
	}
	fields := make(map[string]any, len(m))
	var id any
	for k, val := range m {
		if k == "id" {
			id = models.NormalizeID(val)
			continue
		}
		fields[k] = val
	}
	return storage.Record{ID: id, Fields: fields}, nil
}

// single unwraps results that may arrive as an object or a one-element list.
func single(v any) any {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}

func content(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != "id" {
			out[k] = v
		}
	}
	return out
}

func (s *Store) LoadByID(ctx context.Context, table string, id any) (storage.Record, error) {
	rid, err := recordID(table, id)
	if err != nil {
		return storage.Record{}, err
	}
	res, err := s.call(ctx, connection.Select, rid)
	if err != nil {
		return storage.Record{}, err
	}
	res = single(res)
	if res == nil {
		return storage.Record{}, &storage.NotFoundError{Table: table, ID: id}
	}
	return toRecord(res)
}

func (s *Store) LoadByIDs(ctx context.Context, table string, ids []any) ([]*storage.Record, error) {
	out := make([]*storage.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rids := make([]any, len(ids))
	for i, id := range ids {
		rid, err := recordID(table, id)
		if err != nil {
			return nil, err
		}
		rids[i] = rid
	}

	rows, err := s.query(ctx, "SELECT * FROM $ids", map[string]any{"ids": rids})
	if err != nil {
		return nil, err
	}
	byID := make(map[any]storage.Record, len(rows))
	for _, row := range rows {
		rec, err := toRecord(row)
		if err != nil {
			return nil, err
		}
		if models.IsComparableID(rec.ID) {
			byID[rec.ID] = rec
		}
	}
	for i, id := range ids {
		if rec, ok := byID[models.NormalizeID(id)]; ok {
			r := rec.Clone()
			out[i] = &r
		}
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, table string, rec storage.Record) (any, error) {
	var target any = models.Table(table)
	if !models.IsZeroID(rec.ID) {
		rid, err := recordID(table, rec.ID)
		if err != nil {
			return nil, err
		}
		target = rid
	}
	res, err := s.call(ctx, connection.Create, target, content(rec.Fields))
	if err != nil {
		var rpcErr *connection.RPCError
		if errors.As(err, &rpcErr) && strings.Contains(rpcErr.Error(), "already exists") {
			return nil, &storage.ConflictError{Table: table, ID: rec.ID}
		}
		return nil, err
	}
	created, err := toRecord(single(res))
	if err != nil {
		return nil, err
	}
	return created.ID, nil
}

func (s *Store) Update(ctx context.Context, table string, rec storage.Record) error {
	rid, err := recordID(table, rec.ID)
	if err != nil {
		return err
	}
	res, err := s.call(ctx, connection.Update, rid, content(rec.Fields))
	if err != nil {
		return err
	}
	if single(res) == nil {
		return &storage.NotFoundError{Table: table, ID: rec.ID}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, id any) error {
	rid, err := recordID(table, id)
	if err != nil {
		return err
	}
	res, err := s.call(ctx, connection.Delete, rid)
	if err != nil {
		return err
	}
	if single(res) == nil {
		return &storage.NotFoundError{Table: table, ID: id}
	}
	return nil
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// BuildQuery renders filter as a SurrealQL select over table and returns the
// statement with its parameters.
func BuildQuery(table string, filter storage.Filter) (string, map[string]any, error) {
	var sb strings.Builder
	vars := map[string]any{"tb": table}
	sb.WriteString("SELECT * FROM type::table($tb)")

	for i, c := range filter.Conditions {
		if !identifier.MatchString(c.Field) {
			return "", nil, fmt.Errorf("surrealstore: invalid field name %q", c.Field)
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		param := fmt.Sprintf("p%d", i)
		value := c.Value
		if c.Field == storage.IDField {
			value = idValue(table, value)
		}
		vars[param] = value
		switch c.Op {
		case storage.OpEq:
			fmt.Fprintf(&sb, "%s = $%s", c.Field, param)
		case storage.OpNe:
			fmt.Fprintf(&sb, "%s != $%s", c.Field, param)
		case storage.OpIn:
			fmt.Fprintf(&sb, "%s IN $%s", c.Field, param)
		default:
			return "", nil, fmt.Errorf("surrealstore: unsupported operator %s", c.Op)
		}
	}

	for i, k := range filter.Sort {
		if !identifier.MatchString(k.Field) {
			return "", nil, fmt.Errorf("surrealstore: invalid field name %q", k.Field)
		}
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		dir := "ASC"
		if k.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, "%s %s", k.Field, dir)
	}
	if filter.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&sb, " START %d", filter.Offset)
	}
	return sb.String(), vars, nil
}

// idValue turns bare ids compared against the id field into record ids.
func idValue(table string, v any) any {
	switch val := v.(type) {
	case models.RecordID:
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = idValue(table, item)
		}
		return out
	}
	return models.NewRecordID(table, v)
}

func (s *Store) Query(ctx context.Context, table string, filter storage.Filter) ([]storage.Record, error) {
	sql, vars, err := BuildQuery(table, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, sql, vars)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := toRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// query runs one statement and returns its result rows.
func (s *Store) query(ctx context.Context, sql string, vars map[string]any) ([]any, error) {
	res, err := s.call(ctx, connection.Query, sql, vars)
	if err != nil {
		return nil, err
	}
	results, ok := res.([]any)
	if !ok || len(results) == 0 {
		return nil, fmt.Errorf("%w: query returned %T", constants.InvalidResponse, res)
	}
	stmt, ok := results[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: statement result is %T", constants.InvalidResponse, results[0])
	}
	if status, _ := stmt["status"].(string); status != "OK" {
		return nil, &connection.RPCError{Code: -32000, Message: fmt.Sprint(stmt["result"])}
	}
	rows, _ := stmt["result"].([]any)
	return rows, nil
}
