// Package memory is an in-process storage backend. Records are deep-copied on
// the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tiendc/go-deepcopy"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

// Op names a storage call for statistics and fault injection.
type Op string

const (
	OpLoadByID  Op = "load_by_id"
	OpLoadByIDs Op = "load_by_ids"
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpQuery     Op = "query"
)

// Fault is consulted before every call; a non-nil error fails the call
// without touching the data.
type Fault func(op Op, table string, id any) error

type table struct {
	rows  map[any]map[string]any
	order []any
	seq   int64
}

type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	calls  map[Op]int
	fault  Fault
}

var _ storage.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		tables: make(map[string]*table),
		calls:  make(map[Op]int),
	}
}

// SetFault installs f, or removes the current fault when f is nil.
func (s *Store) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// Calls returns how many times op was invoked, failed calls included.
func (s *Store) Calls(op Op) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[Op]int)
}

// Len returns the number of records in tbl.
func (s *Store) Len(tbl string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[tbl]; ok {
		return len(t.rows)
	}
	return 0
}

// Tables lists tables that ever held a record.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	return out
}

// before counts the call and runs the fault hook. Caller holds the lock.
func (s *Store) before(op Op, tbl string, id any) error {
	s.calls[op]++
	if s.fault != nil {
		return s.fault(op, tbl, id)
	}
	return nil
}

func (s *Store) table(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{rows: make(map[any]map[string]any)}
		s.tables[name] = t
	}
	return t
}

func key(id any) (any, error) {
	k := models.NormalizeID(id)
	if !models.IsComparableID(k) {
		return nil, fmt.Errorf("memory: %w: %T", constants.ErrNotComparableID, id)
	}
	return k, nil
}

func clone(fields map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := deepcopy.Copy(&out, fields); err != nil {
		return nil, fmt.Errorf("memory: copy record: %w", err)
	}
	if out == nil {
		out = make(map[string]any)
	}
	return out, nil
}

func (s *Store) LoadByID(ctx context.Context, tbl string, id any) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before(OpLoadByID, tbl, id); err != nil {
		return storage.Record{}, err
	}
	k, err := key(id)
	if err != nil {
		return storage.Record{}, err
	}
	t, ok := s.tables[tbl]
	if !ok {
		return storage.Record{}, &storage.NotFoundError{Table: tbl, ID: id}
	}
	row, ok := t.rows[k]
	if !ok {
		return storage.Record{}, &storage.NotFoundError{Table: tbl, ID: id}
	}
	fields, err := clone(row)
	if err != nil {
		return storage.Record{}, err
	}
	return storage.Record{ID: k, Fields: fields}, nil
}

func (s *Store) LoadByIDs(ctx context.Context, tbl string, ids []any) ([]*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before(OpLoadByIDs, tbl, ids); err != nil {
		return nil, err
	}
	out := make([]*storage.Record, len(ids))
	t, ok := s.tables[tbl]
	if !ok {
		return out, nil
	}
	for i, id := range ids {
		k, err := key(id)
		if err != nil {
			return nil, err
		}
		row, ok := t.rows[k]
		if !ok {
			continue
		}
		fields, err := clone(row)
		if err != nil {
			return nil, err
		}
		out[i] = &storage.Record{ID: k, Fields: fields}
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, tbl string, rec storage.Record) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before(OpInsert, tbl, rec.ID); err != nil {
		return nil, err
	}
	t := s.table(tbl)
	id := rec.ID
	if models.IsZeroID(id) {
		t.seq++
		id = t.seq
	}
	k, err := key(id)
	if err != nil {
		return nil, err
	}
	if _, ok := t.rows[k]; ok {
		return nil, &storage.ConflictError{Table: tbl, ID: k}
	}
	fields, err := clone(rec.Fields)
	if err != nil {
		return nil, err
	}
	t.rows[k] = fields
	t.order = append(t.order, k)
	return k, nil
}

func (s *Store) Update(ctx context.Context, tbl string, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before(OpUpdate, tbl, rec.ID); err != nil {
		return err
	}
	k, err := key(rec.ID)
	if err != nil {
		return err
	}
	t, ok := s.tables[tbl]
	if !ok {
		return &storage.NotFoundError{Table: tbl, ID: rec.ID}
	}
	if _, ok := t.rows[k]; !ok {
		return &storage.NotFoundError{Table: tbl, ID: rec.ID}
	}
	fields, err := clone(rec.Fields)
	if err != nil {
		return err
	}
	t.rows[k] = fields
	return nil
}

func (s *Store) Delete(ctx context.Context, tbl string, id any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before(OpDelete, tbl, id); err != nil {
		return err
	}
	k, err := key(id)
	if err != nil {
		return err
	}
	t, ok := s.tables[tbl]
	if !ok {
		return &storage.NotFoundError{Table: tbl, ID: id}
	}
	if _, ok := t.rows[k]; !ok {
		return &storage.NotFoundError{Table: tbl, ID: id}
	}
	delete(t.rows, k)
	for i, o := range t.order {
		if o == k {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, tbl string, filter storage.Filter) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before(OpQuery, tbl, nil); err != nil {
		return nil, err
	}
	t, ok := s.tables[tbl]
	if !ok {
		return nil, nil
	}
	all := make([]storage.Record, 0, len(t.order))
	for _, k := range t.order {
		all = append(all, storage.Record{ID: k, Fields: t.rows[k]})
	}
	matched := filter.Apply(all)
	out := make([]storage.Record, len(matched))
	for i, rec := range matched {
		fields, err := clone(rec.Fields)
		if err != nil {
			return nil, err
		}
		out[i] = storage.Record{ID: rec.ID, Fields: fields}
	}
	return out, nil
}
