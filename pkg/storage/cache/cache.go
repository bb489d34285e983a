// Package cache wraps a storage backend with an LRU read-through cache for
// single-document loads. Writes go straight to the backend and evict the
// cached copy.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tiendc/go-deepcopy"

	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

type key struct {
	table string
	id    any
}

func keyOf(table string, id any) (key, bool) {
	id = models.NormalizeID(id)
	return key{table: table, id: id}, models.IsComparableID(id)
}

// Store is a storage.Storage that serves LoadByID and LoadByIDs from memory
// when it can.
type Store struct {
	storage.Storage

	lru    *lru.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

var _ storage.Storage = (*Store)(nil)

func New(inner storage.Storage, size int) (*Store, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Store{Storage: inner, lru: c}, nil
}

// Unwrap returns the wrapped backend.
func (s *Store) Unwrap() storage.Storage {
	return s.Storage
}

func (s *Store) Hits() int64   { return s.hits.Load() }
func (s *Store) Misses() int64 { return s.misses.Load() }

// Purge drops every cached record.
func (s *Store) Purge() {
	s.lru.Purge()
}

func (s *Store) get(k key) (*storage.Record, bool) {
	v, ok := s.lru.Get(k)
	if !ok {
		return nil, false
	}
	rec, err := copyRecord(v.(storage.Record))
	if err != nil {
		s.lru.Remove(k)
		return nil, false
	}
	return &rec, true
}

func (s *Store) put(table string, rec storage.Record) {
	k, ok := keyOf(table, rec.ID)
	if !ok {
		return
	}
	cp, err := copyRecord(rec)
	if err != nil {
		return
	}
	s.lru.Add(k, cp)
}

func copyRecord(rec storage.Record) (storage.Record, error) {
	var fields map[string]any
	if err := deepcopy.Copy(&fields, rec.Fields); err != nil {
		return storage.Record{}, err
	}
	return storage.Record{ID: rec.ID, Fields: fields}, nil
}

func (s *Store) LoadByID(ctx context.Context, table string, id any) (storage.Record, error) {
	if k, ok := keyOf(table, id); ok {
		if rec, ok := s.get(k); ok {
			s.hits.Add(1)
			return *rec, nil
		}
	}
	s.misses.Add(1)
	rec, err := s.Storage.LoadByID(ctx, table, id)
	if err != nil {
		return rec, err
	}
	s.put(table, rec)
	return rec, nil
}

// LoadByIDs answers cached ids locally and fetches the rest in one backend
// call.
func (s *Store) LoadByIDs(ctx context.Context, table string, ids []any) ([]*storage.Record, error) {
	out := make([]*storage.Record, len(ids))
	var missing []any
	var slots []int
	for i, id := range ids {
		if k, ok := keyOf(table, id); ok {
			if rec, ok := s.get(k); ok {
				s.hits.Add(1)
				out[i] = rec
				continue
			}
		}
		s.misses.Add(1)
		missing = append(missing, id)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	recs, err := s.Storage.LoadByIDs(ctx, table, missing)
	if err != nil {
		return nil, err
	}
	if len(recs) != len(missing) {
		return nil, fmt.Errorf("cache: %s: storage returned %d records for %d ids", table, len(recs), len(missing))
	}
	for j, rec := range recs {
		if rec == nil {
			continue
		}
		s.put(table, *rec)
		out[slots[j]] = rec
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, table string, rec storage.Record) (any, error) {
	id, err := s.Storage.Insert(ctx, table, rec)
	if err != nil {
		return nil, err
	}
	s.evict(table, id)
	return id, nil
}

func (s *Store) Update(ctx context.Context, table string, rec storage.Record) error {
	s.evict(table, rec.ID)
	return s.Storage.Update(ctx, table, rec)
}

func (s *Store) Delete(ctx context.Context, table string, id any) error {
	s.evict(table, id)
	return s.Storage.Delete(ctx, table, id)
}

func (s *Store) evict(table string, id any) {
	if k, ok := keyOf(table, id); ok {
		s.lru.Remove(k)
	}
}
