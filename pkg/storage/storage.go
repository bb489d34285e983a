// Package storage defines the document storage collaborator the unit of work
// writes through, and the filter type used by queries.
//
// Backends live in sub-packages:
//
//   - [github.com/surrealdb/surrealodm/pkg/storage/memory]: in-process maps, for tests and tools
//   - [github.com/surrealdb/surrealodm/pkg/storage/sqlitestore]: a single SQLite file
//   - [github.com/surrealdb/surrealodm/pkg/storage/gormstore]: PostgreSQL through GORM
//   - [github.com/surrealdb/surrealodm/pkg/storage/surrealstore]: SurrealDB over RPC
//
// [github.com/surrealdb/surrealodm/pkg/storage/cache] wraps any of them with
// an LRU read-through cache.
//
// Every backend is safe for concurrent use. Errors are reported with the
// sentinels in [github.com/surrealdb/surrealodm/pkg/constants]: a missing
// document is constants.ErrNotFound, a rejected write is constants.ErrConflict.
package storage

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/models"
)

// Record is the stored form of one document: its id plus a map of field
// values. Field values are plain data (scalars, maps, slices, record ids).
type Record struct {
	ID     any
	Fields map[string]any
}

type Storage interface {
	// LoadByID returns constants.ErrNotFound when no document has id.
	LoadByID(ctx context.Context, table string, id any) (Record, error)
	// LoadByIDs returns a slice aligned with ids; missing documents are nil.
	LoadByIDs(ctx context.Context, table string, ids []any) ([]*Record, error)
	// Insert stores rec and returns its id, assigning one when rec.ID is zero.
	Insert(ctx context.Context, table string, rec Record) (any, error)
	Update(ctx context.Context, table string, rec Record) error
	Delete(ctx context.Context, table string, id any) error
	Query(ctx context.Context, table string, filter Filter) ([]Record, error)
}

// Closer is implemented by backends holding external resources.
type Closer interface {
	Close() error
}

// NotFoundError names the missing document.
type NotFoundError struct {
	Table string
	ID    any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", constants.ErrNotFound, models.RecordID{Table: e.Table, ID: e.ID})
}

func (e *NotFoundError) Unwrap() error {
	return constants.ErrNotFound
}

// ConflictError is returned when a write collides with an existing document.
type ConflictError struct {
	Table string
	ID    any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", constants.ErrConflict, models.RecordID{Table: e.Table, ID: e.ID})
}

func (e *ConflictError) Unwrap() error {
	return constants.ErrConflict
}

// Clone returns a copy of rec whose field map can be modified freely. Nested
// values are shared.
func (rec Record) Clone() Record {
	fields := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = v
	}
	return Record{ID: rec.ID, Fields: fields}
}
