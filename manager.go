package surrealodm

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/surrealdb/surrealodm/pkg/logger"
	"github.com/surrealdb/surrealodm/pkg/mapping"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/storage"
	"github.com/surrealdb/surrealodm/pkg/unitofwork"
)

// DocumentManager wraps one unit of work: documents are
// persisted, removed and found through it and written on Flush.
type DocumentManager struct {
	storage  storage.Storage
	registry *mapping.Registry
	logger   logger.Logger
	uow      *unitofwork.UnitOfWork

	closers []func() error
}

func New(cfg Config) (*DocumentManager, error) {
	if cfg.Storage == nil {
		return nil, errors.New("surrealodm: storage is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("surrealodm: registry is required")
	}
	if err := cfg.Registry.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	uow := unitofwork.New(cfg.Storage, cfg.Registry,
		unitofwork.WithLogger(log),
		unitofwork.WithObserver(cfg.Observer),
		unitofwork.WithDanglingPolicy(cfg.DanglingPolicy),
	)
	return &DocumentManager{
		storage:  cfg.Storage,
		registry: cfg.Registry,
		logger:   log,
		uow:      uow,
	}, nil
}

// Persist schedules doc for insert on the next Flush, along with the
// documents it reaches through persist cascades.
func (dm *DocumentManager) Persist(doc models.Document) error {
	return dm.uow.Persist(doc)
}

// Remove schedules doc for delete on the next Flush.
func (dm *DocumentManager) Remove(ctx context.Context, doc models.Document) error {
	return dm.uow.Remove(ctx, doc)
}

func (dm *DocumentManager) Flush(ctx context.Context) error {
	return dm.uow.Flush(ctx)
}

// Clear detaches every managed document. Documents found afterwards are new
// instances.
func (dm *DocumentManager) Clear() {
	dm.uow.Clear()
}

func (dm *DocumentManager) Detach(doc models.Document) {
	dm.uow.Detach(doc)
}

func (dm *DocumentManager) Contains(doc models.Document) bool {
	return dm.uow.Contains(doc)
}

func (dm *DocumentManager) State(doc models.Document) unitofwork.State {
	return dm.uow.State(doc)
}

// ChangeSet returns the fields of a managed document that differ from its
// stored form.
func (dm *DocumentManager) ChangeSet(doc models.Document) (map[string]unitofwork.Change, error) {
	return dm.uow.ChangeSet(doc)
}

// Find returns the managed document stored under (table, id). A missing
// document yields an error matching ErrNotFound.
func (dm *DocumentManager) Find(ctx context.Context, table string, id any) (models.Document, error) {
	return dm.uow.Find(ctx, table, id)
}

// CreateQuery starts a query over the documents of table.
func (dm *DocumentManager) CreateQuery(table string) *Query {
	q := &Query{dm: dm}
	q.meta, q.err = dm.registry.MetadataForTable(table)
	return q
}

func (dm *DocumentManager) UnitOfWork() *unitofwork.UnitOfWork {
	return dm.uow
}

func (dm *DocumentManager) Registry() *mapping.Registry {
	return dm.registry
}

func (dm *DocumentManager) Storage() storage.Storage {
	return dm.storage
}

// Close releases the storage backend and, for managers built by Open, the
// log file. Pending changes are not flushed.
func (dm *DocumentManager) Close() error {
	errs := []error{closeStorage(dm.storage)}
	for _, c := range dm.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Find is DocumentManager.Find for the table mapped to T.
func Find[T models.Document](ctx context.Context, dm *DocumentManager, id any) (T, error) {
	var zero T
	meta, err := dm.registry.MetadataForType(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	doc, err := dm.Find(ctx, meta.Table, id)
	if err != nil {
		return zero, err
	}
	return as[T](meta.Table, doc)
}

func as[T models.Document](table string, doc models.Document) (T, error) {
	v, ok := doc.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: document is %T, not %T", table, doc, zero)
	}
	return v, nil
}
