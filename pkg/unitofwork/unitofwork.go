// Package unitofwork tracks the documents of one session and reconciles them
// with storage on Flush.
//
// A document is new until it is persisted and flushed, managed while the unit
// of work tracks it, removed once its delete is scheduled, and detached after
// Detach or Clear. Inserts are scheduled explicitly by Persist and through
// persist cascades; updates are found at flush time by comparing a
// fingerprint of the serialized document with the one taken when it was last
// loaded or written.
//
// A UnitOfWork is not safe for concurrent use.
package unitofwork

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/identity"
	"github.com/surrealdb/surrealodm/pkg/logger"
	"github.com/surrealdb/surrealodm/pkg/mapping"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/persistent"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

// State is the lifecycle state of a document relative to a unit of work.
type State int

const (
	StateNew State = iota
	StateManaged
	StateRemoved
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateManaged:
		return "managed"
	case StateRemoved:
		return "removed"
	case StateDetached:
		return "detached"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type entry struct {
	doc  models.Document
	meta *mapping.ClassMetadata

	state State
	// deleted is set once the delete of a removed document was written.
	deleted bool

	// last persisted form, nil until inserted
	original    map[string]any
	fingerprint uint64
}

type UnitOfWork struct {
	storage  storage.Storage
	registry *mapping.Registry
	identity *identity.Map
	logger   logger.Logger
	observer Observer
	policy   persistent.DanglingPolicy
	loader   *loader

	entries  map[models.Document]*entry
	order    []*entry
	detached map[models.Document]struct{}

	inserts []*entry
	deletes []*entry
}

type Option func(*UnitOfWork)

func WithLogger(l logger.Logger) Option {
	return func(u *UnitOfWork) {
		if l != nil {
			u.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(u *UnitOfWork) {
		if o != nil {
			u.observer = o
		}
	}
}

// WithDanglingPolicy sets what hydration does with references to documents
// that no longer exist. The default is persistent.DanglingAbort.
func WithDanglingPolicy(p persistent.DanglingPolicy) Option {
	return func(u *UnitOfWork) { u.policy = p }
}

func New(store storage.Storage, registry *mapping.Registry, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		storage:  store,
		registry: registry,
		identity: identity.New(),
		logger:   logger.Nop(),
		observer: nopObserver{},
		entries:  make(map[models.Document]*entry),
		detached: make(map[models.Document]struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.loader = &loader{uow: u}
	return u
}

// Loader returns the loader bound to lazily loaded references of documents
// hydrated by this unit of work.
func (u *UnitOfWork) Loader() persistent.Loader {
	return u.loader
}

func (u *UnitOfWork) IdentityMap() *identity.Map {
	return u.identity
}

func (u *UnitOfWork) Registry() *mapping.Registry {
	return u.registry
}

// Persist makes doc managed and schedules its insert when it is new. It
// cascades over hydrated references declared with CascadePersist. Persisting
// a removed document cancels the removal.
func (u *UnitOfWork) Persist(doc models.Document) error {
	return u.persist(doc, make(map[models.Document]struct{}))
}

func (u *UnitOfWork) persist(doc models.Document, visited map[models.Document]struct{}) error {
	if _, ok := visited[doc]; ok {
		return nil
	}
	visited[doc] = struct{}{}

	if _, ok := u.detached[doc]; ok {
		return fmt.Errorf("persist: %w", constants.ErrDetachedDocument)
	}

	e, ok := u.entries[doc]
	switch {
	case !ok:
		var err error
		if e, err = u.scheduleInsert(doc); err != nil {
			return err
		}
	case e.state == StateRemoved && e.deleted:
		// written as deleted already; it comes back as a fresh insert
		u.forgetEntry(e)
		var err error
		if e, err = u.scheduleInsert(doc); err != nil {
			return err
		}
	case e.state == StateRemoved:
		e.state = StateManaged
		u.deletes = without(u.deletes, e)
	}

	return u.cascade(e, mapping.CascadePersist, func(target models.Document) error {
		return u.persist(target, visited)
	})
}

func (u *UnitOfWork) scheduleInsert(doc models.Document) (*entry, error) {
	meta, err := u.registry.MetadataFor(doc)
	if err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	if err := assignID(meta, doc); err != nil {
		return nil, err
	}
	if id := doc.DocumentID(); !models.IsZeroID(id) {
		if err := u.identity.Register(meta.Table, id, doc); err != nil {
			return nil, err
		}
	}
	e := &entry{doc: doc, meta: meta, state: StateNew}
	u.track(e)
	u.inserts = append(u.inserts, e)
	return e, nil
}

func assignID(meta *mapping.ClassMetadata, doc models.Document) error {
	if !models.IsZeroID(doc.DocumentID()) {
		return nil
	}
	switch meta.IDStrategy {
	case mapping.IDAuto:
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("persist %s: generate id: %w", meta.Table, err)
		}
		doc.SetDocumentID(id.String())
	case mapping.IDAssigned:
		return fmt.Errorf("persist %s: %w", meta.Table, constants.ErrMissingID)
	}
	return nil
}

// Remove schedules the delete of a managed document and cascades over
// references declared with CascadeRemove, hydrating them when needed. A
// document that is scheduled for insert is simply unscheduled.
func (u *UnitOfWork) Remove(ctx context.Context, doc models.Document) error {
	return u.remove(ctx, doc, make(map[models.Document]struct{}))
}

func (u *UnitOfWork) remove(ctx context.Context, doc models.Document, visited map[models.Document]struct{}) error {
	if _, ok := visited[doc]; ok {
		return nil
	}
	visited[doc] = struct{}{}

	if _, ok := u.detached[doc]; ok {
		return fmt.Errorf("remove: %w", constants.ErrDetachedDocument)
	}
	e, ok := u.entries[doc]
	if !ok {
		return nil
	}

	if err := u.cascadeLoaded(ctx, e, mapping.CascadeRemove, func(target models.Document) error {
		return u.remove(ctx, target, visited)
	}); err != nil {
		return err
	}

	switch e.state {
	case StateNew:
		u.inserts = without(u.inserts, e)
		u.forgetEntry(e)
	case StateManaged:
		e.state = StateRemoved
		u.deletes = append(u.deletes, e)
	}
	return nil
}

// Detach stops tracking doc, and the documents reachable through references
// declared with CascadeDetach. Scheduled writes for them are dropped.
func (u *UnitOfWork) Detach(doc models.Document) {
	u.detach(doc, make(map[models.Document]struct{}))
}

func (u *UnitOfWork) detach(doc models.Document, visited map[models.Document]struct{}) {
	if _, ok := visited[doc]; ok {
		return
	}
	visited[doc] = struct{}{}

	e, ok := u.entries[doc]
	if !ok {
		return
	}
	_ = u.cascade(e, mapping.CascadeDetach, func(target models.Document) error {
		u.detach(target, visited)
		return nil
	})
	u.inserts = without(u.inserts, e)
	u.deletes = without(u.deletes, e)
	u.forgetEntry(e)
	u.detached[doc] = struct{}{}
}

// Clear detaches every document and empties the identity map.
func (u *UnitOfWork) Clear() {
	for _, e := range u.order {
		u.detached[e.doc] = struct{}{}
	}
	for doc := range u.entries {
		u.detached[doc] = struct{}{}
	}
	u.identity.Clear()
	u.entries = make(map[models.Document]*entry)
	u.order = nil
	u.inserts = nil
	u.deletes = nil
}

// Contains reports whether doc is new-and-scheduled or managed, and not
// scheduled for removal.
func (u *UnitOfWork) Contains(doc models.Document) bool {
	e, ok := u.entries[doc]
	return ok && (e.state == StateNew || e.state == StateManaged)
}

func (u *UnitOfWork) State(doc models.Document) State {
	if e, ok := u.entries[doc]; ok {
		return e.state
	}
	if _, ok := u.detached[doc]; ok {
		return StateDetached
	}
	return StateNew
}

// Size is the number of tracked documents that are not yet written as
// deleted.
func (u *UnitOfWork) Size() int {
	n := 0
	for _, e := range u.order {
		if !e.deleted {
			n++
		}
	}
	return n
}

// ScheduledInserts returns the documents waiting for their insert, in
// persist order.
func (u *UnitOfWork) ScheduledInserts() []models.Document {
	return documents(u.inserts)
}

func (u *UnitOfWork) ScheduledDeletes() []models.Document {
	return documents(u.deletes)
}

func (u *UnitOfWork) track(e *entry) {
	u.entries[e.doc] = e
	u.order = append(u.order, e)
}

func (u *UnitOfWork) forgetEntry(e *entry) {
	delete(u.entries, e.doc)
	u.order = without(u.order, e)
	u.identity.ForgetDocument(e.doc)
}

// cascade calls fn for every loaded document referenced by e through a
// reference declaring op. Unloaded references and embedded documents are
// skipped.
func (u *UnitOfWork) cascade(e *entry, op mapping.Cascade, fn func(models.Document) error) error {
	for _, def := range e.meta.References {
		if !def.Cascade.Has(op) || def.StoreAs == mapping.StoreAsEmbedded {
			continue
		}
		for _, target := range def.Documents(e.doc) {
			if err := fn(target); err != nil {
				return err
			}
		}
	}
	return nil
}

// cascadeLoaded is cascade after hydrating the references involved.
func (u *UnitOfWork) cascadeLoaded(ctx context.Context, e *entry, op mapping.Cascade, fn func(models.Document) error) error {
	for _, def := range e.meta.References {
		if !def.Cascade.Has(op) || def.StoreAs == mapping.StoreAsEmbedded {
			continue
		}
		var err error
		if def.Cardinality == mapping.Many {
			err = def.Many(e.doc).Initialize(ctx)
		} else {
			err = def.One(e.doc).Initialize(ctx)
		}
		if err != nil {
			return fmt.Errorf("cascade %s on %s.%s: %w", op, e.meta.Table, def.Field, err)
		}
	}
	return u.cascade(e, op, fn)
}

func without(list []*entry, e *entry) []*entry {
	for i, item := range list {
		if item == e {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func documents(list []*entry) []models.Document {
	out := make([]models.Document, len(list))
	for i, e := range list {
		out[i] = e.doc
	}
	return out
}
