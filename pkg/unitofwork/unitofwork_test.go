package unitofwork

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/mapping"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/persistent"
	"github.com/surrealdb/surrealodm/pkg/storage"
	"github.com/surrealdb/surrealodm/pkg/storage/memory"
)

type author struct {
	ID    any
	Name  string
	Books *persistent.Collection[*book]
	Best  *persistent.Reference[*book]
	Notes *persistent.Collection[*note]
}

func (a *author) DocumentID() any      { return a.ID }
func (a *author) SetDocumentID(id any) { a.ID = id }

type book struct {
	ID    any
	Title string
}

func (b *book) DocumentID() any      { return b.ID }
func (b *book) SetDocumentID(id any) { b.ID = id }

type note struct {
	ID   any
	Text string
}

func (n *note) DocumentID() any      { return n.ID }
func (n *note) SetDocumentID(id any) { n.ID = id }

type node struct {
	ID     any
	Name   string
	Parent *persistent.Reference[*node]
}

func (n *node) DocumentID() any      { return n.ID }
func (n *node) SetDocumentID(id any) { n.ID = id }

func testRegistry(t *testing.T) *mapping.Registry {
	t.Helper()
	authors := mapping.Define("authors", func() *author { return &author{} },
		mapping.WithFields(
			mapping.FieldOf("name", func(a *author) *string { return &a.Name }),
		),
		mapping.WithReferences(
			mapping.ReferenceMany("books", "books", func(a *author) **persistent.Collection[*book] { return &a.Books },
				mapping.StoredAs(mapping.StoreAsRef), mapping.Cascading(mapping.CascadeAll)),
			mapping.ReferenceOne("best", "books", func(a *author) **persistent.Reference[*book] { return &a.Best }),
			mapping.ReferenceMany("notes", "notes", func(a *author) **persistent.Collection[*note] { return &a.Notes },
				mapping.StoredAs(mapping.StoreAsEmbedded)),
		),
	)
	books := mapping.Define("books", func() *book { return &book{} },
		mapping.WithIDStrategy(mapping.IDAssigned),
		mapping.WithFields(mapping.FieldOf("title", func(b *book) *string { return &b.Title })),
	)
	notes := mapping.Define("notes", func() *note { return &note{} },
		mapping.WithFields(mapping.FieldOf("text", func(n *note) *string { return &n.Text })),
	)
	nodes := mapping.Define("nodes", func() *node { return &node{} },
		mapping.WithIDStrategy(mapping.IDStore),
		mapping.WithFields(mapping.FieldOf("name", func(n *node) *string { return &n.Name })),
		mapping.WithReferences(
			mapping.ReferenceOne("parent", "nodes", func(n *node) **persistent.Reference[*node] { return &n.Parent },
				mapping.StoredAs(mapping.StoreAsRecordID), mapping.Cascading(mapping.CascadePersist)),
		),
	)
	r, err := mapping.NewRegistry(authors, books, notes, nodes)
	require.NoError(t, err)
	require.NoError(t, r.Validate())
	return r
}

type recordingObserver struct {
	ops      []OpKind
	loaded   int
	dangling []models.RecordID
	flushes  []Stats
}

func (o *recordingObserver) OperationExecuted(kind OpKind, _ string, err error) {
	if err == nil {
		o.ops = append(o.ops, kind)
	}
}

func (o *recordingObserver) DocumentsLoaded(_ string, n int) { o.loaded += n }

func (o *recordingObserver) DanglingReference(ref models.RecordID) {
	o.dangling = append(o.dangling, ref)
}

func (o *recordingObserver) FlushCompleted(stats Stats, _ time.Duration, err error) {
	if err == nil {
		o.flushes = append(o.flushes, stats)
	}
}

func seed(t *testing.T, store *memory.Store, table string, id any, fields map[string]any) {
	t.Helper()
	_, err := store.Insert(context.Background(), table, storage.Record{ID: id, Fields: fields})
	require.NoError(t, err)
}

func TestUnitOfWork_persistFlushClearFind(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	obs := &recordingObserver{}
	uow := New(store, testRegistry(t), WithObserver(obs))

	b := &book{ID: "b1", Title: "Dune"}
	a := &author{Name: "Frank", Books: persistent.NewCollection(b)}
	require.NoError(t, uow.Persist(a))
	assert.IsType(t, "", a.ID)
	assert.True(t, uow.Contains(b), "cascade persist reaches the book")
	assert.Equal(t, StateNew, uow.State(a))

	require.NoError(t, uow.Flush(ctx))
	assert.Equal(t, 1, store.Len("authors"))
	assert.Equal(t, 1, store.Len("books"))
	assert.Equal(t, StateManaged, uow.State(a))
	assert.False(t, a.Books.IsDirty())
	require.Len(t, obs.flushes, 1)
	assert.Equal(t, Stats{Inserts: 2}, obs.flushes[0])

	rec, err := store.LoadByID(ctx, "authors", a.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": "b1"}}, rec.Fields["books"])

	uow.Clear()
	assert.Zero(t, uow.IdentityMap().Len())
	assert.Equal(t, StateDetached, uow.State(a))

	store.ResetCalls()
	doc, err := uow.Find(ctx, "authors", a.ID)
	require.NoError(t, err)
	reloaded := doc.(*author)
	assert.NotSame(t, a, reloaded)
	assert.Equal(t, "Frank", reloaded.Name)
	assert.False(t, reloaded.Books.IsInitialized())

	for range 2 {
		books, err := reloaded.Books.All(ctx)
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, "Dune", books[0].Title)
	}
	assert.Equal(t, 1, store.Calls(memory.OpLoadByIDs))

	again, err := uow.Find(ctx, "authors", a.ID)
	require.NoError(t, err)
	assert.Same(t, reloaded, again)
	assert.Equal(t, 1, store.Calls(memory.OpLoadByID))
}

func TestUnitOfWork_updatesOnlyChangedDocuments(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "authors", "a1", map[string]any{"name": "Frank", "books": []any{map[string]any{"id": "b1"}}})
	seed(t, store, "books", "b1", map[string]any{"title": "Dune"})
	uow := New(store, testRegistry(t))

	doc, err := uow.Find(ctx, "authors", "a1")
	require.NoError(t, err)
	a := doc.(*author)
	_, err = a.Books.All(ctx)
	require.NoError(t, err)

	require.NoError(t, uow.Flush(ctx))
	assert.Zero(t, store.Calls(memory.OpUpdate))

	a.Name = "Brian"
	changes, err := uow.ChangeSet(a)
	require.NoError(t, err)
	assert.Equal(t, map[string]Change{"name": {Old: "Frank", New: "Brian"}}, changes)

	require.NoError(t, uow.Flush(ctx))
	assert.Equal(t, 1, store.Calls(memory.OpUpdate))
	rec, err := store.LoadByID(ctx, "authors", "a1")
	require.NoError(t, err)
	assert.Equal(t, "Brian", rec.Fields["name"])

	changes, err = uow.ChangeSet(a)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestUnitOfWork_storeAssignedIDsAreOrdered(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	uow := New(store, testRegistry(t))

	parent := &node{Name: "parent"}
	child := &node{Name: "child", Parent: persistent.NewReference(parent)}
	require.NoError(t, uow.Persist(child))
	assert.Equal(t, []models.Document{child, parent}, uow.ScheduledInserts())

	require.NoError(t, uow.Flush(ctx))
	assert.Equal(t, int64(1), parent.ID)
	assert.Equal(t, int64(2), child.ID)

	rec, err := store.LoadByID(ctx, "nodes", int64(2))
	require.NoError(t, err)
	assert.Equal(t, models.NewRecordID("nodes", 1), rec.Fields["parent"])

	found, err := uow.Find(ctx, "nodes", 1)
	require.NoError(t, err)
	assert.Same(t, parent, found)
}

func TestUnitOfWork_storeAssignedCycle(t *testing.T) {
	store := memory.New()
	uow := New(store, testRegistry(t))

	a := &node{Name: "a"}
	b := &node{Name: "b", Parent: persistent.NewReference(a)}
	a.Parent = persistent.NewReference(b)
	require.NoError(t, uow.Persist(a))

	err := uow.Flush(context.Background())
	require.ErrorIs(t, err, constants.ErrUnresolvedReference)
	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "parent", unresolved.Field)
	assert.Zero(t, store.Len("nodes"))
}

func TestUnitOfWork_unresolvedReference(t *testing.T) {
	uow := New(memory.New(), testRegistry(t))
	a := &author{Name: "Frank", Best: persistent.NewReference(&book{ID: "b9"})}
	require.NoError(t, uow.Persist(a))

	err := uow.Flush(context.Background())
	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "authors", unresolved.Table)
	assert.Equal(t, "best", unresolved.Field)
	assert.Equal(t, []models.Document{a}, uow.ScheduledInserts())
}

func TestUnitOfWork_partialFailureKeepsRemainingScheduled(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	boom := errors.New("boom")
	store.SetFault(func(op memory.Op, _ string, id any) error {
		if op == memory.OpInsert && id == "b2" {
			return boom
		}
		return nil
	})
	uow := New(store, testRegistry(t))

	b1, b2, b3 := &book{ID: "b1"}, &book{ID: "b2"}, &book{ID: "b3"}
	a := &author{Name: "Frank", Books: persistent.NewCollection(b1, b2, b3)}
	require.NoError(t, uow.Persist(a))

	err := uow.Flush(ctx)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.Len("books"))
	assert.Equal(t, StateManaged, uow.State(b1))
	assert.Equal(t, []models.Document{b2, b3, a}, uow.ScheduledInserts())
	assert.True(t, a.Books.IsDirty())

	store.SetFault(nil)
	require.NoError(t, uow.Flush(ctx))
	assert.Equal(t, 3, store.Len("books"))
	assert.Equal(t, 1, store.Len("authors"))
	assert.Empty(t, uow.ScheduledInserts())
	assert.False(t, a.Books.IsDirty())
}

func TestUnitOfWork_removeCascades(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "authors", "a1", map[string]any{"name": "Frank", "books": []any{
		map[string]any{"id": "b1"}, map[string]any{"id": "b2"},
	}})
	seed(t, store, "books", "b1", map[string]any{"title": "Dune"})
	seed(t, store, "books", "b2", map[string]any{"title": "Messiah"})
	uow := New(store, testRegistry(t))

	doc, err := uow.Find(ctx, "authors", "a1")
	require.NoError(t, err)
	require.NoError(t, uow.Remove(ctx, doc))
	assert.Equal(t, StateRemoved, uow.State(doc))
	assert.False(t, uow.Contains(doc))
	assert.Len(t, uow.ScheduledDeletes(), 3)

	require.NoError(t, uow.Flush(ctx))
	assert.Zero(t, store.Len("authors"))
	assert.Zero(t, store.Len("books"))
	assert.Zero(t, uow.Size())
	assert.Zero(t, uow.IdentityMap().Len())
	assert.Equal(t, StateRemoved, uow.State(doc))
}

func TestUnitOfWork_removeNewDocumentUnschedules(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	uow := New(store, testRegistry(t))

	a := &author{Name: "Frank"}
	require.NoError(t, uow.Persist(a))
	require.NoError(t, uow.Remove(ctx, a))
	assert.Empty(t, uow.ScheduledInserts())
	assert.False(t, uow.Contains(a))

	require.NoError(t, uow.Flush(ctx))
	assert.Zero(t, store.Len("authors"))
}

func TestUnitOfWork_persistCancelsRemoval(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "books", "b1", map[string]any{"title": "Dune"})
	uow := New(store, testRegistry(t))

	doc, err := uow.Find(ctx, "books", "b1")
	require.NoError(t, err)
	require.NoError(t, uow.Remove(ctx, doc))
	require.NoError(t, uow.Persist(doc))
	assert.Equal(t, StateManaged, uow.State(doc))

	require.NoError(t, uow.Flush(ctx))
	assert.Equal(t, 1, store.Len("books"))
}

func TestUnitOfWork_orphansAreDeleted(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "authors", "a1", map[string]any{"name": "Frank", "books": []any{
		map[string]any{"id": "b1"}, map[string]any{"id": "b2"},
	}})
	seed(t, store, "books", "b1", map[string]any{"title": "Dune"})
	seed(t, store, "books", "b2", map[string]any{"title": "Messiah"})
	uow := New(store, testRegistry(t))

	doc, err := uow.Find(ctx, "authors", "a1")
	require.NoError(t, err)
	a := doc.(*author)
	first, err := a.Books.RemoveAt(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "b1", first.ID)

	require.NoError(t, uow.Flush(ctx))
	assert.Equal(t, 1, store.Len("books"))
	assert.Equal(t, StateRemoved, uow.State(first))
	rec, err := store.LoadByID(ctx, "authors", "a1")
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": "b2"}}, rec.Fields["books"])
}

func TestUnitOfWork_orphanMovedToAnotherOwnerIsKept(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "authors", "a1", map[string]any{"name": "Frank", "books": []any{map[string]any{"id": "b1"}}})
	seed(t, store, "authors", "a2", map[string]any{"name": "Brian", "books": []any{}})
	seed(t, store, "books", "b1", map[string]any{"title": "Dune"})
	uow := New(store, testRegistry(t))

	doc, err := uow.Find(ctx, "authors", "a1")
	require.NoError(t, err)
	a1 := doc.(*author)
	doc, err = uow.Find(ctx, "authors", "a2")
	require.NoError(t, err)
	a2 := doc.(*author)

	moved, err := a1.Books.RemoveAt(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, a2.Books.Add(ctx, moved))
	require.NoError(t, uow.Flush(ctx))

	assert.Equal(t, 1, store.Len("books"))
	assert.Equal(t, StateManaged, uow.State(moved))
	rec, err := store.LoadByID(ctx, "authors", "a1")
	require.NoError(t, err)
	assert.Empty(t, rec.Fields["books"])
	rec, err = store.LoadByID(ctx, "authors", "a2")
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": "b1"}}, rec.Fields["books"])

	uow.Clear()
	doc, err = uow.Find(ctx, "authors", "a2")
	require.NoError(t, err)
	books, err := doc.(*author).Books.All(ctx)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)
}

func TestUnitOfWork_orphanHeldByUnloadedReferenceIsKept(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "authors", "a1", map[string]any{"name": "Frank", "books": []any{map[string]any{"id": "b1"}}})
	seed(t, store, "authors", "a2", map[string]any{"name": "Brian", "books": []any{map[string]any{"id": "b1"}}})
	seed(t, store, "books", "b1", map[string]any{"title": "Dune"})
	uow := New(store, testRegistry(t))

	doc, err := uow.Find(ctx, "authors", "a1")
	require.NoError(t, err)
	a1 := doc.(*author)
	doc, err = uow.Find(ctx, "authors", "a2")
	require.NoError(t, err)
	require.False(t, doc.(*author).Books.IsInitialized())

	shared, err := a1.Books.RemoveAt(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, uow.Flush(ctx))

	assert.Equal(t, 1, store.Len("books"))
	assert.Equal(t, StateManaged, uow.State(shared))
	assert.False(t, doc.(*author).Books.IsInitialized())
}

func TestUnitOfWork_deleteOfMissingDocumentIsTolerated(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "books", "b1", map[string]any{"title": "Dune"})
	uow := New(store, testRegistry(t))

	doc, err := uow.Find(ctx, "books", "b1")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "books", "b1"))
	require.NoError(t, uow.Remove(ctx, doc))
	require.NoError(t, uow.Flush(ctx))
	assert.Empty(t, uow.ScheduledDeletes())
}

func TestUnitOfWork_danglingReferences(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "authors", "a1", map[string]any{"name": "Frank", "books": []any{
		map[string]any{"id": "b1"}, map[string]any{"id": "b99"},
	}})
	seed(t, store, "books", "b1", map[string]any{"title": "Dune"})

	t.Run("abort", func(t *testing.T) {
		uow := New(store, testRegistry(t))
		doc, err := uow.Find(ctx, "authors", "a1")
		require.NoError(t, err)

		_, err = doc.(*author).Books.All(ctx)
		require.ErrorIs(t, err, constants.ErrDanglingReference)
		var dangling *persistent.DanglingReferenceError
		require.ErrorAs(t, err, &dangling)
		assert.Equal(t, models.NewRecordID("books", "b99"), dangling.Ref)
	})

	t.Run("skip", func(t *testing.T) {
		obs := &recordingObserver{}
		uow := New(store, testRegistry(t), WithDanglingPolicy(persistent.DanglingSkip), WithObserver(obs))
		doc, err := uow.Find(ctx, "authors", "a1")
		require.NoError(t, err)
		a := doc.(*author)

		books, err := a.Books.All(ctx)
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.True(t, a.Books.IsDirty())
		assert.Equal(t, []models.RecordID{models.NewRecordID("books", "b99")}, obs.dangling)

		require.NoError(t, uow.Flush(ctx))
		rec, err := store.LoadByID(ctx, "authors", "a1")
		require.NoError(t, err)
		assert.Equal(t, []any{map[string]any{"id": "b1"}}, rec.Fields["books"])
	})
}

func TestUnitOfWork_embeddedDocuments(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	uow := New(store, testRegistry(t))

	a := &author{Name: "Frank", Notes: persistent.NewCollection(&note{Text: "hi"})}
	require.NoError(t, uow.Persist(a))
	require.NoError(t, uow.Flush(ctx))
	assert.Zero(t, store.Len("notes"))

	rec, err := store.LoadByID(ctx, "authors", a.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"text": "hi"}}, rec.Fields["notes"])

	uow.Clear()
	store.ResetCalls()
	doc, err := uow.Find(ctx, "authors", a.ID)
	require.NoError(t, err)
	notes, err := doc.(*author).Notes.All(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "hi", notes[0].Text)
	assert.Zero(t, store.Calls(memory.OpLoadByIDs))
}

func TestUnitOfWork_identity(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "books", "b1", map[string]any{"title": "Dune"})
	uow := New(store, testRegistry(t))

	doc, err := uow.Find(ctx, "books", "b1")
	require.NoError(t, err)
	require.ErrorIs(t, uow.Persist(&book{ID: "b1"}), constants.ErrConflictingIdentity)
	require.ErrorIs(t, uow.Persist(&book{}), constants.ErrMissingID)

	uow.Detach(doc)
	assert.Equal(t, StateDetached, uow.State(doc))
	require.ErrorIs(t, uow.Persist(doc), constants.ErrDetachedDocument)

	_, err = uow.Find(ctx, "books", "nope")
	require.ErrorIs(t, err, constants.ErrNotFound)
	_, err = uow.Find(ctx, "pears", "b1")
	require.ErrorIs(t, err, constants.ErrUnknownDocumentType)
}

func TestUnitOfWork_defaultsSurviveReload(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "authors", "a1", map[string]any{})
	registry := testRegistry(t)
	uow := New(store, registry)

	doc, err := uow.Find(ctx, "authors", "a1")
	require.NoError(t, err)
	a := doc.(*author)
	assert.Empty(t, a.Name)
	n, err := a.Books.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok, err := a.Best.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

type shelf struct {
	ID   any
	Best *persistent.Reference[*book]
}

func (s *shelf) DocumentID() any      { return s.ID }
func (s *shelf) SetDocumentID(id any) { s.ID = id }

func TestUnitOfWork_mistypedReferenceKeepsStoredValue(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "shelves", "s1", map[string]any{"best": "n1"})
	seed(t, store, "notes", "n1", map[string]any{"text": "hi"})

	// best is declared against notes, a table that does not hold books
	shelves := mapping.Define("shelves", func() *shelf { return &shelf{} },
		mapping.WithReferences(
			mapping.ReferenceOne("best", "notes", func(s *shelf) **persistent.Reference[*book] { return &s.Best }),
		),
	)
	notes := mapping.Define("notes", func() *note { return &note{} },
		mapping.WithFields(mapping.FieldOf("text", func(n *note) *string { return &n.Text })),
	)
	registry, err := mapping.NewRegistry(shelves, notes)
	require.NoError(t, err)
	require.Error(t, registry.Validate())
	uow := New(store, registry)

	doc, err := uow.Find(ctx, "shelves", "s1")
	require.NoError(t, err)
	s := doc.(*shelf)
	for range 2 {
		_, _, err = s.Best.Get(ctx)
		require.ErrorContains(t, err, "resolved to *unitofwork.note")
	}

	require.NoError(t, uow.Flush(ctx))
	rec, err := store.LoadByID(ctx, "shelves", "s1")
	require.NoError(t, err)
	assert.Equal(t, "n1", rec.Fields["best"])
}
