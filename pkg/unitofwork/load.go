package unitofwork

import (
	"context"
	"errors"
	"fmt"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/mapping"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/persistent"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

// Find returns the managed instance of (table, id), loading it when the
// identity map does not hold it. A missing document yields an error matching
// constants.ErrNotFound.
func (u *UnitOfWork) Find(ctx context.Context, table string, id any) (models.Document, error) {
	if _, err := u.registry.MetadataForTable(table); err != nil {
		return nil, err
	}
	if !models.IsComparableID(id) {
		return nil, fmt.Errorf("find %s: %w: %T", table, constants.ErrNotComparableID, id)
	}
	if doc, ok := u.identity.Lookup(table, id); ok {
		return doc, nil
	}

	rec, err := u.storage.LoadByID(ctx, table, models.NormalizeID(id))
	if err != nil {
		if !errors.Is(err, constants.ErrNotFound) {
			u.logger.Error("load failed", "table", table, "id", id, "error", err)
		}
		return nil, err
	}
	u.observer.DocumentsLoaded(table, 1)
	return u.Hydrate(table, rec)
}

// Hydrate turns a stored record into a managed document. When the identity
// map already holds the document, that instance is returned untouched.
//
// The instance comes from the class factory, so constructor defaults stay in
// place for fields the record does not carry. References are bound unloaded.
func (u *UnitOfWork) Hydrate(table string, rec storage.Record) (models.Document, error) {
	meta, err := u.registry.MetadataForTable(table)
	if err != nil {
		return nil, err
	}
	if doc, ok := u.identity.Lookup(table, rec.ID); ok {
		return doc, nil
	}

	doc, err := u.build(meta, rec.Fields)
	if err != nil {
		return nil, err
	}
	doc.SetDocumentID(models.NormalizeID(rec.ID))
	if err := u.identity.Register(table, rec.ID, doc); err != nil {
		return nil, err
	}

	e := &entry{doc: doc, meta: meta, state: StateManaged}
	u.track(e)
	fields, err := u.serialize(meta, doc)
	if err != nil {
		return nil, err
	}
	if err := u.remember(e, fields); err != nil {
		return nil, err
	}
	return doc, nil
}

func (u *UnitOfWork) build(meta *mapping.ClassMetadata, fields map[string]any) (models.Document, error) {
	doc := meta.New()
	for _, f := range meta.Fields {
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		if err := f.Set(doc, v); err != nil {
			return nil, fmt.Errorf("hydrate %s: %w", meta.Table, err)
		}
	}
	for _, def := range meta.References {
		if err := def.Bind(doc, fields[def.Field], u.loader); err != nil {
			return nil, fmt.Errorf("hydrate %s: %w", meta.Table, err)
		}
	}
	return doc, nil
}

// loader resolves reference tokens for persistent collections and
// references. Identity map hits are reused; the rest is fetched with one
// LoadByIDs call per table.
type loader struct {
	uow *UnitOfWork
}

var _ persistent.Loader = (*loader)(nil)

func (l *loader) Load(ctx context.Context, tokens []persistent.Token) ([]models.Document, error) {
	u := l.uow
	out := make([]models.Document, len(tokens))

	var tables []string
	missing := make(map[string][]int)
	for i, tok := range tokens {
		if tok.IsEmbedded() {
			meta, err := u.registry.MetadataForTable(tok.Ref.Table)
			if err != nil {
				return nil, err
			}
			if out[i], err = u.build(meta, tok.Fields); err != nil {
				return nil, err
			}
			continue
		}
		if doc, ok := u.identity.Lookup(tok.Ref.Table, tok.Ref.ID); ok {
			out[i] = doc
			continue
		}
		if _, ok := missing[tok.Ref.Table]; !ok {
			tables = append(tables, tok.Ref.Table)
		}
		missing[tok.Ref.Table] = append(missing[tok.Ref.Table], i)
	}

	for _, table := range tables {
		slots := missing[table]
		ids := make([]any, 0, len(slots))
		seen := make(map[any]struct{}, len(slots))
		for _, i := range slots {
			id := models.NormalizeID(tokens[i].Ref.ID)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}

		recs, err := u.storage.LoadByIDs(ctx, table, ids)
		if err != nil {
			u.logger.Error("load failed", "table", table, "count", len(ids), "error", err)
			return nil, err
		}
		if len(recs) != len(ids) {
			return nil, fmt.Errorf("load %s: storage returned %d records for %d ids", table, len(recs), len(ids))
		}
		found := make(map[any]*storage.Record, len(ids))
		loaded := 0
		for i, rec := range recs {
			if rec != nil {
				found[ids[i]] = rec
				loaded++
			}
		}
		u.observer.DocumentsLoaded(table, loaded)

		for _, i := range slots {
			ref := tokens[i].Ref
			rec, ok := found[models.NormalizeID(ref.ID)]
			if !ok {
				if err := u.dangling(ref); err != nil {
					return nil, err
				}
				continue
			}
			if out[i], err = u.Hydrate(table, *rec); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (u *UnitOfWork) dangling(ref models.RecordID) error {
	u.observer.DanglingReference(ref)
	if u.policy == persistent.DanglingSkip {
		u.logger.Warn("skipping dangling reference", "ref", ref.String())
		return nil
	}
	u.logger.Debug("dangling reference", "ref", ref.String())
	return &persistent.DanglingReferenceError{Ref: ref}
}
