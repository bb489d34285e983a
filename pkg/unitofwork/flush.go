package unitofwork

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/tiendc/go-deepcopy"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/mapping"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/persistent"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

// Flush writes pending changes: inserts first, ordered so that referenced
// documents get their ids before the documents pointing at them, then
// updates of changed managed documents, then deletes. Collections and
// references are snapshotted afterwards.
//
// Storage errors are returned unmodified. Writes executed before the failure
// are not rolled back; the failed write and everything after it stay
// scheduled so that Flush can be called again.
func (u *UnitOfWork) Flush(ctx context.Context) (err error) {
	start := time.Now()
	var stats Stats
	defer func() {
		u.observer.FlushCompleted(stats, time.Since(start), err)
		if err == nil {
			u.logger.Debug("flush completed",
				"inserts", stats.Inserts, "updates", stats.Updates, "deletes", stats.Deletes,
				"elapsed", time.Since(start))
		}
	}()

	if err := u.computeCascades(ctx); err != nil {
		return err
	}
	if err := u.checkReferences(); err != nil {
		return err
	}
	ordered, err := u.orderInserts()
	if err != nil {
		return err
	}
	u.inserts = ordered

	inserted := make(map[*entry]struct{}, len(ordered))
	for len(u.inserts) > 0 {
		e := u.inserts[0]
		if err := u.executeInsert(ctx, e); err != nil {
			return err
		}
		inserted[e] = struct{}{}
		u.inserts = u.inserts[1:]
		stats.Inserts++
	}

	for _, e := range append([]*entry(nil), u.order...) {
		if e.state != StateManaged {
			continue
		}
		if _, ok := inserted[e]; ok {
			continue
		}
		updated, err := u.executeUpdate(ctx, e)
		if err != nil {
			return err
		}
		if updated {
			stats.Updates++
		}
	}

	for len(u.deletes) > 0 {
		e := u.deletes[0]
		if err := u.executeDelete(ctx, e); err != nil {
			return err
		}
		u.deletes = u.deletes[1:]
		stats.Deletes++
	}

	for _, e := range u.order {
		if e.state == StateManaged {
			takeSnapshots(e)
		}
	}
	return nil
}

// computeCascades schedules what the cascades reachable from managed
// documents imply: persists of newly referenced documents and deletes of
// documents dropped from references that cascade removal.
func (u *UnitOfWork) computeCascades(ctx context.Context) error {
	visited := make(map[models.Document]struct{})
	for _, e := range append([]*entry(nil), u.order...) {
		if e.state != StateNew && e.state != StateManaged {
			continue
		}
		if err := u.persist(e.doc, visited); err != nil {
			return err
		}
	}

	for _, e := range append([]*entry(nil), u.order...) {
		if e.state != StateManaged {
			continue
		}
		for _, def := range e.meta.References {
			if !def.Cascade.Has(mapping.CascadeRemove) || def.StoreAs == mapping.StoreAsEmbedded {
				continue
			}
			var orphans []models.Document
			if def.Cardinality == mapping.Many {
				orphans = def.Many(e.doc).RemovedDocuments()
			} else if prev := def.One(e.doc).PreviousDocument(); prev != nil {
				orphans = append(orphans, prev)
			}
			for _, orphan := range orphans {
				if u.stillReferenced(orphan) {
					continue
				}
				if err := u.Remove(ctx, orphan); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// stillReferenced reports whether a new or managed document still points at
// doc through any non-embedded reference, loaded or not. This covers a
// document moved to another owner as well as one removed and added again.
func (u *UnitOfWork) stillReferenced(doc models.Document) bool {
	var ref models.RecordID
	if target, ok := u.entries[doc]; ok {
		ref = target.meta.RecordID(doc)
	}
	for _, e := range u.order {
		if e.state != StateNew && e.state != StateManaged {
			continue
		}
		for _, def := range e.meta.References {
			if def.StoreAs == mapping.StoreAsEmbedded {
				continue
			}
			for _, d := range def.Documents(e.doc) {
				if d == doc {
					return true
				}
			}
			if ref.Table == "" || ref.Table != def.Target {
				continue
			}
			for _, tok := range unloadedTokens(def, e.doc) {
				if tok.Ref.String() == ref.String() {
					return true
				}
			}
		}
	}
	return false
}

func unloadedTokens(def *mapping.ReferenceDefinition, doc models.Document) []persistent.Token {
	if def.Cardinality == mapping.Many {
		return def.Many(doc).Tokens()
	}
	if tok, lazy := def.One(doc).Token(); lazy {
		return []persistent.Token{tok}
	}
	return nil
}

// checkReferences fails when a document to be written points at a document
// the unit of work does not know.
func (u *UnitOfWork) checkReferences() error {
	for _, e := range u.order {
		if e.state != StateNew && e.state != StateManaged {
			continue
		}
		for _, def := range e.meta.References {
			if def.StoreAs == mapping.StoreAsEmbedded {
				continue
			}
			for _, target := range def.Documents(e.doc) {
				if _, ok := u.entries[target]; ok {
					continue
				}
				reason := "referenced document is not persisted and the reference does not cascade persist"
				if _, ok := u.detached[target]; ok {
					reason = "referenced document is detached"
				}
				return &UnresolvedReferenceError{Table: e.meta.Table, Field: def.Field, Target: def.Target, Reason: reason}
			}
		}
	}
	return nil
}

// orderInserts sorts scheduled inserts so that referenced documents come
// first. A cycle is broken at a document whose pending targets already have
// their ids; when there is none, the cycle waits on store-assigned ids and
// cannot be written.
func (u *UnitOfWork) orderInserts() ([]*entry, error) {
	pending := u.inserts
	index := make(map[models.Document]int, len(pending))
	for i, e := range pending {
		index[e.doc] = i
	}
	deps := make([][]int, len(pending))
	for i, e := range pending {
		for _, def := range e.meta.References {
			if def.StoreAs == mapping.StoreAsEmbedded {
				continue
			}
			for _, target := range def.Documents(e.doc) {
				if j, ok := index[target]; ok && j != i {
					deps[i] = append(deps[i], j)
				}
			}
		}
	}

	done := make([]bool, len(pending))
	out := make([]*entry, 0, len(pending))
	for len(out) < len(pending) {
		progressed := false
		for i, e := range pending {
			if done[i] || !ready(deps[i], done) {
				continue
			}
			done[i] = true
			out = append(out, e)
			progressed = true
		}
		if progressed {
			continue
		}

		broken := false
		for i, e := range pending {
			if done[i] || !resolvable(pending, deps[i], done) {
				continue
			}
			done[i] = true
			out = append(out, e)
			broken = true
			break
		}
		if !broken {
			for i, e := range pending {
				if !done[i] {
					return nil, &UnresolvedReferenceError{
						Table:  e.meta.Table,
						Target: pending[deps[i][0]].meta.Table,
						Field:  cycleField(e, pending[deps[i][0]].doc),
						Reason: "store-assigned ids form a reference cycle",
					}
				}
			}
		}
	}
	return out, nil
}

func ready(deps []int, done []bool) bool {
	for _, j := range deps {
		if !done[j] {
			return false
		}
	}
	return true
}

func resolvable(pending []*entry, deps []int, done []bool) bool {
	for _, j := range deps {
		if !done[j] && models.IsZeroID(pending[j].doc.DocumentID()) {
			return false
		}
	}
	return true
}

func cycleField(e *entry, target models.Document) string {
	for _, def := range e.meta.References {
		for _, d := range def.Documents(e.doc) {
			if d == target {
				return def.Field
			}
		}
	}
	return ""
}

func (u *UnitOfWork) executeInsert(ctx context.Context, e *entry) error {
	fields, err := u.serialize(e.meta, e.doc)
	if err != nil {
		return err
	}
	var id any
	if docID := e.doc.DocumentID(); !models.IsZeroID(docID) {
		id = models.NormalizeID(docID)
	}

	newID, err := u.storage.Insert(ctx, e.meta.Table, storage.Record{ID: id, Fields: fields})
	u.observer.OperationExecuted(OpInsert, e.meta.Table, err)
	if err != nil {
		u.logger.Error("insert failed", "table", e.meta.Table, "id", id, "error", err)
		return err
	}
	if id == nil {
		e.doc.SetDocumentID(newID)
		if err := u.identity.Register(e.meta.Table, newID, e.doc); err != nil {
			return err
		}
	}
	e.state = StateManaged
	return u.remember(e, fields)
}

func (u *UnitOfWork) executeUpdate(ctx context.Context, e *entry) (bool, error) {
	fields, err := u.serialize(e.meta, e.doc)
	if err != nil {
		return false, err
	}
	sum, err := fingerprint(fields)
	if err != nil {
		return false, err
	}
	if e.original != nil && sum == e.fingerprint {
		return false, nil
	}

	id := models.NormalizeID(e.doc.DocumentID())
	err = u.storage.Update(ctx, e.meta.Table, storage.Record{ID: id, Fields: fields})
	u.observer.OperationExecuted(OpUpdate, e.meta.Table, err)
	if err != nil {
		u.logger.Error("update failed", "table", e.meta.Table, "id", id, "error", err)
		return false, err
	}
	return true, u.remember(e, fields)
}

func (u *UnitOfWork) executeDelete(ctx context.Context, e *entry) error {
	id := models.NormalizeID(e.doc.DocumentID())
	err := u.storage.Delete(ctx, e.meta.Table, id)
	u.observer.OperationExecuted(OpDelete, e.meta.Table, err)
	switch {
	case errors.Is(err, constants.ErrNotFound):
		u.logger.Debug("deleted document was already gone", "table", e.meta.Table, "id", id)
	case err != nil:
		u.logger.Error("delete failed", "table", e.meta.Table, "id", id, "error", err)
		return err
	}
	e.deleted = true
	u.identity.ForgetDocument(e.doc)
	u.order = without(u.order, e)
	return nil
}

// remember stores fields as the last persisted state of e.
func (u *UnitOfWork) remember(e *entry, fields map[string]any) error {
	sum, err := fingerprint(fields)
	if err != nil {
		return err
	}
	var original map[string]any
	if err := deepcopy.Copy(&original, fields); err != nil {
		return fmt.Errorf("snapshot %s: %w", e.meta.Table, err)
	}
	e.original = original
	e.fingerprint = sum
	return nil
}

// fingerprint hashes the canonical encoding of fields. The encoding sorts map
// keys, so equal documents always hash alike.
func fingerprint(fields map[string]any) (uint64, error) {
	data, err := models.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("fingerprint: %w", err)
	}
	return xxhash.Sum64(data), nil
}

func takeSnapshots(e *entry) {
	for _, def := range e.meta.References {
		if def.Cardinality == mapping.Many {
			def.Many(e.doc).TakeSnapshot()
		} else {
			def.One(e.doc).TakeSnapshot()
		}
	}
}

// serialize builds the stored field map of doc. References are written in
// their declared stored form; unloaded ones are written back from their
// tokens without loading them.
func (u *UnitOfWork) serialize(meta *mapping.ClassMetadata, doc models.Document) (map[string]any, error) {
	fields := make(map[string]any, len(meta.Fields)+len(meta.References))
	for _, f := range meta.Fields {
		fields[f.Name] = f.Get(doc)
	}

	for _, def := range meta.References {
		if def.Cardinality == mapping.Many {
			coll := def.Many(doc)
			if !coll.IsInitialized() {
				tokens := coll.Tokens()
				stored := make([]any, len(tokens))
				for i, tok := range tokens {
					stored[i] = def.EncodeToken(tok)
				}
				fields[def.Field] = stored
				continue
			}
			targets := coll.Documents()
			stored := make([]any, 0, len(targets))
			for _, target := range targets {
				v, err := u.encodeReference(meta, def, target)
				if err != nil {
					return nil, err
				}
				stored = append(stored, v)
			}
			fields[def.Field] = stored
			continue
		}

		ref := def.One(doc)
		if tok, lazy := ref.Token(); lazy {
			fields[def.Field] = def.EncodeToken(tok)
			continue
		}
		target := ref.Document()
		if target == nil {
			fields[def.Field] = nil
			continue
		}
		v, err := u.encodeReference(meta, def, target)
		if err != nil {
			return nil, err
		}
		fields[def.Field] = v
	}
	return fields, nil
}

func (u *UnitOfWork) encodeReference(owner *mapping.ClassMetadata, def *mapping.ReferenceDefinition, target models.Document) (any, error) {
	if def.StoreAs == mapping.StoreAsEmbedded {
		meta, err := u.registry.MetadataFor(target)
		if err != nil {
			return nil, err
		}
		return u.serialize(meta, target)
	}
	id := target.DocumentID()
	if models.IsZeroID(id) {
		return nil, &UnresolvedReferenceError{
			Table:  owner.Table,
			Field:  def.Field,
			Target: def.Target,
			Reason: "referenced document has no id yet",
		}
	}
	return def.EncodeRef(models.NewRecordID(def.Target, id), nil), nil
}

// Change is the old and new stored value of one field.
type Change struct {
	Old any
	New any
}

// ChangeSet returns the fields of doc whose stored form differs from the
// last persisted state. Every field of a document that was never written is
// reported with a nil Old value.
func (u *UnitOfWork) ChangeSet(doc models.Document) (map[string]Change, error) {
	e, ok := u.entries[doc]
	if !ok {
		if _, detached := u.detached[doc]; detached {
			return nil, fmt.Errorf("change set: %w", constants.ErrDetachedDocument)
		}
		return nil, nil
	}
	current, err := u.serialize(e.meta, doc)
	if err != nil {
		return nil, err
	}

	changes := make(map[string]Change)
	for name, value := range current {
		old, had := e.original[name]
		if had {
			same, err := sameEncoding(old, value)
			if err != nil {
				return nil, err
			}
			if same {
				continue
			}
		}
		changes[name] = Change{Old: old, New: value}
	}
	for name, old := range e.original {
		if _, ok := current[name]; !ok {
			changes[name] = Change{Old: old}
		}
	}
	return changes, nil
}

func sameEncoding(a, b any) (bool, error) {
	da, err := models.Marshal(a)
	if err != nil {
		return false, err
	}
	db, err := models.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}
