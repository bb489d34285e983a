package surrealodm

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/mapping"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

// Query selects documents of one table. Conditions are ANDed. Results are
// hydrated through the unit of work, so documents that are already managed
// come back as the same instances.
//
// The first invalid call records an error that GetResult and friends return.
type Query struct {
	dm     *DocumentManager
	meta   *mapping.ClassMetadata
	filter storage.Filter
	err    error
}

// Where matches documents whose field equals value. The id field is
// addressed by its mapped name or "id"; a single reference field matches a
// document value.
func (q *Query) Where(field string, value any) *Query {
	return q.where(field, storage.OpEq, value)
}

func (q *Query) WhereNot(field string, value any) *Query {
	return q.where(field, storage.OpNe, value)
}

// WhereIn matches documents whose field equals one of values.
func (q *Query) WhereIn(field string, values ...any) *Query {
	if q.err != nil {
		return q
	}
	name, encode, err := q.resolve(field)
	if err != nil {
		q.err = err
		return q
	}
	list := make([]any, len(values))
	for i, v := range values {
		if list[i], err = encode(v); err != nil {
			q.err = err
			return q
		}
	}
	q.filter.Conditions = append(q.filter.Conditions, storage.Condition{Field: name, Op: storage.OpIn, Value: list})
	return q
}

func (q *Query) where(field string, op storage.Op, value any) *Query {
	if q.err != nil {
		return q
	}
	name, encode, err := q.resolve(field)
	if err != nil {
		q.err = err
		return q
	}
	v, err := encode(value)
	if err != nil {
		q.err = err
		return q
	}
	q.filter.Conditions = append(q.filter.Conditions, storage.Condition{Field: name, Op: op, Value: v})
	return q
}

// Sort orders by field, order being "asc" or "desc". Calls add keys.
func (q *Query) Sort(field, order string) *Query {
	if q.err != nil {
		return q
	}
	name, _, err := q.resolve(field)
	if err != nil {
		q.err = err
		return q
	}
	var desc bool
	switch strings.ToLower(order) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		q.err = fmt.Errorf("query %s: unknown sort order %q", q.meta.Table, order)
		return q
	}
	q.filter.Sort = append(q.filter.Sort, storage.SortKey{Field: name, Descending: desc})
	return q
}

func (q *Query) Limit(n int) *Query {
	if n < 0 && q.err == nil {
		q.err = fmt.Errorf("query: negative limit %d", n)
	}
	q.filter.Limit = n
	return q
}

func (q *Query) Skip(n int) *Query {
	if n < 0 && q.err == nil {
		q.err = fmt.Errorf("query: negative skip %d", n)
	}
	q.filter.Offset = n
	return q
}

// Filter returns the storage filter built so far.
func (q *Query) Filter() storage.Filter {
	return q.filter
}

func (q *Query) String() string {
	if q.meta == nil {
		return "<invalid query>"
	}
	s := q.filter.String()
	switch {
	case s == "":
		return q.meta.Table
	case len(q.filter.Conditions) == 0:
		return q.meta.Table + " " + s
	}
	return q.meta.Table + " WHERE " + s
}

// GetResult runs the query and returns the matching documents.
func (q *Query) GetResult(ctx context.Context) ([]models.Document, error) {
	return q.run(ctx, q.filter)
}

// GetSingleResult returns the first matching document, or an error matching
// ErrNotFound when there is none.
func (q *Query) GetSingleResult(ctx context.Context) (models.Document, error) {
	f := q.filter
	f.Limit = 1
	docs, err := q.run(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("query %s: %w", q, constants.ErrNotFound)
	}
	return docs[0], nil
}

// Count returns the number of matching documents without hydrating them.
// Limit and Skip are ignored.
func (q *Query) Count(ctx context.Context) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	recs, err := q.dm.storage.Query(ctx, q.meta.Table, storage.Filter{Conditions: q.filter.Conditions})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (q *Query) run(ctx context.Context, f storage.Filter) ([]models.Document, error) {
	if q.err != nil {
		return nil, q.err
	}
	recs, err := q.dm.storage.Query(ctx, q.meta.Table, f)
	if err != nil {
		q.dm.logger.Error("query failed", "query", q.String(), "error", err)
		return nil, err
	}
	docs := make([]models.Document, 0, len(recs))
	for _, rec := range recs {
		doc, err := q.dm.uow.Hydrate(q.meta.Table, rec)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	q.dm.logger.Debug("query executed", "query", q.String(), "results", len(docs))
	return docs, nil
}

type encoder func(any) (any, error)

func identity(v any) (any, error) { return v, nil }

// resolve maps a document field name to its stored name and the encoding of
// values compared with it.
func (q *Query) resolve(field string) (string, encoder, error) {
	if q.meta == nil {
		return "", nil, fmt.Errorf("query: no document type")
	}
	if field == q.meta.IDField || field == storage.IDField {
		return storage.IDField, func(v any) (any, error) {
			if doc, ok := v.(models.Document); ok {
				v = doc.DocumentID()
			}
			return models.NormalizeID(v), nil
		}, nil
	}
	if _, ok := q.meta.Field(field); ok {
		return field, identity, nil
	}
	if def, ok := q.meta.Reference(field); ok {
		if def.Cardinality == mapping.Many || def.StoreAs == mapping.StoreAsEmbedded {
			return "", nil, fmt.Errorf("query %s: cannot filter on %s reference %s", q.meta.Table, def.StoreAs, field)
		}
		return field, func(v any) (any, error) {
			return q.encodeReference(def, v)
		}, nil
	}
	// dotted paths reach into stored maps and are passed through
	if strings.Contains(field, ".") {
		return field, identity, nil
	}
	return "", nil, fmt.Errorf("query %s: unknown field %q", q.meta.Table, field)
}

func (q *Query) encodeReference(def *mapping.ReferenceDefinition, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var ref models.RecordID
	switch v := v.(type) {
	case models.Document:
		ref = models.NewRecordID(def.Target, v.DocumentID())
	case models.RecordID:
		ref = models.NewRecordID(def.Target, v.ID)
	default:
		ref = models.NewRecordID(def.Target, v)
	}
	if models.IsZeroID(ref.ID) {
		return nil, fmt.Errorf("query %s.%s: %w", q.meta.Table, def.Field, constants.ErrMissingID)
	}
	return def.EncodeRef(ref, nil), nil
}

// Result runs q and returns its documents as T.
func Result[T models.Document](ctx context.Context, q *Query) ([]T, error) {
	docs, err := q.GetResult(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(docs))
	for i, doc := range docs {
		if out[i], err = as[T](q.meta.Table, doc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func SingleResult[T models.Document](ctx context.Context, q *Query) (T, error) {
	doc, err := q.GetSingleResult(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](q.meta.Table, doc)
}
