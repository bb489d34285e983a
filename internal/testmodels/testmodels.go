// Package testmodels holds the tree and apple documents shared by the
// end-to-end tests and the command line tool's examples.
package testmodels

import (
	"context"
	"slices"

	"github.com/surrealdb/surrealodm/pkg/mapping"
	"github.com/surrealdb/surrealodm/pkg/persistent"
)

const (
	TreesTable  = "trees"
	ApplesTable = "apples"
)

// BaseModel carries the behaviour common to the fixture documents.
type BaseModel struct {
	excludedFromArray []string
}

func newBaseModel() BaseModel {
	return BaseModel{excludedFromArray: []string{"_id", "lazyPropertiesDefaults"}}
}

// ExcludedFromArray lists the keys ToMap leaves out. It is never nil for a
// model built by its constructor.
func (b *BaseModel) ExcludedFromArray() []string {
	return b.excludedFromArray
}

func (b *BaseModel) SetExcludedFromArray(keys []string) {
	b.excludedFromArray = keys
}

func (b *BaseModel) excluded(key string) bool {
	return slices.Contains(b.excludedFromArray, key)
}

func (b BaseModel) clone() BaseModel {
	return BaseModel{excludedFromArray: slices.Clone(b.excludedFromArray)}
}

type exportField struct {
	key   string
	value func(ctx context.Context) (any, error)
}

// export builds the map form of a model from its declared fields.
func (b *BaseModel) export(ctx context.Context, fields []exportField) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if b.excluded(f.key) {
			continue
		}
		v, err := f.value(ctx)
		if err != nil {
			return nil, err
		}
		out[f.key] = v
	}
	return out, nil
}

type Apple struct {
	BaseModel

	ID  any
	Foo string
}

func NewApple() *Apple {
	return &Apple{BaseModel: newBaseModel()}
}

func (a *Apple) DocumentID() any      { return a.ID }
func (a *Apple) SetDocumentID(id any) { a.ID = id }

// Clone returns an unmanaged copy of a.
func (a *Apple) Clone() *Apple {
	return &Apple{BaseModel: a.BaseModel.clone(), ID: a.ID, Foo: a.Foo}
}

func (a *Apple) ToMap(ctx context.Context) (map[string]any, error) {
	return a.export(ctx, []exportField{
		{"_id", func(context.Context) (any, error) { return a.ID, nil }},
		{"foo", func(context.Context) (any, error) { return a.Foo, nil }},
	})
}

type Tree struct {
	BaseModel

	ID     any
	Apples *persistent.Collection[*Apple]
}

func NewTree() *Tree {
	return &Tree{BaseModel: newBaseModel(), Apples: persistent.NewCollection[*Apple]()}
}

func (t *Tree) DocumentID() any      { return t.ID }
func (t *Tree) SetDocumentID(id any) { t.ID = id }

// Clone returns an unmanaged copy of t holding copies of its apples. The
// apples are hydrated first.
func (t *Tree) Clone(ctx context.Context) (*Tree, error) {
	apples, err := t.Apples.All(ctx)
	if err != nil {
		return nil, err
	}
	copies := make([]*Apple, len(apples))
	for i, a := range apples {
		copies[i] = a.Clone()
	}
	return &Tree{
		BaseModel: t.BaseModel.clone(),
		ID:        t.ID,
		Apples:    persistent.NewCollection(copies...),
	}, nil
}

func (t *Tree) ToMap(ctx context.Context) (map[string]any, error) {
	return t.export(ctx, []exportField{
		{"_id", func(context.Context) (any, error) { return t.ID, nil }},
		{"apples", func(ctx context.Context) (any, error) {
			apples, err := t.Apples.All(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]any, 0, len(apples))
			for _, a := range apples {
				m, err := a.ToMap(ctx)
				if err != nil {
					return nil, err
				}
				out = append(out, m)
			}
			return out, nil
		}},
	})
}

// Registry returns the mapping of trees and apples. A tree stores its apples
// as {"id": ...} references and cascades every operation to them.
func Registry() (*mapping.Registry, error) {
	trees := mapping.Define(TreesTable, NewTree,
		mapping.WithIDField("_id"),
		mapping.WithReferences(
			mapping.ReferenceMany("apples", ApplesTable, func(t *Tree) **persistent.Collection[*Apple] { return &t.Apples },
				mapping.StoredAs(mapping.StoreAsRef), mapping.Cascading(mapping.CascadeAll)),
		),
	)
	apples := mapping.Define(ApplesTable, NewApple,
		mapping.WithIDField("_id"),
		mapping.WithFields(
			mapping.FieldOf("foo", func(a *Apple) *string { return &a.Foo }),
		),
	)
	r, err := mapping.NewRegistry(trees, apples)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
