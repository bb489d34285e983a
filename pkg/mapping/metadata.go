package mapping

import (
	"reflect"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/models"
)

// ClassMetadata is the mapping of one document type.
type ClassMetadata struct {
	Table      string
	Type       reflect.Type
	IDStrategy IDStrategy
	// IDField is the key the id is reported under in serialized output.
	IDField    string
	Fields     []Field
	References []*ReferenceDefinition

	newFn func() models.Document
}

type Option func(*ClassMetadata)

func WithIDStrategy(s IDStrategy) Option {
	return func(m *ClassMetadata) { m.IDStrategy = s }
}

func WithIDField(name string) Option {
	return func(m *ClassMetadata) { m.IDField = name }
}

func WithFields(fields ...Field) Option {
	return func(m *ClassMetadata) { m.Fields = append(m.Fields, fields...) }
}

func WithReferences(refs ...*ReferenceDefinition) Option {
	return func(m *ClassMetadata) { m.References = append(m.References, refs...) }
}

// Define builds the metadata of document type D. newFn must return a fully
// constructed instance; reloaded documents are created through it so that
// constructor defaults apply to fields missing from storage.
func Define[D models.Document](table string, newFn func() D, opts ...Option) *ClassMetadata {
	m := &ClassMetadata{
		Table:   table,
		Type:    reflect.TypeOf((*D)(nil)).Elem(),
		IDField: constants.DefaultIDField,
		newFn:   func() models.Document { return newFn() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// New returns a fresh instance through the document factory.
func (m *ClassMetadata) New() models.Document {
	return m.newFn()
}

func (m *ClassMetadata) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (m *ClassMetadata) Reference(name string) (*ReferenceDefinition, bool) {
	for _, r := range m.References {
		if r.Field == name {
			return r, true
		}
	}
	return nil, false
}

// RecordID returns the identity of doc, zero when no id is assigned yet.
func (m *ClassMetadata) RecordID(doc models.Document) models.RecordID {
	id := doc.DocumentID()
	if models.IsZeroID(id) {
		return models.RecordID{}
	}
	return models.NewRecordID(m.Table, id)
}
