package mapping

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/models"
)

// Registry holds the metadata of every known document type. It is built once
// at startup and is safe for concurrent reads afterwards.
type Registry struct {
	byTable map[string]*ClassMetadata
	byType  map[reflect.Type]*ClassMetadata
}

func NewRegistry(metas ...*ClassMetadata) (*Registry, error) {
	r := &Registry{
		byTable: make(map[string]*ClassMetadata),
		byType:  make(map[reflect.Type]*ClassMetadata),
	}
	for _, m := range metas {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(m *ClassMetadata) error {
	if m == nil || m.Table == "" {
		return errors.New("mapping: metadata without table")
	}
	if _, ok := r.byTable[m.Table]; ok {
		return fmt.Errorf("mapping: table %s registered twice", m.Table)
	}
	if prev, ok := r.byType[m.Type]; ok {
		return fmt.Errorf("mapping: type %s already mapped to %s", m.Type, prev.Table)
	}
	r.byTable[m.Table] = m
	r.byType[m.Type] = m
	return nil
}

// MetadataFor returns the metadata of doc's dynamic type.
func (r *Registry) MetadataFor(doc models.Document) (*ClassMetadata, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: <nil>", constants.ErrUnknownDocumentType)
	}
	return r.MetadataForType(reflect.TypeOf(doc))
}

func (r *Registry) MetadataForType(t reflect.Type) (*ClassMetadata, error) {
	if m, ok := r.byType[t]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", constants.ErrUnknownDocumentType, t)
}

func (r *Registry) MetadataForTable(table string) (*ClassMetadata, error) {
	if m, ok := r.byTable[table]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: table %s", constants.ErrUnknownDocumentType, table)
}

func (r *Registry) ReferenceDefinitionsFor(table string) ([]*ReferenceDefinition, error) {
	m, err := r.MetadataForTable(table)
	if err != nil {
		return nil, err
	}
	return m.References, nil
}

func (r *Registry) IDFieldFor(table string) (string, error) {
	m, err := r.MetadataForTable(table)
	if err != nil {
		return "", err
	}
	return m.IDField, nil
}

// Tables returns the registered tables in lexical order.
func (r *Registry) Tables() []string {
	tables := make([]string, 0, len(r.byTable))
	for t := range r.byTable {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// Validate checks that every reference points at a registered table whose
// documents the field can hold, and that no stored name is declared twice on
// a type.
func (r *Registry) Validate() error {
	var errs []error
	for _, table := range r.Tables() {
		m := r.byTable[table]
		if m.newFn == nil {
			errs = append(errs, fmt.Errorf("%s: no factory", table))
		}
		seen := make(map[string]bool)
		for _, f := range m.Fields {
			if seen[f.Name] {
				errs = append(errs, fmt.Errorf("%s: field %s declared twice", table, f.Name))
			}
			seen[f.Name] = true
		}
		for _, ref := range m.References {
			if seen[ref.Field] {
				errs = append(errs, fmt.Errorf("%s: field %s declared twice", table, ref.Field))
			}
			seen[ref.Field] = true
			target, ok := r.byTable[ref.Target]
			if !ok {
				errs = append(errs, fmt.Errorf("%s.%s: %w: table %s", table, ref.Field, constants.ErrUnknownDocumentType, ref.Target))
				continue
			}
			if ref.elem != nil && !target.Type.AssignableTo(ref.elem) {
				errs = append(errs, fmt.Errorf("%s.%s: table %s holds %s, the field holds %s", table, ref.Field, ref.Target, target.Type, ref.elem))
			}
		}
		if seen[m.IDField] {
			errs = append(errs, fmt.Errorf("%s: id field %s collides with a stored field", table, m.IDField))
		}
	}
	return errors.Join(errs...)
}
