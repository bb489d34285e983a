package mapping

import (
	"fmt"
	"reflect"

	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/persistent"
)

// ReferenceDefinition describes one reference field of a document type.
type ReferenceDefinition struct {
	Field       string
	Target      string
	Cardinality Cardinality
	StoreAs     StoreAs
	Cascade     Cascade

	// Go type the field holds, checked against the target table's type
	elem reflect.Type

	many     func(models.Document) persistent.Many
	bindMany func(models.Document, []persistent.Token, persistent.Loader) persistent.Many
	one      func(models.Document) persistent.One
	bindOne  func(models.Document, *persistent.Token, persistent.Loader) persistent.One
}

type ReferenceOption func(*ReferenceDefinition)

func StoredAs(s StoreAs) ReferenceOption {
	return func(d *ReferenceDefinition) { d.StoreAs = s }
}

func Cascading(c Cascade) ReferenceOption {
	return func(d *ReferenceDefinition) { d.Cascade = c }
}

// ReferenceMany declares a collection field pointing at documents stored in
// the target table.
func ReferenceMany[D, E models.Document](field, target string, ptr func(D) **persistent.Collection[E], opts ...ReferenceOption) *ReferenceDefinition {
	def := &ReferenceDefinition{Field: field, Target: target, Cardinality: Many, elem: reflect.TypeFor[E]()}
	for _, opt := range opts {
		opt(def)
	}
	def.many = func(doc models.Document) persistent.Many {
		slot := ptr(doc.(D))
		if *slot == nil {
			*slot = persistent.NewCollection[E]()
		}
		(*slot).Attach(doc, field)
		return *slot
	}
	def.bindMany = func(doc models.Document, tokens []persistent.Token, loader persistent.Loader) persistent.Many {
		coll := persistent.NewUnloaded[E](tokens, loader)
		coll.Attach(doc, field)
		*ptr(doc.(D)) = coll
		return coll
	}
	return def
}

// ReferenceOne declares a single-valued reference field.
func ReferenceOne[D, E models.Document](field, target string, ptr func(D) **persistent.Reference[E], opts ...ReferenceOption) *ReferenceDefinition {
	def := &ReferenceDefinition{Field: field, Target: target, Cardinality: One, elem: reflect.TypeFor[E]()}
	for _, opt := range opts {
		opt(def)
	}
	def.one = func(doc models.Document) persistent.One {
		slot := ptr(doc.(D))
		if *slot == nil {
			var zero E
			*slot = persistent.NewReference(zero)
		}
		(*slot).Attach(doc, field)
		return *slot
	}
	def.bindOne = func(doc models.Document, token *persistent.Token, loader persistent.Loader) persistent.One {
		var ref *persistent.Reference[E]
		if token == nil {
			var zero E
			ref = persistent.NewReference(zero)
			ref.TakeSnapshot()
		} else {
			ref = persistent.NewUnloadedReference[E](*token, loader)
		}
		ref.Attach(doc, field)
		*ptr(doc.(D)) = ref
		return ref
	}
	return def
}

// Many returns the collection held by doc, creating an empty one when the
// field is unset.
func (d *ReferenceDefinition) Many(doc models.Document) persistent.Many {
	if d.many == nil {
		return nil
	}
	return d.many(doc)
}

// One returns the reference held by doc, creating an empty one when unset.
func (d *ReferenceDefinition) One(doc models.Document) persistent.One {
	if d.one == nil {
		return nil
	}
	return d.one(doc)
}

// Documents returns the loaded documents the field currently points at. An
// unhydrated field yields nothing.
func (d *ReferenceDefinition) Documents(doc models.Document) []models.Document {
	if d.Cardinality == Many {
		return d.Many(doc).Documents()
	}
	if target := d.One(doc).Document(); target != nil {
		return []models.Document{target}
	}
	return nil
}

// Bind installs an unhydrated container on doc built from the stored value.
func (d *ReferenceDefinition) Bind(doc models.Document, stored any, loader persistent.Loader) error {
	tokens, err := d.DecodeTokens(stored)
	if err != nil {
		return fmt.Errorf("reference %s: %w", d.Field, err)
	}
	if d.Cardinality == Many {
		d.bindMany(doc, tokens, loader)
		return nil
	}
	switch len(tokens) {
	case 0:
		d.bindOne(doc, nil, loader)
	case 1:
		d.bindOne(doc, &tokens[0], loader)
	default:
		return fmt.Errorf("reference %s: %d values stored for a single reference", d.Field, len(tokens))
	}
	return nil
}

// EncodeRef returns the stored form of one reference. fields is only used by
// embedded references.
func (d *ReferenceDefinition) EncodeRef(ref models.RecordID, fields map[string]any) any {
	switch d.StoreAs {
	case StoreAsRef:
		return map[string]any{"id": ref.ID}
	case StoreAsDBRef:
		return map[string]any{"$ref": ref.Table, "$id": ref.ID}
	case StoreAsRecordID:
		return ref
	case StoreAsEmbedded:
		return fields
	default:
		return ref.ID
	}
}

// EncodeToken returns the stored form of an unresolved reference.
func (d *ReferenceDefinition) EncodeToken(tok persistent.Token) any {
	return d.EncodeRef(tok.Ref, tok.Fields)
}

// DecodeTokens parses a stored field value into tokens. A nil value decodes
// to no tokens.
func (d *ReferenceDefinition) DecodeTokens(stored any) ([]persistent.Token, error) {
	if stored == nil {
		return nil, nil
	}
	if d.Cardinality == One {
		tok, err := d.decodeToken(stored)
		if err != nil {
			return nil, err
		}
		return []persistent.Token{tok}, nil
	}

	rv := reflect.ValueOf(stored)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", stored)
	}
	tokens := make([]persistent.Token, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		tok, err := d.decodeToken(rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (d *ReferenceDefinition) decodeToken(v any) (persistent.Token, error) {
	switch d.StoreAs {
	case StoreAsRef:
		m, err := asMap(v)
		if err != nil {
			return persistent.Token{}, err
		}
		id, ok := m["id"]
		if !ok {
			return persistent.Token{}, fmt.Errorf("reference without id: %v", m)
		}
		return d.token(id)
	case StoreAsDBRef:
		m, err := asMap(v)
		if err != nil {
			return persistent.Token{}, err
		}
		id, ok := m["$id"]
		if !ok {
			return persistent.Token{}, fmt.Errorf("reference without $id: %v", m)
		}
		if table, ok := m["$ref"].(string); ok && table != d.Target {
			return persistent.Token{}, fmt.Errorf("reference to %s, want %s", table, d.Target)
		}
		return d.token(id)
	case StoreAsRecordID:
		switch rid := v.(type) {
		case models.RecordID:
			return persistent.Token{Ref: models.NewRecordID(rid.Table, rid.ID)}, nil
		case *models.RecordID:
			return persistent.Token{Ref: models.NewRecordID(rid.Table, rid.ID)}, nil
		case string:
			parsed, err := models.ParseRecordID(rid)
			if err != nil {
				return persistent.Token{}, err
			}
			return persistent.Token{Ref: parsed}, nil
		}
		return persistent.Token{}, fmt.Errorf("expected a record id, got %T", v)
	case StoreAsEmbedded:
		m, err := asMap(v)
		if err != nil {
			return persistent.Token{}, err
		}
		return persistent.Token{Ref: models.RecordID{Table: d.Target}, Fields: m}, nil
	default:
		return d.token(v)
	}
}

func (d *ReferenceDefinition) token(id any) (persistent.Token, error) {
	if models.IsZeroID(id) {
		return persistent.Token{}, fmt.Errorf("empty reference id")
	}
	if !models.IsComparableID(id) {
		return persistent.Token{}, fmt.Errorf("reference id of type %T is not comparable", id)
	}
	return persistent.Token{Ref: models.NewRecordID(d.Target, id)}, nil
}

func asMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a map, got %T", v)
}
