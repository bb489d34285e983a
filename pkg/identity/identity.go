// Package identity implements the identity map: at most one live instance per
// (table, id) until the map is cleared.
package identity

import (
	"fmt"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/models"
)

// Key identifies a managed instance. IDs are normalized so that an int
// assigned by the application and an int64 read back from storage collide.
type Key struct {
	Table string
	ID    any
}

func KeyFor(table string, id any) Key {
	return Key{Table: table, ID: models.NormalizeID(id)}
}

func (k Key) RecordID() models.RecordID {
	return models.RecordID{Table: k.Table, ID: k.ID}
}

func (k Key) String() string {
	return k.RecordID().String()
}

// ConflictingIdentityError is returned when a second, distinct instance is
// registered under a key that is already taken.
type ConflictingIdentityError struct {
	Key Key
}

func (e *ConflictingIdentityError) Error() string {
	return fmt.Sprintf("%s: %s", constants.ErrConflictingIdentity, e.Key)
}

func (e *ConflictingIdentityError) Unwrap() error {
	return constants.ErrConflictingIdentity
}

// Map is not safe for concurrent use; it belongs to a single unit of work.
type Map struct {
	entries map[Key]models.Document
	keys    map[models.Document]Key
	order   []Key
}

func New() *Map {
	return &Map{
		entries: make(map[Key]models.Document),
		keys:    make(map[models.Document]Key),
	}
}

// Register records doc under (table, id). Registering the same instance again
// is a no-op.
func (m *Map) Register(table string, id any, doc models.Document) error {
	if models.IsZeroID(id) {
		return fmt.Errorf("register %s: %w", table, constants.ErrMissingID)
	}
	if !models.IsComparableID(id) {
		return fmt.Errorf("register %s: %w: %T", table, constants.ErrNotComparableID, id)
	}
	key := KeyFor(table, id)
	if existing, ok := m.entries[key]; ok {
		if existing == doc {
			return nil
		}
		return &ConflictingIdentityError{Key: key}
	}
	if prev, ok := m.keys[doc]; ok {
		// the instance changed id; drop the stale entry
		m.remove(prev)
	}
	m.entries[key] = doc
	m.keys[doc] = key
	m.order = append(m.order, key)
	return nil
}

func (m *Map) Lookup(table string, id any) (models.Document, bool) {
	if !models.IsComparableID(id) {
		return nil, false
	}
	doc, ok := m.entries[KeyFor(table, id)]
	return doc, ok
}

func (m *Map) Forget(table string, id any) {
	if !models.IsComparableID(id) {
		return
	}
	m.remove(KeyFor(table, id))
}

// ForgetDocument drops doc wherever it is registered.
func (m *Map) ForgetDocument(doc models.Document) {
	if key, ok := m.keys[doc]; ok {
		m.remove(key)
	}
}

// KeyOf returns the key doc is registered under.
func (m *Map) KeyOf(doc models.Document) (Key, bool) {
	key, ok := m.keys[doc]
	return key, ok
}

func (m *Map) Contains(doc models.Document) bool {
	_, ok := m.keys[doc]
	return ok
}

func (m *Map) Len() int {
	return len(m.entries)
}

func (m *Map) Clear() {
	m.entries = make(map[Key]models.Document)
	m.keys = make(map[models.Document]Key)
	m.order = nil
}

// Each visits entries in registration order until fn returns false.
func (m *Map) Each(fn func(key Key, doc models.Document) bool) {
	for _, key := range append([]Key(nil), m.order...) {
		doc, ok := m.entries[key]
		if !ok {
			continue
		}
		if !fn(key, doc) {
			return
		}
	}
}

func (m *Map) remove(key Key) {
	doc, ok := m.entries[key]
	if !ok {
		return
	}
	delete(m.entries, key)
	delete(m.keys, doc)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
