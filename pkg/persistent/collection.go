package persistent

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealodm/pkg/models"
)

// Collection is an ordered, lazily hydrated list of referenced documents.
// The zero value is an empty, hydrated collection.
type Collection[T models.Document] struct {
	owner  models.Document
	field  string
	loader Loader

	// unhydrated state
	tokens []Token
	lazy   bool

	// hydrated state
	items    []T
	snapshot []T

	dirty bool
}

// NewCollection returns a hydrated collection holding items. Items given here
// count as inserted until the first snapshot.
func NewCollection[T models.Document](items ...T) *Collection[T] {
	c := &Collection[T]{items: append([]T(nil), items...)}
	c.dirty = len(items) > 0
	return c
}

// NewUnloaded returns a collection that only knows the stored references.
// The loader resolves them on first access.
func NewUnloaded[T models.Document](tokens []Token, loader Loader) *Collection[T] {
	return &Collection[T]{
		tokens: append([]Token(nil), tokens...),
		lazy:   true,
		loader: loader,
	}
}

// Attach binds the collection to the document field that owns it.
func (c *Collection[T]) Attach(owner models.Document, field string) {
	c.owner = owner
	c.field = field
}

func (c *Collection[T]) Owner() models.Document {
	return c.owner
}

func (c *Collection[T]) Field() string {
	return c.field
}

// SetLoader replaces the loader used for hydration.
func (c *Collection[T]) SetLoader(loader Loader) {
	c.loader = loader
}

func (c *Collection[T]) IsInitialized() bool {
	return !c.lazy
}

// Tokens returns the stored references of an unhydrated collection, nil once
// hydrated.
func (c *Collection[T]) Tokens() []Token {
	if !c.lazy {
		return nil
	}
	return append([]Token(nil), c.tokens...)
}

// Initialize hydrates the collection. Calling it again is a no-op.
func (c *Collection[T]) Initialize(ctx context.Context) error {
	if !c.lazy {
		return nil
	}
	if c.loader == nil {
		return errNoLoader
	}

	docs, err := c.loader.Load(ctx, c.tokens)
	if err != nil {
		return err
	}
	if len(docs) != len(c.tokens) {
		return fmt.Errorf("persistent: loader returned %d documents for %d references", len(docs), len(c.tokens))
	}

	items := make([]T, 0, len(docs))
	skipped := false
	for i, doc := range docs {
		if isNil(doc) {
			skipped = true
			continue
		}
		item, ok := doc.(T)
		if !ok {
			return fmt.Errorf("persistent: reference %s resolved to %T, want %T", c.tokens[i], doc, item)
		}
		items = append(items, item)
	}

	c.items = items
	c.snapshot = append([]T(nil), items...)
	c.tokens = nil
	c.lazy = false
	// a skipped slot means the stored list no longer matches
	c.dirty = c.dirty || skipped
	return nil
}

// All returns a copy of the current sequence.
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	return append([]T(nil), c.items...), nil
}

func (c *Collection[T]) Get(ctx context.Context, i int) (T, error) {
	var zero T
	if err := c.Initialize(ctx); err != nil {
		return zero, err
	}
	if i < 0 || i >= len(c.items) {
		return zero, fmt.Errorf("persistent: index %d out of range [0,%d)", i, len(c.items))
	}
	return c.items[i], nil
}

func (c *Collection[T]) Len(ctx context.Context) (int, error) {
	if err := c.Initialize(ctx); err != nil {
		return 0, err
	}
	return len(c.items), nil
}

// Each calls fn for every element in order until fn returns false.
func (c *Collection[T]) Each(ctx context.Context, fn func(i int, item T) bool) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	for i, item := range c.items {
		if !fn(i, item) {
			break
		}
	}
	return nil
}

// Contains reports whether item is in the collection, by instance identity.
func (c *Collection[T]) Contains(ctx context.Context, item T) (bool, error) {
	if err := c.Initialize(ctx); err != nil {
		return false, err
	}
	return indexOf(c.items, item) >= 0, nil
}

// Add appends items. Duplicates are allowed.
func (c *Collection[T]) Add(ctx context.Context, items ...T) error {
	if len(items) == 0 {
		return nil
	}
	if err := c.hydrateForMutation(ctx); err != nil {
		return err
	}
	c.items = append(c.items, items...)
	c.dirty = true
	return nil
}

// Remove drops the first occurrence of item. The referenced document itself
// is only deleted at flush time and only when the reference cascades removal.
func (c *Collection[T]) Remove(ctx context.Context, item T) (bool, error) {
	if err := c.hydrateForMutation(ctx); err != nil {
		return false, err
	}
	i := indexOf(c.items, item)
	if i < 0 {
		return false, nil
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.dirty = true
	return true, nil
}

func (c *Collection[T]) RemoveAt(ctx context.Context, i int) (T, error) {
	var zero T
	if err := c.hydrateForMutation(ctx); err != nil {
		return zero, err
	}
	if i < 0 || i >= len(c.items) {
		return zero, fmt.Errorf("persistent: index %d out of range [0,%d)", i, len(c.items))
	}
	item := c.items[i]
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.dirty = true
	return item, nil
}

func (c *Collection[T]) Set(ctx context.Context, i int, item T) error {
	if err := c.hydrateForMutation(ctx); err != nil {
		return err
	}
	if i < 0 || i >= len(c.items) {
		return fmt.Errorf("persistent: index %d out of range [0,%d)", i, len(c.items))
	}
	if same(c.items[i], item) {
		return nil
	}
	c.items[i] = item
	c.dirty = true
	return nil
}

// Clear empties the collection. Unlike the other mutators it does not need
// the old contents, but it still hydrates so the removed diff is exact.
func (c *Collection[T]) Clear(ctx context.Context) error {
	if err := c.hydrateForMutation(ctx); err != nil {
		return err
	}
	if len(c.items) > 0 {
		c.items = nil
		c.dirty = true
	}
	return nil
}

// hydrateForMutation hydrates before a mutation. A mutation requested while
// hydration fails still marks the collection dirty.
func (c *Collection[T]) hydrateForMutation(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		c.dirty = true
		return err
	}
	return nil
}

// IsDirty reports whether the collection changed since the last snapshot.
func (c *Collection[T]) IsDirty() bool {
	return c.dirty
}

// InsertedDiff returns the elements present now but not in the snapshot.
func (c *Collection[T]) InsertedDiff() []T {
	if c.lazy {
		return nil
	}
	return difference(c.items, c.snapshot)
}

// RemovedDiff returns the elements of the snapshot that are gone now.
func (c *Collection[T]) RemovedDiff() []T {
	if c.lazy {
		return nil
	}
	return difference(c.snapshot, c.items)
}

// TakeSnapshot makes the current sequence the new baseline.
func (c *Collection[T]) TakeSnapshot() {
	if c.lazy {
		c.dirty = false
		return
	}
	c.snapshot = append([]T(nil), c.items...)
	c.dirty = false
}

func (c *Collection[T]) String() string {
	if c.lazy {
		return fmt.Sprintf("Collection(%d unloaded)", len(c.tokens))
	}
	return fmt.Sprintf("Collection(%d)", len(c.items))
}

func indexOf[T models.Document](items []T, item T) int {
	for i := range items {
		if same(items[i], item) {
			return i
		}
	}
	return -1
}

// difference returns the elements of a missing from b, by identity.
func difference[T models.Document](a, b []T) []T {
	seen := make(map[any]struct{}, len(b))
	for _, item := range b {
		seen[any(item)] = struct{}{}
	}
	var out []T
	emitted := make(map[any]struct{})
	for _, item := range a {
		if _, ok := seen[any(item)]; ok {
			continue
		}
		if _, ok := emitted[any(item)]; ok {
			continue
		}
		emitted[any(item)] = struct{}{}
		out = append(out, item)
	}
	return out
}
