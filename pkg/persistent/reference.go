package persistent

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealodm/pkg/models"
)

// Reference is a single lazily loaded reference. It is either unloaded, in
// which case it holds the stored token, or loaded, holding the instance (or
// nothing when the reference is empty).
type Reference[T models.Document] struct {
	owner  models.Document
	field  string
	loader Loader

	token  Token
	lazy   bool
	value  T
	loaded bool

	// instance the reference pointed to at the last snapshot
	previous    T
	hasPrevious bool
	dirty       bool
}

// NewReference returns a loaded reference to doc.
func NewReference[T models.Document](doc T) *Reference[T] {
	r := &Reference[T]{value: doc, loaded: !isNil(doc)}
	r.dirty = r.loaded
	return r
}

// NewUnloadedReference returns a reference that resolves token on first Get.
func NewUnloadedReference[T models.Document](token Token, loader Loader) *Reference[T] {
	return &Reference[T]{token: token, lazy: true, loader: loader}
}

func (r *Reference[T]) Attach(owner models.Document, field string) {
	r.owner = owner
	r.field = field
}

func (r *Reference[T]) Owner() models.Document {
	return r.owner
}

func (r *Reference[T]) Field() string {
	return r.field
}

func (r *Reference[T]) SetLoader(loader Loader) {
	r.loader = loader
}

func (r *Reference[T]) IsLoaded() bool {
	return !r.lazy
}

// Token returns the stored token while unloaded.
func (r *Reference[T]) Token() (Token, bool) {
	return r.token, r.lazy
}

func (r *Reference[T]) Initialize(ctx context.Context) error {
	if !r.lazy {
		return nil
	}
	if r.loader == nil {
		return errNoLoader
	}
	docs, err := r.loader.Load(ctx, []Token{r.token})
	if err != nil {
		return err
	}
	if len(docs) != 1 {
		return fmt.Errorf("persistent: loader returned %d documents for 1 reference", len(docs))
	}

	if isNil(docs[0]) {
		r.lazy = false
		r.token = Token{}
		r.dirty = true
		return nil
	}
	// a mismatch leaves the reference unloaded, token intact
	value, ok := docs[0].(T)
	if !ok {
		return fmt.Errorf("persistent: reference resolved to %T, want %T", docs[0], value)
	}
	r.lazy = false
	r.token = Token{}
	r.value = value
	r.loaded = true
	r.previous = value
	r.hasPrevious = true
	return nil
}

// Get returns the referenced instance. ok is false for an empty reference.
func (r *Reference[T]) Get(ctx context.Context) (value T, ok bool, err error) {
	if err := r.Initialize(ctx); err != nil {
		return value, false, err
	}
	return r.value, r.loaded, nil
}

// Set points the reference at doc; a nil doc empties it.
func (r *Reference[T]) Set(doc T) {
	r.lazy = false
	r.token = Token{}
	r.value = doc
	r.loaded = !isNil(doc)
	r.dirty = true
}

func (r *Reference[T]) IsDirty() bool {
	return r.dirty
}

// Previous returns the instance referenced at the last snapshot, if it was
// replaced since.
func (r *Reference[T]) Previous() (T, bool) {
	var zero T
	if !r.hasPrevious || r.lazy {
		return zero, false
	}
	if r.loaded && same(r.previous, r.value) {
		return zero, false
	}
	return r.previous, true
}

func (r *Reference[T]) TakeSnapshot() {
	r.dirty = false
	if r.lazy {
		return
	}
	var zero T
	r.previous, r.hasPrevious = zero, false
	if r.loaded {
		r.previous, r.hasPrevious = r.value, true
	}
}
