package persistent

import (
	"context"

	"github.com/surrealdb/surrealodm/pkg/models"
)

// Many is the type-erased view of a Collection used by code that walks
// documents of any type.
type Many interface {
	Attach(owner models.Document, field string)
	Owner() models.Document
	Field() string
	SetLoader(loader Loader)
	IsInitialized() bool
	IsDirty() bool
	Initialize(ctx context.Context) error
	Tokens() []Token
	TakeSnapshot()

	// Documents returns the hydrated elements, nil while unhydrated.
	Documents() []models.Document
	InsertedDocuments() []models.Document
	RemovedDocuments() []models.Document
}

// One is the type-erased view of a Reference.
type One interface {
	Attach(owner models.Document, field string)
	Owner() models.Document
	Field() string
	SetLoader(loader Loader)
	IsLoaded() bool
	IsDirty() bool
	Initialize(ctx context.Context) error
	Token() (Token, bool)
	TakeSnapshot()

	// Document returns the loaded instance, nil while unloaded or empty.
	Document() models.Document
	PreviousDocument() models.Document
}

var (
	_ Many = (*Collection[models.Document])(nil)
	_ One  = (*Reference[models.Document])(nil)
)

func (c *Collection[T]) Documents() []models.Document {
	if c.lazy {
		return nil
	}
	return erase(c.items)
}

func (c *Collection[T]) InsertedDocuments() []models.Document {
	return erase(c.InsertedDiff())
}

func (c *Collection[T]) RemovedDocuments() []models.Document {
	return erase(c.RemovedDiff())
}

func (r *Reference[T]) Document() models.Document {
	if r.lazy || !r.loaded {
		return nil
	}
	return r.value
}

func (r *Reference[T]) PreviousDocument() models.Document {
	prev, ok := r.Previous()
	if !ok {
		return nil
	}
	return prev
}

func erase[T models.Document](items []T) []models.Document {
	if items == nil {
		return nil
	}
	out := make([]models.Document, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
