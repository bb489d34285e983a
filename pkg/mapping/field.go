package mapping

import (
	"fmt"

	"github.com/surrealdb/surrealodm/pkg/models"
)

// Field is a scalar field stored as-is under Name.
type Field struct {
	Name string

	get func(models.Document) any
	set func(models.Document, any) error
}

// FieldOf declares a stored field through a typed accessor returning the
// address of the value inside the document.
func FieldOf[D models.Document, V any](name string, ptr func(D) *V) Field {
	return Field{
		Name: name,
		get: func(doc models.Document) any {
			return *ptr(doc.(D))
		},
		set: func(doc models.Document, value any) error {
			dst := ptr(doc.(D))
			if value == nil {
				var zero V
				*dst = zero
				return nil
			}
			if err := models.Convert(value, dst); err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			return nil
		},
	}
}

func (f Field) Get(doc models.Document) any {
	return f.get(doc)
}

func (f Field) Set(doc models.Document, value any) error {
	return f.set(doc, value)
}
