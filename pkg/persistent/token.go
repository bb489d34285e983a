package persistent

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/models"
)

// Token is the unresolved form of one reference. Ref names the target
// document. Embedded references carry the target's fields inline instead and
// have no identity of their own.
type Token struct {
	Ref    models.RecordID
	Fields map[string]any
}

func (t Token) IsEmbedded() bool {
	return t.Fields != nil
}

func (t Token) String() string {
	if t.IsEmbedded() {
		return "embedded"
	}
	return t.Ref.String()
}

// Loader resolves tokens to documents. The result is aligned with tokens; a
// nil entry means the slot was skipped by the dangling-reference policy.
type Loader interface {
	Load(ctx context.Context, tokens []Token) ([]models.Document, error)
}

// DanglingPolicy decides what hydration does with a token whose document no
// longer exists.
type DanglingPolicy int

const (
	// DanglingAbort fails the access that triggered hydration.
	DanglingAbort DanglingPolicy = iota
	// DanglingSkip drops the slot; the next flush of the owner rewrites the
	// reference list without it.
	DanglingSkip
)

func (p DanglingPolicy) String() string {
	switch p {
	case DanglingAbort:
		return "abort"
	case DanglingSkip:
		return "skip"
	default:
		return fmt.Sprintf("DanglingPolicy(%d)", int(p))
	}
}

func ParseDanglingPolicy(s string) (DanglingPolicy, error) {
	switch s {
	case "", "abort":
		return DanglingAbort, nil
	case "skip":
		return DanglingSkip, nil
	default:
		return DanglingAbort, fmt.Errorf("unknown dangling reference policy %q", s)
	}
}

// DanglingReferenceError reports a token that could not be resolved.
type DanglingReferenceError struct {
	Ref models.RecordID
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s: %s", constants.ErrDanglingReference, e.Ref)
}

func (e *DanglingReferenceError) Unwrap() error {
	return constants.ErrDanglingReference
}

var errNoLoader = errors.New("persistent: no loader bound")

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func same(a, b any) bool {
	return a == b
}
