package constants

import "errors"

// Mapper errors
var (
	ErrConflictingIdentity = errors.New("another instance is already managed for this identity")
	ErrDanglingReference   = errors.New("reference points to a document that does not exist")
	ErrUnresolvedReference = errors.New("referenced document has no resolvable id")
	ErrUnknownDocumentType = errors.New("unknown document type")
	ErrDetachedDocument    = errors.New("document is detached")
	ErrMissingID           = errors.New("document id is not set")
	ErrNotComparableID     = errors.New("document id is not comparable")
)

// Storage errors
var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document write conflict")
)

// Transport errors
var (
	InvalidResponse    = errors.New("invalid SurrealDB response") //nolint:stylecheck
	ErrIDInUse         = errors.New("id already in use")
	ErrTimeout         = errors.New("timeout")
	ErrNoBaseURL       = errors.New("base url not set")
	ErrNoMarshaler     = errors.New("marshaler is not set")
	ErrNoUnmarshaler   = errors.New("unmarshaler is not set")
	ErrNoNamespaceOrDB = errors.New("namespace or database or both are not set")
	ErrClosed          = errors.New("connection closed")
)
