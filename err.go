package surrealodm

import "github.com/surrealdb/surrealodm/pkg/constants"

// Errors returned by the document manager. They are the sentinels of
// [constants], repeated here so that callers can match them with errors.Is
// without another import.
var (
	ErrNotFound            = constants.ErrNotFound
	ErrConflict            = constants.ErrConflict
	ErrConflictingIdentity = constants.ErrConflictingIdentity
	ErrDanglingReference   = constants.ErrDanglingReference
	ErrUnresolvedReference = constants.ErrUnresolvedReference
	ErrUnknownDocumentType = constants.ErrUnknownDocumentType
	ErrDetachedDocument    = constants.ErrDetachedDocument
	ErrMissingID           = constants.ErrMissingID
	ErrNotComparableID     = constants.ErrNotComparableID
)
