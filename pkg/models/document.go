package models

// Document is implemented by every mapped type. Implementations are pointers to
// structs; the mapper keys its bookkeeping on the pointer.
//
// DocumentID returns nil (or a zero value) while no id has been assigned.
type Document interface {
	DocumentID() any
	SetDocumentID(id any)
}

// Table is a table name. It encodes with its own CBOR tag so that it can be
// told apart from a plain string on the wire.
type Table string
