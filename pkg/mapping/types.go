// Package mapping describes how document types map to stored records: which
// table they live in, how ids are assigned, which scalar fields are stored and
// how references to other documents are stored and cascaded.
//
// Everything is declared explicitly with typed accessors. There is no struct
// tag or naming-convention reflection.
package mapping

import (
	"fmt"
	"strings"
)

type IDStrategy int

const (
	// IDAuto generates a UUIDv7 on the client when the document is persisted.
	IDAuto IDStrategy = iota
	// IDAssigned requires the application to set the id before persisting.
	IDAssigned
	// IDStore lets the storage backend assign the id on insert.
	IDStore
)

func (s IDStrategy) String() string {
	switch s {
	case IDAuto:
		return "auto"
	case IDAssigned:
		return "assigned"
	case IDStore:
		return "store"
	default:
		return fmt.Sprintf("IDStrategy(%d)", int(s))
	}
}

func ParseIDStrategy(s string) (IDStrategy, error) {
	switch strings.ToLower(s) {
	case "auto", "uuid":
		return IDAuto, nil
	case "assigned", "none":
		return IDAssigned, nil
	case "store", "increment":
		return IDStore, nil
	}
	return IDAuto, fmt.Errorf("unknown id strategy %q", s)
}

type Cardinality int

const (
	One Cardinality = iota
	Many
)

func (c Cardinality) String() string {
	if c == Many {
		return "many"
	}
	return "one"
}

// StoreAs is the stored form of a reference.
type StoreAs int

const (
	// StoreAsID stores the bare id.
	StoreAsID StoreAs = iota
	// StoreAsRef stores {"id": id}.
	StoreAsRef
	// StoreAsDBRef stores {"$ref": table, "$id": id}.
	StoreAsDBRef
	// StoreAsRecordID stores a native record id (table:id).
	StoreAsRecordID
	// StoreAsEmbedded stores the referenced document's fields inline.
	StoreAsEmbedded
)

var storeAsNames = map[StoreAs]string{
	StoreAsID:       "id",
	StoreAsRef:      "ref",
	StoreAsDBRef:    "dbRef",
	StoreAsRecordID: "recordId",
	StoreAsEmbedded: "embedded",
}

func (s StoreAs) String() string {
	if name, ok := storeAsNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StoreAs(%d)", int(s))
}

func ParseStoreAs(s string) (StoreAs, error) {
	for k, v := range storeAsNames {
		if strings.EqualFold(v, s) {
			return k, nil
		}
	}
	return StoreAsID, fmt.Errorf("unknown reference storage form %q", s)
}

// Cascade is the set of operations propagated from a document to the
// documents it references.
type Cascade uint8

const (
	CascadePersist Cascade = 1 << iota
	CascadeRemove
	CascadeDetach

	CascadeNone Cascade = 0
	CascadeAll          = CascadePersist | CascadeRemove | CascadeDetach
)

func (c Cascade) Has(op Cascade) bool {
	return op != 0 && c&op == op
}

func (c Cascade) String() string {
	switch c {
	case CascadeNone:
		return "none"
	case CascadeAll:
		return "all"
	}
	var parts []string
	if c.Has(CascadePersist) {
		parts = append(parts, "persist")
	}
	if c.Has(CascadeRemove) {
		parts = append(parts, "remove")
	}
	if c.Has(CascadeDetach) {
		parts = append(parts, "detach")
	}
	return strings.Join(parts, ",")
}

// ParseCascade accepts names like "all", "persist" or "remove", case
// insensitive.
func ParseCascade(names ...string) (Cascade, error) {
	var c Cascade
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "", "none":
		case "all":
			c |= CascadeAll
		case "persist":
			c |= CascadePersist
		case "remove":
			c |= CascadeRemove
		case "detach":
			c |= CascadeDetach
		default:
			return CascadeNone, fmt.Errorf("unknown cascade %q", name)
		}
	}
	return c, nil
}
