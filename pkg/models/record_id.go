package models

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// RecordID identifies one document: the table (document type) it belongs to and
// its id within that table. It doubles as the identity-map key, so ID must hold
// a comparable value.
type RecordID struct {
	Table string
	ID    any
}

func NewRecordID(table string, id any) RecordID {
	return RecordID{Table: table, ID: NormalizeID(id)}
}

// ParseRecordID parses the "table:id" form produced by String. Numeric ids are
// parsed as int64, bracketed ids are unescaped.
func ParseRecordID(idStr string) (RecordID, error) {
	table, raw, ok := strings.Cut(idStr, ":")
	if !ok || table == "" || raw == "" {
		return RecordID{}, fmt.Errorf("invalid record id %q: expected format is 'table:identifier'", idStr)
	}

	if strings.HasPrefix(raw, "⟨") && strings.HasSuffix(raw, "⟩") {
		inner := strings.TrimSuffix(strings.TrimPrefix(raw, "⟨"), "⟩")
		return RecordID{Table: table, ID: unescapeString(inner)}, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return RecordID{Table: table, ID: n}, nil
	}
	return RecordID{Table: table, ID: raw}, nil
}

// IsZero reports whether the record id has no table or no id.
func (r RecordID) IsZero() bool {
	return r.Table == "" || IsZeroID(r.ID)
}

func (r RecordID) MarshalCBOR() ([]byte, error) {
	return getCborEncoder().Marshal(cbor.Tag{
		Number:  uint64(RecordIDTag),
		Content: []any{r.Table, r.ID},
	})
}

func (r *RecordID) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := getCborDecoder().Unmarshal(data, &tag); err != nil {
		return err
	}
	return r.fromTag(tag)
}

func (r *RecordID) fromTag(tag cbor.Tag) error {
	if tag.Number != uint64(RecordIDTag) {
		return fmt.Errorf("unexpected tag number for RecordID: got %d, want %d", tag.Number, RecordIDTag)
	}
	parts, ok := tag.Content.([]any)
	if !ok || len(parts) != 2 {
		return fmt.Errorf("RecordID tag content must be a [table, id] pair, got %T", tag.Content)
	}
	table, ok := parts[0].(string)
	if !ok {
		return fmt.Errorf("RecordID table must be a string, got %T", parts[0])
	}
	r.Table = table
	r.ID = NormalizeID(normalizeValue(parts[1]))
	return nil
}

// NormalizeID folds every integer kind into int64 so that ids read back from a
// store compare equal to the ids the application assigned.
func NormalizeID(id any) any {
	switch v := id.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v) //nolint:gosec
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		if v <= 1<<63-1 {
			return int64(v)
		}
		return v
	case RecordID:
		return v.ID
	case *RecordID:
		if v == nil {
			return nil
		}
		return v.ID
	default:
		return id
	}
}

// IsZeroID reports whether id means "no id assigned yet".
func IsZeroID(id any) bool {
	if id == nil {
		return true
	}
	v := reflect.ValueOf(id)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil() || (v.Kind() == reflect.Slice && v.Len() == 0)
	default:
		return v.IsZero()
	}
}

// IsComparableID reports whether id can be used as a map key.
func IsComparableID(id any) bool {
	if id == nil {
		return false
	}
	return reflect.TypeOf(id).Comparable()
}
