package storage

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/surrealdb/surrealodm/pkg/models"
)

type Op int

const (
	OpEq Op = iota
	OpNe
	OpIn
)

func (op Op) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpIn:
		return "IN"
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// IDField addresses the record id in conditions and sort keys.
const IDField = "id"

type Condition struct {
	Field string
	Op    Op
	Value any
}

type SortKey struct {
	Field      string
	Descending bool
}

// Filter selects records of one table. Conditions are ANDed. A zero Limit
// means no limit.
type Filter struct {
	Conditions []Condition
	Sort       []SortKey
	Limit      int
	Offset     int
}

func (f Filter) String() string {
	var parts []string
	for _, c := range f.Conditions {
		parts = append(parts, fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value))
	}
	s := strings.Join(parts, " AND ")
	for _, k := range f.Sort {
		dir := "ASC"
		if k.Descending {
			dir = "DESC"
		}
		s += fmt.Sprintf(" ORDER BY %s %s", k.Field, dir)
	}
	if f.Limit > 0 {
		s += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		s += fmt.Sprintf(" START %d", f.Offset)
	}
	return strings.TrimSpace(s)
}

// Match reports whether rec satisfies every condition.
func (f Filter) Match(rec Record) bool {
	for _, c := range f.Conditions {
		v := lookup(rec, c.Field)
		switch c.Op {
		case OpEq:
			if !Equal(v, c.Value) {
				return false
			}
		case OpNe:
			if Equal(v, c.Value) {
				return false
			}
		case OpIn:
			if !in(v, c.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Apply filters, sorts and pages records that are already in storage order.
// Backends without a query language use it to evaluate filters in process.
func (f Filter) Apply(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	if len(f.Sort) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, k := range f.Sort {
				c := Compare(lookup(out[i], k.Field), lookup(out[j], k.Field))
				if c == 0 {
					continue
				}
				if k.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}

func lookup(rec Record, field string) any {
	if field == IDField {
		return rec.ID
	}
	if v, ok := rec.Fields[field]; ok {
		return v
	}
	// dotted paths walk nested maps
	var cur any = rec.Fields
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func in(v, list any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if Equal(v, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

// Equal compares two field values, treating every integer kind alike and a
// record id equal to its bare id.
func Equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if ra, ok := a.(models.RecordID); ok {
		if rb, ok := b.(models.RecordID); ok {
			return ra.Table == rb.Table && reflect.DeepEqual(ra.ID, rb.ID)
		}
		return reflect.DeepEqual(ra.ID, b)
	}
	if rb, ok := b.(models.RecordID); ok {
		return reflect.DeepEqual(a, rb.ID)
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders nil first, then numbers, then strings, then anything else
// by its formatted value.
func Compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0:
		return 0
	case 1:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.(string), b.(string))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := toFloat(v); ok {
		return 1
	}
	if _, ok := v.(string); ok {
		return 2
	}
	return 3
}

func normalize(v any) any {
	switch val := v.(type) {
	case *models.RecordID:
		if val == nil {
			return nil
		}
		return models.RecordID{Table: val.Table, ID: models.NormalizeID(val.ID)}
	case models.RecordID:
		return models.RecordID{Table: val.Table, ID: models.NormalizeID(val.ID)}
	case models.Table:
		return string(val)
	}
	return models.NormalizeID(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
