package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// recordView is the printed form of a stored record.
type recordView struct {
	ID     any            `json:"id"`
	Fields map[string]any `json:"fields"`
}

func viewOf(rec storage.Record) recordView {
	fields := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = plain(v)
	}
	return recordView{ID: plain(rec.ID), Fields: fields}
}

// plain replaces record ids by their string form so that values print the
// same way in both formats.
func plain(v any) any {
	switch v := v.(type) {
	case models.RecordID:
		return v.String()
	case *models.RecordID:
		return v.String()
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = plain(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plain(item)
		}
		return out
	}
	return v
}

func (f *OutputFormatter) json(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (f *OutputFormatter) Records(recs []storage.Record) error {
	views := make([]recordView, len(recs))
	for i, rec := range recs {
		views[i] = viewOf(rec)
	}
	if f.Format == "json" {
		return f.json(views)
	}
	for _, v := range views {
		if err := f.textRecord(v); err != nil {
			return err
		}
	}
	return nil
}

func (f *OutputFormatter) Record(rec storage.Record) error {
	v := viewOf(rec)
	if f.Format == "json" {
		return f.json(v)
	}
	return f.textRecord(v)
}

// textRecord prints one line: the id, then the fields sorted by name.
func (f *OutputFormatter) textRecord(v recordView) error {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		b, err := json.Marshal(v.Fields[k])
		if err != nil {
			return err
		}
		parts = append(parts, k+"="+string(b))
	}
	_, err := fmt.Fprintf(f.Writer, "%v\t%s\n", v.ID, strings.Join(parts, " "))
	return err
}

// Table prints name/value rows.
func (f *OutputFormatter) Table(rows any, text func(w io.Writer) error) error {
	if f.Format == "json" {
		return f.json(rows)
	}
	return text(f.Writer)
}
