package fakesdb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/uuid"

	"github.com/surrealdb/surrealodm/pkg/connection"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

type table struct {
	rows  map[any]map[string]any
	order []any
}

func (s *Server) table(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{rows: make(map[any]map[string]any)}
		s.tables[name] = t
	}
	return t
}

func rpcError(format string, args ...any) *connection.RPCError {
	return &connection.RPCError{Code: -32000, Message: fmt.Sprintf(format, args...)}
}

// Len returns the number of records in tbl.
func (s *Server) Len(tbl string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[tbl]; ok {
		return len(t.rows)
	}
	return 0
}

func (s *Server) dispatch(_ *Session, method string, params []any) (any, *connection.RPCError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch connection.RPCFunction(method) {
	case connection.Select:
		if len(params) < 1 {
			return nil, rpcError("select: missing target")
		}
		return s.doSelect(params[0])
	case connection.Create:
		if len(params) < 1 {
			return nil, rpcError("create: missing target")
		}
		var data any
		if len(params) > 1 {
			data = params[1]
		}
		return s.doCreate(params[0], data)
	case connection.Update:
		if len(params) < 2 {
			return nil, rpcError("update: missing target or data")
		}
		return s.doUpdate(params[0], params[1])
	case connection.Delete:
		if len(params) < 1 {
			return nil, rpcError("delete: missing target")
		}
		return s.doDelete(params[0])
	case connection.Query:
		if len(params) < 1 {
			return nil, rpcError("query: missing statement")
		}
		sql, _ := params[0].(string)
		vars := map[string]any{}
		if len(params) > 1 {
			if m, ok := params[1].(map[string]any); ok {
				vars = m
			}
		}
		rows, rpcErr := s.doQuery(sql, vars)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return []any{map[string]any{"status": "OK", "time": "0s", "result": rows}}, nil
	}
	return nil, &connection.RPCError{Code: -32601, Message: "Method not found"}
}

func (s *Server) record(tbl string, key any) map[string]any {
	t, ok := s.tables[tbl]
	if !ok {
		return nil
	}
	row, ok := t.rows[key]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	out["id"] = models.RecordID{Table: tbl, ID: key}
	return out
}

func (s *Server) doSelect(target any) (any, *connection.RPCError) {
	switch v := target.(type) {
	case models.RecordID:
		if rec := s.record(v.Table, models.NormalizeID(v.ID)); rec != nil {
			return rec, nil
		}
		return nil, nil
	case models.Table:
		return s.scan(string(v)), nil
	case string:
		return s.scan(v), nil
	}
	return nil, rpcError("select: unsupported target %T", target)
}

func (s *Server) scan(tbl string) []any {
	t, ok := s.tables[tbl]
	if !ok {
		return []any{}
	}
	out := make([]any, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, s.record(tbl, key))
	}
	return out
}

func content(data any) (map[string]any, *connection.RPCError) {
	if data == nil {
		return map[string]any{}, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, rpcError("expected an object, got %T", data)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != "id" {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Server) doCreate(target, data any) (any, *connection.RPCError) {
	fields, rpcErr := content(data)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var tbl string
	var key any
	switch v := target.(type) {
	case models.RecordID:
		tbl, key = v.Table, models.NormalizeID(v.ID)
	case models.Table:
		tbl = string(v)
	case string:
		tbl = v
	default:
		return nil, rpcError("create: unsupported target %T", target)
	}
	if key == nil {
		key = strings.ReplaceAll(uuid.Must(uuid.NewV4()).String(), "-", "")
	}
	t := s.table(tbl)
	if _, exists := t.rows[key]; exists {
		return nil, rpcError("Database record `%s` already exists", models.RecordID{Table: tbl, ID: key})
	}
	t.rows[key] = fields
	t.order = append(t.order, key)
	return s.record(tbl, key), nil
}

func (s *Server) doUpdate(target, data any) (any, *connection.RPCError) {
	rid, ok := target.(models.RecordID)
	if !ok {
		return nil, rpcError("update: unsupported target %T", target)
	}
	fields, rpcErr := content(data)
	if rpcErr != nil {
		return nil, rpcErr
	}
	key := models.NormalizeID(rid.ID)
	t, ok := s.tables[rid.Table]
	if !ok {
		return nil, nil
	}
	if _, exists := t.rows[key]; !exists {
		return nil, nil
	}
	t.rows[key] = fields
	return s.record(rid.Table, key), nil
}

func (s *Server) doDelete(target any) (any, *connection.RPCError) {
	rid, ok := target.(models.RecordID)
	if !ok {
		return nil, rpcError("delete: unsupported target %T", target)
	}
	key := models.NormalizeID(rid.ID)
	rec := s.record(rid.Table, key)
	if rec == nil {
		return nil, nil
	}
	t := s.tables[rid.Table]
	delete(t.rows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return rec, nil
}

const (
	selectIDs   = "SELECT * FROM $ids"
	selectTable = "SELECT * FROM type::table($tb)"
)

// doQuery understands the two statement shapes the storage backend sends:
// a select over a list of record ids, and a filtered table scan.
func (s *Server) doQuery(sql string, vars map[string]any) ([]any, *connection.RPCError) {
	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")
	if sql == selectIDs {
		ids, _ := vars["ids"].([]any)
		out := make([]any, 0, len(ids))
		for _, v := range ids {
			rid, ok := v.(models.RecordID)
			if !ok {
				return nil, rpcError("query: $ids holds %T", v)
			}
			if rec := s.record(rid.Table, models.NormalizeID(rid.ID)); rec != nil {
				out = append(out, rec)
			}
		}
		return out, nil
	}

	rest, ok := strings.CutPrefix(sql, selectTable)
	if !ok {
		return nil, rpcError("Parse error: unsupported statement %q", sql)
	}
	tbl, _ := vars["tb"].(string)
	filter, err := parseClauses(strings.TrimSpace(rest), vars)
	if err != nil {
		return nil, rpcError("Parse error: %v", err)
	}

	var recs []storage.Record
	if t, ok := s.tables[tbl]; ok {
		for _, key := range t.order {
			recs = append(recs, storage.Record{ID: key, Fields: t.rows[key]})
		}
	}
	out := []any{}
	for _, rec := range filter.Apply(recs) {
		out = append(out, s.record(tbl, rec.ID))
	}
	return out, nil
}

func parseClauses(rest string, vars map[string]any) (storage.Filter, error) {
	var f storage.Filter
	var err error

	if after, ok := strings.CutPrefix(rest, "WHERE "); ok {
		var where string
		where, rest = cutKeyword(after, " ORDER BY ", " LIMIT ", " START ")
		for _, part := range strings.Split(where, " AND ") {
			cond, err := parseCondition(strings.TrimSpace(part), vars)
			if err != nil {
				return f, err
			}
			f.Conditions = append(f.Conditions, cond)
		}
	}
	rest = strings.TrimSpace(rest)
	if after, ok := strings.CutPrefix(rest, "ORDER BY "); ok {
		var order string
		order, rest = cutKeyword(after, " LIMIT ", " START ")
		for _, part := range strings.Split(order, ",") {
			fields := strings.Fields(part)
			if len(fields) == 0 || len(fields) > 2 {
				return f, fmt.Errorf("bad ORDER BY term %q", part)
			}
			key := storage.SortKey{Field: fields[0]}
			if len(fields) == 2 {
				key.Descending = strings.EqualFold(fields[1], "DESC")
			}
			f.Sort = append(f.Sort, key)
		}
	}
	rest = strings.TrimSpace(rest)
	if after, ok := strings.CutPrefix(rest, "LIMIT "); ok {
		var n string
		n, rest = cutKeyword(after, " START ")
		if f.Limit, err = strconv.Atoi(strings.TrimSpace(n)); err != nil {
			return f, err
		}
	}
	rest = strings.TrimSpace(rest)
	if after, ok := strings.CutPrefix(rest, "START "); ok {
		if f.Offset, err = strconv.Atoi(strings.TrimSpace(after)); err != nil {
			return f, err
		}
		rest = ""
	}
	if strings.TrimSpace(rest) != "" {
		return f, fmt.Errorf("unexpected %q", rest)
	}
	return f, nil
}

func parseCondition(s string, vars map[string]any) (storage.Condition, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 || !strings.HasPrefix(fields[2], "$") {
		return storage.Condition{}, fmt.Errorf("bad condition %q", s)
	}
	value, ok := vars[strings.TrimPrefix(fields[2], "$")]
	if !ok {
		return storage.Condition{}, fmt.Errorf("unbound parameter %s", fields[2])
	}
	cond := storage.Condition{Field: fields[0], Value: value}
	switch strings.ToUpper(fields[1]) {
	case "=":
		cond.Op = storage.OpEq
	case "!=":
		cond.Op = storage.OpNe
	case "IN":
		cond.Op = storage.OpIn
	default:
		return storage.Condition{}, fmt.Errorf("unsupported operator %q", fields[1])
	}
	return cond, nil
}

// cutKeyword splits s at the first of the given keywords.
func cutKeyword(s string, keywords ...string) (before, after string) {
	cut := len(s)
	for _, kw := range keywords {
		if i := strings.Index(s, kw); i >= 0 && i < cut {
			cut = i
		}
	}
	return s[:cut], s[cut:]
}
