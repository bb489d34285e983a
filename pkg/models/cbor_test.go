package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshal_normalizesRecordIDsInMaps(t *testing.T) {
	fields := map[string]any{
		"foo":    "bar",
		"count":  3,
		"parent": RecordID{Table: "trees", ID: "oak"},
		"apples": []any{
			map[string]any{"id": "a1"},
			RecordID{Table: "apples", ID: int64(2)},
		},
		"kind": Table("apples"),
	}

	data, err := Marshal(fields)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, Unmarshal(data, &decoded))

	assert.Equal(t, "bar", decoded["foo"])
	assert.Equal(t, int64(3), decoded["count"])
	assert.Equal(t, RecordID{Table: "trees", ID: "oak"}, decoded["parent"])
	assert.Equal(t, []any{
		map[string]any{"id": "a1"},
		RecordID{Table: "apples", ID: int64(2)},
	}, decoded["apples"])
	assert.Equal(t, Table("apples"), decoded["kind"])
}

func TestMarshal_isDeterministic(t *testing.T) {
	a := map[string]any{"b": 1, "a": []any{"x", 2}, "c": map[string]any{"z": true, "y": nil}}
	b := map[string]any{"c": map[string]any{"y": nil, "z": true}, "a": []any{"x", 2}, "b": 1}

	ea, err := Marshal(a)
	require.NoError(t, err)
	eb, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, ea, eb)

	// int and uint64 share one encoding
	ei, err := Marshal(map[string]any{"n": 5})
	require.NoError(t, err)
	eu, err := Marshal(map[string]any{"n": uint64(5)})
	require.NoError(t, err)
	assert.Equal(t, ei, eu)
}

func TestConvert(t *testing.T) {
	var n int
	require.NoError(t, Convert(uint64(12), &n))
	assert.Equal(t, 12, n)

	var s []string
	require.NoError(t, Convert([]any{"_id", "lazyPropertiesDefaults"}, &s))
	assert.Equal(t, []string{"_id", "lazyPropertiesDefaults"}, s)

	var str string
	require.NoError(t, Convert("bar", &str))
	assert.Equal(t, "bar", str)

	require.NoError(t, Convert(nil, &str))
	assert.Equal(t, "", str)

	var ts time.Time
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, Convert(now, &ts))
	assert.True(t, now.Equal(ts))

	assert.Error(t, Convert("x", n))
	assert.Error(t, Convert("not a number", &n))
}
