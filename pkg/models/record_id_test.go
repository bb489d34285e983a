package models

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID_cbor_roundtrip(t *testing.T) {
	testcases := []struct {
		name string
		rid  RecordID
	}{
		{
			name: "string ID",
			rid:  RecordID{Table: "apples", ID: "test_id"},
		},
		{
			name: "number-like string ID",
			rid:  RecordID{Table: "apples", ID: "12345"},
		},
		{
			name: "numeric ID",
			rid:  RecordID{Table: "apples", ID: int64(12345)},
		},
		{
			name: "numeric negative ID",
			rid:  RecordID{Table: "apples", ID: int64(-12345)},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := cbor.Marshal(tc.rid)
			require.NoError(t, err, "failed to marshal RecordID")

			var decoded RecordID
			require.NoError(t, cbor.Unmarshal(data, &decoded), "failed to unmarshal RecordID")
			assert.Equal(t, tc.rid, decoded)
		})
	}
}

func TestRecordID_String(t *testing.T) {
	tests := []struct {
		name     string
		recordID RecordID
		expected string
	}{
		{
			name:     "plain identifier",
			recordID: RecordID{Table: "trees", ID: "oak"},
			expected: "trees:oak",
		},
		{
			name:     "digits only needs escaping",
			recordID: RecordID{Table: "trees", ID: "123"},
			expected: "trees:⟨123⟩",
		},
		{
			name:     "special characters need escaping",
			recordID: RecordID{Table: "trees", ID: "tree-123"},
			expected: "trees:⟨tree-123⟩",
		},
		{
			name:     "numeric ID",
			recordID: RecordID{Table: "trees", ID: int64(123)},
			expected: "trees:123",
		},
		{
			name:     "emoji",
			recordID: RecordID{Table: "trees", ID: "tree😀"},
			expected: "trees:⟨tree😀⟩",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.recordID.String())
		})
	}
}

func TestParseRecordID(t *testing.T) {
	for _, rid := range []RecordID{
		{Table: "trees", ID: "oak"},
		{Table: "trees", ID: "123"},
		{Table: "trees", ID: "a⟩b"},
		{Table: "trees", ID: int64(42)},
	} {
		parsed, err := ParseRecordID(rid.String())
		require.NoError(t, err)
		assert.Equal(t, rid, parsed)
	}

	_, err := ParseRecordID("no-colon")
	assert.Error(t, err)
	_, err = ParseRecordID(":id")
	assert.Error(t, err)
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, int64(7), NormalizeID(7))
	assert.Equal(t, int64(7), NormalizeID(uint64(7)))
	assert.Equal(t, int64(7), NormalizeID(int32(7)))
	assert.Equal(t, "x", NormalizeID("x"))
	assert.Equal(t, "x", NormalizeID(RecordID{Table: "t", ID: "x"}))
	assert.Nil(t, NormalizeID(nil))
}

func TestIsZeroID(t *testing.T) {
	assert.True(t, IsZeroID(nil))
	assert.True(t, IsZeroID(""))
	assert.True(t, IsZeroID(0))
	assert.True(t, IsZeroID([]any{}))
	assert.False(t, IsZeroID("a"))
	assert.False(t, IsZeroID(int64(1)))
}

func TestIsComparableID(t *testing.T) {
	assert.True(t, IsComparableID("a"))
	assert.True(t, IsComparableID(int64(1)))
	assert.False(t, IsComparableID([]any{"a"}))
	assert.False(t, IsComparableID(nil))
}
