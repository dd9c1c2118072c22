package sqlstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

func TestFromDB(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		typ  schema.ScalarType
		in   any
		want any
	}{
		{"null", schema.TypeString, nil, nil},
		{"bytes as string", schema.TypeText, []byte("hi"), "hi"},
		{"int", schema.TypeInt, int64(4), int64(4)},
		{"int from text", schema.TypeInt, []byte("42"), int64(42)},
		{"float from int", schema.TypeFloat, int64(2), 2.0},
		{"sqlite bool", schema.TypeBool, int64(1), true},
		{"timestamp", schema.TypeTimestamp, ts, ts},
		{"timestamp text", schema.TypeTimestamp, "2024-01-02T03:04:05Z", ts},
		{"json text", schema.TypeJSON, []byte(`{"a":[1,2]}`), map[string]any{"a": []any{json.Number("1"), json.Number("2")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fromDB(tt.typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := fromDB(schema.TypeBool, 2.5)
	assert.Error(t, err)
	_, err = fromDB(schema.TypeJSON, "{")
	assert.Error(t, err)
}

func TestToDB(t *testing.T) {
	v, err := toDB(schema.TypeJSON, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, v)

	local := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	v, err = toDB(schema.TypeTimestamp, local)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, v.(time.Time).Location())

	v, err = toDB(schema.TypeString, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}
