package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestDelta_RoundTrip(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("line of text\n", 500)

	tests := []struct {
		name     string
		original string
		updated  string
	}{
		{name: "append", original: "hello", updated: "hello world"},
		{name: "prepend", original: "world", updated: "hello world"},
		{name: "replace middle", original: "the quick brown fox", updated: "the slow brown fox"},
		{name: "delete all", original: "gone", updated: ""},
		{name: "from empty", original: "", updated: "fresh"},
		{name: "identical", original: "same", updated: "same"},
		{name: "multibyte", original: "naïve café", updated: "naïve cafés ☕"},
		{name: "large edit", original: long, updated: strings.Replace(long, "line of text", "LINE", 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ops := ComputeDelta([]byte(tt.original), []byte(tt.updated))

			raw, err := msgpack.Marshal(ops)
			require.NoError(t, err)

			var decoded []DeltaOp
			require.NoError(t, msgpack.Unmarshal(raw, &decoded))

			got, err := ApplyDelta([]byte(tt.original), decoded)
			require.NoError(t, err)
			assert.Equal(t, tt.updated, string(got))
		})
	}
}

func TestDelta_SmallerThanContent(t *testing.T) {
	t.Parallel()

	original := []byte(strings.Repeat("0123456789abcdef", 1024))
	updated := append([]byte("header\n"), original...)

	raw, err := msgpack.Marshal(ComputeDelta(original, updated))
	require.NoError(t, err)
	assert.Less(t, len(raw), len(updated)/10)
}

func TestApplyDelta_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ops  []DeltaOp
	}{
		{name: "keep past end", ops: []DeltaOp{{Op: DeltaKeep, N: 10}}},
		{name: "skip past end", ops: []DeltaOp{{Op: DeltaSkip, N: 10}}},
		{name: "base not consumed", ops: []DeltaOp{{Op: DeltaKeep, N: 1}}},
		{name: "unknown op", ops: []DeltaOp{{Op: 7}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ApplyDelta([]byte("abc"), tt.ops)
			require.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestDeltaOp_WireForm(t *testing.T) {
	t.Parallel()

	raw, err := msgpack.Marshal([]DeltaOp{
		{Op: DeltaKeep, N: 3},
		{Op: DeltaInsert, Data: []byte("xy")},
		{Op: DeltaSkip, N: 2},
	})
	require.NoError(t, err)

	var generic []any
	require.NoError(t, msgpack.Unmarshal(raw, &generic))
	require.Len(t, generic, 3)
	assert.Equal(t, []any{int8(0), int8(3)}, generic[0])
	assert.Equal(t, []any{int8(1), []byte("xy")}, generic[1])
	assert.Equal(t, []any{int8(-1), int8(2)}, generic[2])
}
