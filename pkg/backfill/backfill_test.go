package backfill

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatflow/chatflow/pkg/model"
)

func newestFirst(seqs ...int64) []model.Message {
	out := make([]model.Message, len(seqs))
	for i, seq := range seqs {
		out[i] = model.Message{ID: seq, Seq: seq}
	}
	return out
}

func seqsOf(msgs []model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Seq
	}
	return out
}

func TestWindowReversesToOldestFirst(t *testing.T) {
	msgs, hasMore := Window(newestFirst(5, 4, 3), 3)
	require.False(t, hasMore)
	require.Equal(t, []int64{3, 4, 5}, seqsOf(msgs))
}

func TestWindowExtraRowSignalsMoreHistory(t *testing.T) {
	// Storage fetched limit+1 rows; the extra one only proves that
	// older history exists and is trimmed from the page.
	msgs, hasMore := Window(newestFirst(6, 5, 4, 3), 3)
	require.True(t, hasMore)
	require.Equal(t, []int64{4, 5, 6}, seqsOf(msgs))
}

func TestWindowEmpty(t *testing.T) {
	msgs, hasMore := Window(nil, 10)
	require.False(t, hasMore)
	require.Empty(t, msgs)
}

func TestWindowExactPage(t *testing.T) {
	msgs, hasMore := Window(newestFirst(2, 1), 2)
	require.False(t, hasMore)
	require.Equal(t, []int64{1, 2}, seqsOf(msgs))
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, clampLimit(0))
	require.Equal(t, DefaultLimit, clampLimit(-5))
	require.Equal(t, 10, clampLimit(10))
	require.Equal(t, MaxLimit, clampLimit(MaxLimit+1))
}
