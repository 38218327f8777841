package reconcile

import (
	"sort"
	"testing"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func msg(id int64, sender, content string, minute int) types.Message {
	m := types.Message{
		SenderIdentity: sender,
		Content:        content,
		CreatedAt:      base.Add(time.Duration(minute) * time.Minute),
	}
	if id > 0 {
		m.Id = types.Int64(id)
	}
	return m
}

func contents(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func assertSorted(t *testing.T, msgs []types.Message) {
	t.Helper()
	assert.True(t, sort.SliceIsSorted(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	}), "expected list to be sorted by createdAt: %v", contents(msgs))
}

func TestMerge_Idempotent(t *testing.T) {
	tcases := []struct {
		name string
		msg  types.Message
	}{
		{
			name: "keyed by id",
			msg:  msg(42, "buyer@x", "is it available?", 5),
		},
		{
			name: "keyed by composite",
			msg:  msg(0, "buyer@x", "is it available?", 5),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			tl := NewTimeline()
			tl.Merge(msg(1, "agent@x", "hello", 1))

			assert.True(t, tl.Merge(tc.msg), "expected first delivery to be added")
			assert.False(t, tl.Merge(tc.msg), "expected redelivery to be discarded")
			assert.Equal(t, 2, tl.Len())
		})
	}
}

func TestMerge_IdlessTwinOfStoredMessage(t *testing.T) {
	tl := NewTimeline()
	require.True(t, tl.Merge(msg(7, "buyer@x", "hi", 3)))

	assert.False(t, tl.Merge(msg(0, "buyer@x", "hi", 3)), "expected the id-less redelivery to match by content")
	assert.Equal(t, 1, tl.Len())

	assert.True(t, tl.Merge(msg(0, "agent@x", "hi", 3)), "expected another sender to be a different message")
	assert.Equal(t, 2, tl.Len())
}

func TestMerge_IdDecidesWhenPresent(t *testing.T) {
	tl := NewTimeline()
	tl.Merge(msg(7, "buyer@x", "hi", 3))

	// two sends of the same text in the same instant are distinct messages
	assert.True(t, tl.Merge(msg(8, "buyer@x", "hi", 3)))
	assert.Equal(t, 2, tl.Len())
}

func TestMerge_SameIdDifferentBody(t *testing.T) {
	tl := NewTimeline()
	tl.Merge(msg(3, "a@x", "first", 1))
	assert.False(t, tl.Merge(msg(3, "a@x", "retry with new timestamp", 2)))
	assert.Equal(t, []string{"first"}, contents(tl.Snapshot()))
}

func TestMerge_OutOfOrder(t *testing.T) {
	tl := NewTimeline()
	tl.Merge(msg(3, "a@x", "c", 3))
	tl.Merge(msg(1, "a@x", "a", 1))
	tl.Merge(msg(2, "b@x", "b", 2))

	got := tl.Snapshot()
	assert.Equal(t, []string{"a", "b", "c"}, contents(got))
	assertSorted(t, got)
}

func TestMergeAll_CountsNew(t *testing.T) {
	tl := NewTimeline()
	tl.Merge(msg(1, "a@x", "a", 1))

	added := tl.MergeAll([]types.Message{
		msg(1, "a@x", "a", 1),
		msg(2, "a@x", "b", 2),
		msg(2, "a@x", "b", 2),
	})
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, tl.Len())
}

func TestMarkReadAll_ScopedToIdentity(t *testing.T) {
	tl := NewTimeline()
	tl.Merge(msg(1, "self@x", "mine", 1))
	tl.Merge(msg(2, "other@x", "theirs", 2))

	changed := tl.MarkReadAll("self@x")
	assert.Equal(t, 1, changed)

	got := tl.Snapshot()
	assert.True(t, got[0].IsRead, "expected own message to be marked read")
	assert.False(t, got[1].IsRead, "expected counterpart message to be untouched")

	assert.Equal(t, 0, tl.MarkReadAll("self@x"), "expected second read-all to change nothing")
}

func TestReset(t *testing.T) {
	t.Run("replaces previous page", func(t *testing.T) {
		tl := NewTimeline()
		tl.MergeAll([]types.Message{msg(1, "a@x", "old", 1), msg(2, "a@x", "older", 0)})

		tl.Reset([]types.Message{msg(10, "a@x", "x", 10), msg(11, "a@x", "y", 11)})
		assert.Equal(t, []string{"x", "y"}, contents(tl.Snapshot()))
	})

	t.Run("keeps live arrivals newer than page", func(t *testing.T) {
		tl := NewTimeline()
		tl.Merge(msg(12, "b@x", "live", 12))
		tl.Merge(msg(11, "a@x", "y", 11))

		tl.Reset([]types.Message{msg(10, "a@x", "x", 10), msg(11, "a@x", "y", 11)})
		got := tl.Snapshot()
		assert.Equal(t, []string{"x", "y", "live"}, contents(got))
		assertSorted(t, got)
	})

	t.Run("empty page keeps live arrivals", func(t *testing.T) {
		tl := NewTimeline()
		tl.Merge(msg(9, "buyer@x", "live", 3))
		tl.Merge(msg(0, "agent@x", "pending", 4))

		tl.Reset(nil)
		assert.Equal(t, []string{"live", "pending"}, contents(tl.Snapshot()))
		assert.False(t, tl.Merge(msg(9, "buyer@x", "live", 3)), "expected the index to survive the reset")
	})
}

func TestOrderingAcrossPagesAndLive(t *testing.T) {
	tl := NewTimeline()

	latest := types.Page{Messages: []types.Message{
		msg(6, "a@x", "6", 6), msg(5, "b@x", "5", 5), msg(4, "a@x", "4", 4),
	}}
	older := types.Page{Messages: []types.Message{
		msg(3, "a@x", "3", 3), msg(2, "b@x", "2", 2), msg(1, "a@x", "1", 1),
	}}

	tl.Reset(latest.Chronological())
	tl.Prepend(older.Chronological())
	tl.Merge(msg(7, "b@x", "7", 7))

	got := tl.Snapshot()
	assertSorted(t, got)
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7"}, contents(got))
}

func TestSnapshotIsCopy(t *testing.T) {
	tl := NewTimeline()
	tl.Merge(msg(1, "a@x", "a", 1))

	snap := tl.Snapshot()
	snap[0].Content = "mutated"
	assert.Equal(t, "a", tl.Snapshot()[0].Content)
}
