// Package reconcile holds the display list of a room and the merge rules
// that keep it ordered and free of redelivered duplicates.
package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/types"
)

// Timeline is the ordered message list of one room view. It is safe for
// concurrent use by the room channel and the history paginator.
type Timeline struct {
	mu       sync.RWMutex
	messages []types.Message
	// every stored message is indexed by content; those with an id by id too
	ids      map[int64]struct{}
	contents map[types.ContentKey]struct{}
}

func NewTimeline() *Timeline {
	t := &Timeline{}
	t.clearIndex()
	return t
}

// Merge inserts msg unless it is already present. A message with an id
// matches on id alone; one without matches on its content key against every
// stored message. It reports whether the list changed.
func (t *Timeline) Merge(msg types.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.add(msg) {
		return false
	}

	t.sort()
	return true
}

// MergeAll merges msgs and returns how many were new.
func (t *Timeline) MergeAll(msgs []types.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if t.add(m) {
			added++
		}
	}

	if added > 0 {
		t.sort()
	}
	return added
}

// Prepend merges an older page. Items are deduplicated like any other merge,
// so a page overlapping live traffic cannot produce doubles.
func (t *Timeline) Prepend(older []types.Message) int {
	return t.MergeAll(older)
}

// Reset replaces the list with the most recent page. Messages already in the
// list that are not older than the page (live arrivals that beat the page
// fetch) are kept, as is the whole list when the page is empty.
func (t *Timeline) Reset(latest []types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous := t.messages
	t.messages = nil
	t.clearIndex()

	for _, m := range latest {
		t.add(m)
	}

	// an empty page bounds nothing, so everything already received stays
	keepAll := len(t.messages) == 0
	var oldest time.Time
	if !keepAll {
		t.sort()
		oldest = t.messages[0].CreatedAt
	}
	for _, m := range previous {
		if keepAll || !m.CreatedAt.Before(oldest) {
			t.add(m)
		}
	}

	t.sort()
}

// MarkReadAll flips IsRead on every unread message sent by identity and
// returns how many changed. Messages from anyone else are left alone.
func (t *Timeline) MarkReadAll(identity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := 0
	for i := range t.messages {
		m := &t.messages[i]
		if m.SenderIdentity == identity && !m.IsRead {
			m.IsRead = true
			changed++
		}
	}

	return changed
}

// Snapshot returns a copy of the list in display order.
func (t *Timeline) Snapshot() []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.messages)
}

func (t *Timeline) add(m types.Message) bool {
	key := m.ContentKey()
	if m.Id != nil {
		if _, ok := t.ids[*m.Id]; ok {
			return false
		}
	} else if _, ok := t.contents[key]; ok {
		return false
	}

	if m.Id != nil {
		t.ids[*m.Id] = struct{}{}
	}
	t.contents[key] = struct{}{}
	t.messages = append(t.messages, m)
	return true
}

func (t *Timeline) clearIndex() {
	t.ids = make(map[int64]struct{})
	t.contents = make(map[types.ContentKey]struct{})
}

// sort is stable so messages sharing a timestamp keep arrival order.
func (t *Timeline) sort() {
	sort.SliceStable(t.messages, func(i, j int) bool {
		return t.messages[i].CreatedAt.Before(t.messages[j].CreatedAt)
	})
}
