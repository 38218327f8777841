package devserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(t *testing.T, s *Store) RoomRecord {
	t.Helper()
	room, err := s.CreateRoom("L-1", "buyer", "agent")
	require.NoError(t, err)
	return room
}

func TestStore_Messages(t *testing.T) {
	s := NewStore()
	room := newRoom(t, s)
	base := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	for i := range 45 {
		_, err := s.AddMessageAt(room.Id, "buyer", "m", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	tcases := []struct {
		name          string
		page          int
		size          int
		expectLen     int
		expectFirstId int64
		expectHasNext bool
	}{
		{name: "latest page", page: 0, size: 20, expectLen: 20, expectFirstId: 45, expectHasNext: true},
		{name: "middle page", page: 1, size: 20, expectLen: 20, expectFirstId: 25, expectHasNext: true},
		{name: "last partial page", page: 2, size: 20, expectLen: 5, expectFirstId: 5, expectHasNext: false},
		{name: "exact fit", page: 0, size: 45, expectLen: 45, expectFirstId: 45, expectHasNext: false},
		{name: "past the end", page: 3, size: 20, expectLen: 0, expectHasNext: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			msgs, hasNext, err := s.Messages(room.Id, tc.page, tc.size)
			require.NoError(t, err)
			require.Len(t, msgs, tc.expectLen)
			assert.Equal(t, tc.expectHasNext, hasNext)
			if tc.expectLen == 0 {
				assert.NotNil(t, msgs, "expected an empty, non-nil page")
				return
			}
			assert.Equal(t, tc.expectFirstId, *msgs[0].Id)
			for i := 1; i < len(msgs); i++ {
				assert.True(t, msgs[i-1].CreatedAt.After(msgs[i].CreatedAt), "expected newest first")
			}
		})
	}

	_, _, err := s.Messages("missing", 0, 20)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.Messages(room.Id, 0, 0)
	assert.Error(t, err)
}

func TestStore_AddMessage_StrictlyIncreasing(t *testing.T) {
	s := NewStore()
	room := newRoom(t, s)
	at := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

	first, err := s.AddMessageAt(room.Id, "buyer", "a", at)
	require.NoError(t, err)
	second, err := s.AddMessageAt(room.Id, "agent", "b", at)
	require.NoError(t, err)
	third, err := s.AddMessageAt(room.Id, "agent", "c", at.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(1), *first.Id)
	assert.Equal(t, int64(2), *second.Id)
	assert.Equal(t, int64(3), *third.Id)
	assert.Equal(t, at.Add(time.Millisecond), second.CreatedAt)
	assert.Equal(t, at.Add(2*time.Millisecond), third.CreatedAt)

	_, err = s.AddMessage("missing", "buyer", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_MarkRead(t *testing.T) {
	s := NewStore()
	room := newRoom(t, s)
	other, err := s.CreateRoom("L-2", "buyer", "agent2")
	require.NoError(t, err)

	for _, sender := range []string{"buyer", "agent", "buyer"} {
		_, err := s.AddMessage(room.Id, sender, "hi")
		require.NoError(t, err)
	}
	_, err = s.AddMessage(other.Id, "agent2", "hello")
	require.NoError(t, err)

	assert.Equal(t, 2, s.UnreadCount("agent"))
	assert.Equal(t, 2, s.UnreadCount("buyer"))

	assert.Equal(t, 2, s.MarkRead(room.Id, "agent"))
	assert.Equal(t, 0, s.MarkRead(room.Id, "agent"), "expected marking twice to change nothing")
	assert.Equal(t, 0, s.UnreadCount("agent"))
	assert.Equal(t, 2, s.UnreadCount("buyer"))

	msgs, _, err := s.Messages(room.Id, 0, 10)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.Equal(t, m.SenderIdentity == "buyer", m.IsRead)
	}
}

func TestStore_Rooms(t *testing.T) {
	s := NewStore()
	room := newRoom(t, s)

	got, err := s.GetRoom(room.Id)
	require.NoError(t, err)
	assert.Equal(t, "L-1", got.ListingId)

	_, err = s.GetRoom("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.True(t, s.IsParticipant(room.Id, "buyer"))
	assert.False(t, s.IsParticipant(room.Id, "stranger"))
	assert.False(t, s.IsParticipant("missing", "buyer"))

	assert.Equal(t, "agent", s.Counterpart(room.Id, "buyer"))
	assert.Equal(t, "buyer", s.Counterpart(room.Id, "agent"))
	assert.Empty(t, s.Counterpart("missing", "buyer"))
}

func TestStore_Accounts(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.CreateAccount("buyer", "secret"))
	assert.ErrorIs(t, s.CreateAccount("buyer", "other"), ErrAccountExists)

	a, err := s.GetAccount("buyer")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", a.PasswordHash)
	assert.True(t, verifyPassword(a.PasswordHash, "secret"))
	assert.False(t, verifyPassword(a.PasswordHash, "wrong"))

	_, err = s.GetAccount("nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeed(t *testing.T) {
	s := NewStore()
	room, err := Seed(s, 5)
	require.NoError(t, err)

	msgs, hasNext, err := s.Messages(room.Id, 0, 20)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
	assert.False(t, hasNext)
	assert.Equal(t, "message 5 about "+DemoListing, msgs[0].Content)
	assert.Equal(t, DemoBuyer, msgs[0].SenderIdentity)

	_, err = Seed(s, 1)
	assert.ErrorIs(t, err, ErrAccountExists)
}
