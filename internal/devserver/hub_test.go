package devserver

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_Publish(t *testing.T) {
	h := NewHub(testutil.TestLogger(t))

	a := h.subscribe("buyer")
	b := h.subscribe("buyer")
	other := h.subscribe("agent")
	assert.Equal(t, 2, h.Streams("buyer"))

	assert.Equal(t, 2, h.PublishUnreadCount("buyer", 3))
	for _, ch := range []chan sseEvent{a, b} {
		assert.Equal(t, sseEvent{name: eventUnreadCount, data: "3"}, <-ch)
	}
	assert.Empty(t, other)

	h.unsubscribe("buyer", a)
	assert.Equal(t, 1, h.Streams("buyer"))
	assert.Equal(t, 1, h.PublishRoomListUpdate("buyer"))
	assert.Equal(t, sseEvent{name: eventRoomListUpdate, data: "{}"}, <-b)

	assert.Equal(t, 1, h.PublishNotification("agent", Notification{Type: "NEW_MESSAGE", RoomId: "r1"}))
	ev := <-other
	assert.Empty(t, ev.name)
	assert.JSONEq(t, `{"type":"NEW_MESSAGE","roomId":"r1","senderIdentity":"","content":""}`, ev.data)

	assert.Equal(t, 0, h.PublishUnreadCount("nobody", 1))
}

func TestHub_FullStreamDrops(t *testing.T) {
	h := NewHub(testutil.TestLogger(t))
	ch := h.subscribe("buyer")

	for range sseBufferSize {
		require.Equal(t, 1, h.PublishRoomListUpdate("buyer"))
	}
	assert.Equal(t, 0, h.PublishRoomListUpdate("buyer"), "expected the event to be dropped")
	assert.Len(t, ch, sseBufferSize)
}

func TestWriteEvent(t *testing.T) {
	tcases := []struct {
		name     string
		ev       sseEvent
		expected string
	}{
		{
			name:     "named",
			ev:       sseEvent{name: "unreadCount", data: "4"},
			expected: "event: unreadCount\ndata: 4\n\n",
		},
		{
			name:     "unnamed",
			ev:       sseEvent{data: `{"a":1}`},
			expected: "data: {\"a\":1}\n\n",
		},
		{
			name:     "multi-line data",
			ev:       sseEvent{data: "a\nb"},
			expected: "data: a\ndata: b\n\n",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			require.NoError(t, writeEvent(rr, tc.ev))
			assert.Equal(t, tc.expected, rr.Body.String())
		})
	}
}

func TestSubscribeNotifications(t *testing.T) {
	s, _ := newTestServer(t, 3)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/notifications/subscribe", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, s, DemoAgent))

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	next := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event line")
			return ""
		}
	}

	// seeded buyer messages are unread by the agent
	assert.Equal(t, "event: unreadCount", next())
	assert.Equal(t, "data: 2", next())
	assert.Equal(t, "", next())

	require.Eventually(t, func() bool { return s.hub.Streams(DemoAgent) == 1 }, time.Second, 10*time.Millisecond)
	s.hub.PublishRoomListUpdate(DemoAgent)

	assert.Equal(t, "event: roomListUpdate", next())
	assert.Equal(t, "data: {}", next())
	assert.Equal(t, "", next())
}

func TestSubscribeNotifications_Unauthorized(t *testing.T) {
	s, _ := newTestServer(t, 0)

	rr := doRequest(s, http.MethodGet, "/api/notifications/subscribe", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/event-stream"))
}
