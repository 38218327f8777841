package devserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/api"
	"github.com/npezzotti/go-estate-chat/internal/stats"
)

const (
	eventUnreadCount    = "unreadCount"
	eventRoomListUpdate = "roomListUpdate"
	sseBufferSize       = 16
)

type sseEvent struct {
	name string
	data string
}

// Notification is the payload of an unnamed session event.
type Notification struct {
	Type           string `json:"type"`
	RoomId         string `json:"roomId"`
	SenderIdentity string `json:"senderIdentity"`
	Content        string `json:"content"`
}

// Hub fans session events out to every open event stream of an identity.
type Hub struct {
	log  *log.Logger
	mu   sync.Mutex
	subs map[string]map[chan sseEvent]struct{}
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		log:  logger,
		subs: make(map[string]map[chan sseEvent]struct{}),
	}
}

func (h *Hub) subscribe(identity string) chan sseEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan sseEvent, sseBufferSize)
	if h.subs[identity] == nil {
		h.subs[identity] = make(map[chan sseEvent]struct{})
	}
	h.subs[identity][ch] = struct{}{}
	return ch
}

func (h *Hub) unsubscribe(identity string, ch chan sseEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs[identity], ch)
	if len(h.subs[identity]) == 0 {
		delete(h.subs, identity)
	}
}

// publish queues ev on every stream of identity and returns how many took
// it. A stream whose buffer is full misses the event.
func (h *Hub) publish(identity string, ev sseEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for ch := range h.subs[identity] {
		select {
		case ch <- ev:
			delivered++
		default:
			h.log.Printf("event stream of %q is full, dropping %q", identity, ev.name)
		}
	}
	return delivered
}

func (h *Hub) PublishUnreadCount(identity string, count int) int {
	return h.publish(identity, sseEvent{name: eventUnreadCount, data: strconv.Itoa(count)})
}

func (h *Hub) PublishRoomListUpdate(identity string) int {
	return h.publish(identity, sseEvent{name: eventRoomListUpdate, data: "{}"})
}

func (h *Hub) PublishNotification(identity string, n Notification) int {
	data, err := json.Marshal(n)
	if err != nil {
		h.log.Println("marshal notification:", err)
		return 0
	}
	return h.publish(identity, sseEvent{data: string(data)})
}

// Streams returns the number of open event streams of identity.
func (h *Hub) Streams(identity string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[identity])
}

func (s *Server) subscribeNotifications(w http.ResponseWriter, r *http.Request) {
	identity, _ := Identity(r.Context())
	rc := http.NewResponseController(w)

	select {
	case <-s.done:
		errResp := api.NewServiceUnavailableError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	default:
	}

	ch := s.hub.subscribe(identity)
	s.stats.Incr(stats.NumEventStreams)
	defer func() {
		s.hub.unsubscribe(identity, ch)
		s.stats.Decr(stats.NumEventStreams)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Start every stream with the current count.
	initial := sseEvent{name: eventUnreadCount, data: strconv.Itoa(s.store.UnreadCount(identity))}
	if err := writeEvent(w, initial); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.log.Println("sse flush:", err)
		return
	}

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case ev := <-ch:
			err = writeEvent(w, ev)
		case <-keepAlive.C:
			_, err = fmt.Fprint(w, ": keepalive\n\n")
		case <-s.done:
			return
		case <-r.Context().Done():
			return
		}

		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			s.log.Printf("sse write to %q: %v", identity, err)
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, ev sseEvent) error {
	var b strings.Builder
	if ev.name != "" {
		b.WriteString("event: " + ev.name + "\n")
	}
	for _, line := range strings.Split(ev.data, "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")

	_, err := fmt.Fprint(w, b.String())
	return err
}
