package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/npezzotti/go-estate-chat/internal/types"
)

const (
	eventUnreadCount    = "unreadCount"
	eventRoomListUpdate = "roomListUpdate"
)

var errUnknownEvent = errors.New("unknown event")

// Event is one of NotificationEvent, UnreadCountEvent or RoomListUpdateEvent.
type Event interface {
	isEvent()
}

// NotificationEvent carries the server's notification payload verbatim.
type NotificationEvent struct {
	Payload json.RawMessage
}

type UnreadCountEvent struct {
	Count int
}

// RoomListUpdateEvent asks listeners to refetch the room list.
type RoomListUpdateEvent struct{}

func (NotificationEvent) isEvent()   {}
func (UnreadCountEvent) isEvent()    {}
func (RoomListUpdateEvent) isEvent() {}

func decodeEvent(raw RawEvent) (Event, error) {
	switch raw.Name {
	case "", "message":
		data := []byte(raw.Data)
		if !json.Valid(data) {
			return nil, &types.ParseError{Source: "notification", Err: fmt.Errorf("invalid json %q", raw.Data)}
		}
		return NotificationEvent{Payload: json.RawMessage(data)}, nil
	case eventUnreadCount:
		text := strings.Trim(strings.TrimSpace(raw.Data), `"`)
		count, err := strconv.Atoi(text)
		if err != nil {
			return nil, &types.ParseError{Source: eventUnreadCount, Err: err}
		}
		return UnreadCountEvent{Count: count}, nil
	case eventRoomListUpdate:
		return RoomListUpdateEvent{}, nil
	default:
		return nil, &types.ParseError{Source: raw.Name, Err: errUnknownEvent}
	}
}
