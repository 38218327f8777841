package room

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/npezzotti/go-estate-chat/internal/types"
)

const (
	typeTalk    = "TALK"
	typeReadAll = "READ_ALL"
)

var errMissingCreatedAt = errors.New("chat message without createdAt")

// Inbound is one of ChatMessage or ReadAll.
type Inbound interface {
	isInbound()
}

type ChatMessage struct {
	types.Message
}

// ReadAll reports that ReaderIdentity has read everything sent to them.
type ReadAll struct {
	ReaderIdentity string
}

func (ChatMessage) isInbound() {}
func (ReadAll) isInbound()     {}

// OutboundMessage is the payload published to send a chat message.
type OutboundMessage struct {
	Type    string `json:"type"`
	RoomId  string `json:"roomId"`
	Content string `json:"content"`
}

type envelope struct {
	Type           string `json:"type"`
	ReaderIdentity string `json:"readerIdentity"`
}

func decodeInbound(body []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &types.ParseError{Source: "room message", Err: err}
	}

	switch env.Type {
	case typeReadAll:
		return ReadAll{ReaderIdentity: env.ReaderIdentity}, nil
	case "", typeTalk:
		var msg types.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, &types.ParseError{Source: "chat message", Err: err}
		}
		if msg.CreatedAt.IsZero() {
			return nil, &types.ParseError{Source: "chat message", Err: errMissingCreatedAt}
		}
		return ChatMessage{Message: msg}, nil
	default:
		return nil, &types.ParseError{Source: "room message", Err: fmt.Errorf("unknown type %q", env.Type)}
	}
}
