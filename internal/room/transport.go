package room

import (
	"context"

	"github.com/npezzotti/go-estate-chat/internal/stompws"
)

const (
	sendDestination = "/pub/chat/message"
	topicPrefix     = "/sub/chat/room/"
	contentTypeJSON = "application/json"
)

// Transport is a live duplex connection to the message broker.
type Transport interface {
	Subscribe(destination string, fn func([]byte)) (string, error)
	Send(ctx context.Context, destination, contentType string, body []byte) error
	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens a Transport authenticated with token.
type DialFunc func(ctx context.Context, token string) (Transport, error)

// StompDialer dials STOMP over WebSocket with cfg, using the token passed to
// each dial.
func StompDialer(cfg stompws.Config) DialFunc {
	return func(ctx context.Context, token string) (Transport, error) {
		c := cfg
		c.Token = token

		conn, err := stompws.Dial(ctx, c)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func topic(roomId string) string {
	return topicPrefix + roomId
}
