package types

import (
	"time"
)

type Message struct {
	Id             *int64    `json:"id,omitempty"`
	SenderIdentity string    `json:"senderIdentity"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	IsRead         bool      `json:"isRead"`
}

// ContentKey identifies a message by what it says, who said it and when.
// It is how messages without a server id are matched against the list.
func (m Message) ContentKey() ContentKey {
	return ContentKey{
		CreatedAt: m.CreatedAt.UnixNano(),
		Content:   m.Content,
		Sender:    m.SenderIdentity,
	}
}

type ContentKey struct {
	CreatedAt int64
	Content   string
	Sender    string
}

// Page is one page of room history as returned by the server, newest first.
type Page struct {
	Messages []Message
	// HasMore is nil when the server did not say whether older pages exist.
	HasMore *bool
}

// Chronological returns the page items oldest first.
func (p Page) Chronological() []Message {
	out := make([]Message, len(p.Messages))
	for i, m := range p.Messages {
		out[len(p.Messages)-1-i] = m
	}
	return out
}

type Room struct {
	RoomId              string `json:"roomId"`
	CounterpartIdentity string `json:"counterpartIdentity"`
	ListingId           string `json:"listingId"`
}

type RoomDetail struct {
	Room
	Messages Page
}

func Int64(v int64) *int64 {
	return &v
}

func Bool(v bool) *bool {
	return &v
}
