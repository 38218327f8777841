package devserver

import (
	"fmt"
	"time"
)

const (
	DemoBuyer    = "buyer@example.com"
	DemoAgent    = "agent@example.com"
	DemoPassword = "password"
	DemoListing  = "L-1001"
)

// Seed creates the demo accounts and one room about DemoListing holding
// count messages, alternating senders and spaced a minute apart.
func Seed(store *Store, count int) (RoomRecord, error) {
	for _, identity := range []string{DemoBuyer, DemoAgent} {
		if err := store.CreateAccount(identity, DemoPassword); err != nil {
			return RoomRecord{}, fmt.Errorf("create account %q: %w", identity, err)
		}
	}

	room, err := store.CreateRoom(DemoListing, DemoBuyer, DemoAgent)
	if err != nil {
		return RoomRecord{}, err
	}

	start := time.Now().Add(-time.Duration(count) * time.Minute)
	for i := range count {
		sender := DemoBuyer
		if i%2 == 1 {
			sender = DemoAgent
		}
		content := fmt.Sprintf("message %d about %s", i+1, DemoListing)
		if _, err := store.AddMessageAt(room.Id, sender, content, start.Add(time.Duration(i)*time.Minute)); err != nil {
			return RoomRecord{}, err
		}
	}

	return room, nil
}
