package devserver

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/npezzotti/go-estate-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMessages(t *testing.T) {
	s, room := newTestServer(t, 45)
	buyer := tokenFor(t, s, DemoBuyer)
	stranger := tokenFor(t, s, "stranger@example.com")
	base := "/api/chat/rooms/" + room.Id + "/messages"

	tcases := []struct {
		name          string
		target        string
		token         string
		expectStatus  int
		expectLen     int
		expectHasNext bool
	}{
		{
			name:          "defaults",
			target:        base,
			token:         buyer,
			expectStatus:  http.StatusOK,
			expectLen:     20,
			expectHasNext: true,
		},
		{
			name:          "last page",
			target:        base + "?page=2&size=20&sort=createdAt,desc",
			token:         buyer,
			expectStatus:  http.StatusOK,
			expectLen:     5,
			expectHasNext: false,
		},
		{
			name:         "size too large",
			target:       base + "?size=101",
			token:        buyer,
			expectStatus: http.StatusBadRequest,
		},
		{
			name:         "size zero",
			target:       base + "?size=0",
			token:        buyer,
			expectStatus: http.StatusBadRequest,
		},
		{
			name:         "negative page",
			target:       base + "?page=-1",
			token:        buyer,
			expectStatus: http.StatusBadRequest,
		},
		{
			name:         "unsupported sort",
			target:       base + "?sort=createdAt,asc",
			token:        buyer,
			expectStatus: http.StatusBadRequest,
		},
		{
			name:         "not a participant",
			target:       base,
			token:        stranger,
			expectStatus: http.StatusForbidden,
		},
		{
			name:         "unknown room",
			target:       "/api/chat/rooms/nope/messages",
			token:        buyer,
			expectStatus: http.StatusNotFound,
		},
		{
			name:         "unauthenticated",
			target:       base,
			expectStatus: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(s, http.MethodGet, tc.target, tc.token, "")
			require.Equal(t, tc.expectStatus, rr.Code, rr.Body.String())
			if tc.expectStatus != http.StatusOK {
				return
			}

			var page PageResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&page))
			assert.Len(t, page.Content, tc.expectLen)
			assert.Equal(t, tc.expectHasNext, page.HasNext)
		})
	}
}

func TestGetRoom(t *testing.T) {
	s, room := newTestServer(t, 3)

	tcases := []struct {
		identity          string
		expectCounterpart string
	}{
		{identity: DemoBuyer, expectCounterpart: DemoAgent},
		{identity: DemoAgent, expectCounterpart: DemoBuyer},
	}

	for _, tc := range tcases {
		t.Run(tc.identity, func(t *testing.T) {
			rr := doRequest(s, http.MethodGet, "/api/chat/rooms/"+room.Id, tokenFor(t, s, tc.identity), "")
			require.Equal(t, http.StatusOK, rr.Code)

			var resp RoomResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, types.Room{
				RoomId:              room.Id,
				CounterpartIdentity: tc.expectCounterpart,
				ListingId:           DemoListing,
			}, resp.Room)
			assert.Len(t, resp.Messages.Content, 3)
			assert.False(t, resp.Messages.HasNext)
		})
	}
}
