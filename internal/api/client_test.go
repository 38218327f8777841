package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/auth"
	"github.com/npezzotti/go-estate-chat/internal/testutil"
	"github.com/npezzotti/go-estate-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoMessages = `[
	{"id":2,"senderIdentity":"b@x","content":"second","createdAt":"2024-03-09T12:01:00Z","isRead":false},
	{"id":1,"senderIdentity":"a@x","content":"first","createdAt":"2024-03-09T12:00:00Z","isRead":true}
]`

func TestFetchHistory(t *testing.T) {
	tcases := []struct {
		name          string
		body          string
		expectHasMore *bool
	}{
		{
			name:          "bare array",
			body:          twoMessages,
			expectHasMore: nil,
		},
		{
			name:          "content with hasNext",
			body:          `{"content":` + twoMessages + `,"hasNext":true}`,
			expectHasMore: types.Bool(true),
		},
		{
			name:          "messages with hasMore",
			body:          `{"messages":` + twoMessages + `,"hasMore":false}`,
			expectHasMore: types.Bool(false),
		},
		{
			name:          "spring page with last",
			body:          `{"content":` + twoMessages + `,"last":true,"number":0}`,
			expectHasMore: types.Bool(false),
		},
		{
			name:          "no flag",
			body:          `{"content":` + twoMessages + `}`,
			expectHasMore: nil,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/chat/rooms/r1/messages", r.URL.Path)
				assert.Equal(t, "2", r.URL.Query().Get("page"))
				assert.Equal(t, "20", r.URL.Query().Get("size"))
				assert.Equal(t, "createdAt,desc", r.URL.Query().Get("sort"))
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL+"/", auth.NewTokenStore("tok"), srv.Client(), testutil.TestLogger(t))
			page, err := c.FetchHistory(context.Background(), "r1", 2, 20)
			require.NoError(t, err)

			require.Len(t, page.Messages, 2)
			assert.Equal(t, "second", page.Messages[0].Content, "expected newest first")
			assert.Equal(t, int64(1), *page.Messages[1].Id)
			assert.True(t, page.Messages[1].IsRead)
			assert.Equal(t, tc.expectHasMore, page.HasMore)
		})
	}
}

func TestFetchHistory_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(NewForbiddenError())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, srv.Client(), testutil.TestLogger(t))
	_, err := c.FetchHistory(context.Background(), "r1", 0, 20)

	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "forbidden", apiErr.Message)
}

func TestFetchHistory_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, srv.Client(), testutil.TestLogger(t))
	_, err := c.FetchHistory(context.Background(), "r1", 0, 20)

	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestFetchHistory_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":"nope"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, srv.Client(), testutil.TestLogger(t))
	_, err := c.FetchHistory(context.Background(), "r1", 0, 20)

	var parseErr *types.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestFetchRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/rooms/r1" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{
			"roomId":"r1",
			"counterpartIdentity":"agent@x",
			"listingId":"L-9",
			"messages":{"content":` + twoMessages + `,"last":false}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, srv.Client(), testutil.TestLogger(t))

	detail, err := c.FetchRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, types.Room{RoomId: "r1", CounterpartIdentity: "agent@x", ListingId: "L-9"}, detail.Room)
	assert.Len(t, detail.Messages.Messages, 2)
	assert.Equal(t, types.Bool(true), detail.Messages.HasMore)

	_, err = c.FetchRoom(context.Background(), "missing")
	var fetchErr *types.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(NewUnauthorizedError())
			return
		}
		json.NewEncoder(w).Encode(LoginResponse{Token: "jwt", Identity: req.Email})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, srv.Client(), testutil.TestLogger(t))

	lr, err := c.Login(context.Background(), "buyer@x", "secret")
	require.NoError(t, err)
	assert.Equal(t, LoginResponse{Token: "jwt", Identity: "buyer@x"}, lr)

	_, err = c.Login(context.Background(), "buyer@x", "wrong")
	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestHistoryFunc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/rooms/r5/messages", r.URL.Path)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, srv.Client(), testutil.TestLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	page, err := c.HistoryFunc("r5")(ctx, 0, 20)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestApiError(t *testing.T) {
	assert.Equal(t, "404 not found", NewNotFoundError().Error())
	assert.Equal(t, "internal server error: boom", NewInternalServerError(errors.New("boom")).Error())
}
