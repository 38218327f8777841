package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	tcases := []struct {
		name       string
		baseURL    string
		token      string
		apiBase    string
		sessionURL string
		stompURL   string
		err        bool
	}{
		{
			name:       "http base",
			baseURL:    "http://localhost:8080",
			token:      "tok",
			apiBase:    "http://localhost:8080",
			sessionURL: "http://localhost:8080/api/notifications/subscribe",
			stompURL:   "ws://localhost:8080/ws-stomp",
		},
		{
			name:       "https base with path",
			baseURL:    "https://estate.example.com/backend/",
			apiBase:    "https://estate.example.com/backend",
			sessionURL: "https://estate.example.com/backend/api/notifications/subscribe",
			stompURL:   "wss://estate.example.com/backend/ws-stomp",
		},
		{
			name:    "empty base",
			baseURL: "",
			err:     true,
		},
		{
			name:    "no host",
			baseURL: "/relative",
			err:     true,
		},
		{
			name:    "unsupported scheme",
			baseURL: "ftp://example.com",
			err:     true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.baseURL, tc.token)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.apiBase, cfg.APIBaseURL)
			assert.Equal(t, tc.sessionURL, cfg.SessionURL)
			assert.Equal(t, tc.stompURL, cfg.StompURL)
			assert.Equal(t, tc.token, cfg.Token)
			assert.Equal(t, DefaultPageSize, cfg.PageSize)
			assert.Equal(t, DefaultSessionMaxRetries, cfg.SessionMaxRetries)
			assert.Equal(t, DefaultSessionRetryDelay, cfg.SessionRetryDelay)
			assert.Equal(t, DefaultRoomReconnectDelay, cfg.RoomReconnectDelay)
			assert.Equal(t, DefaultHeartbeat, cfg.HeartbeatOutgoing)
			assert.Equal(t, DefaultHeartbeat, cfg.HeartbeatIncoming)
		})
	}
}
