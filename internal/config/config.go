package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultPageSize           = 20
	DefaultSessionMaxRetries  = 5
	DefaultSessionRetryDelay  = 3 * time.Second
	DefaultRoomReconnectDelay = 5 * time.Second
	DefaultHeartbeat          = 4 * time.Second
	DefaultNearTopThreshold   = 3

	sessionPath = "/api/notifications/subscribe"
	stompPath   = "/ws-stomp"
)

type Config struct {
	// APIBaseURL is the REST root, e.g. https://estate.example.com.
	APIBaseURL string
	SessionURL string
	StompURL   string
	Token      string

	PageSize           int
	SessionMaxRetries  int
	SessionRetryDelay  time.Duration
	RoomReconnectDelay time.Duration
	HeartbeatOutgoing  time.Duration
	HeartbeatIncoming  time.Duration
	NearTopThreshold   int
}

func NewConfig(baseURL, token string) (*Config, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", baseURL)
	}

	stompURL, err := websocketURL(u)
	if err != nil {
		return nil, err
	}

	root := strings.TrimRight(u.String(), "/")

	return &Config{
		APIBaseURL:         root,
		SessionURL:         root + sessionPath,
		StompURL:           stompURL,
		Token:              token,
		PageSize:           DefaultPageSize,
		SessionMaxRetries:  DefaultSessionMaxRetries,
		SessionRetryDelay:  DefaultSessionRetryDelay,
		RoomReconnectDelay: DefaultRoomReconnectDelay,
		HeartbeatOutgoing:  DefaultHeartbeat,
		HeartbeatIncoming:  DefaultHeartbeat,
		NearTopThreshold:   DefaultNearTopThreshold,
	}, nil
}

func websocketURL(u *url.URL) (string, error) {
	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	ws.Path = strings.TrimRight(u.Path, "/") + stompPath
	ws.RawQuery = ""
	return ws.String(), nil
}
