// Package devserver is a local stand-in for the portal backend: the REST
// history endpoints, the session event stream and the STOMP broker, backed
// by an in-memory store.
package devserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-estate-chat/internal/stats"
)

const (
	defaultHeartbeat = 4 * time.Second
	defaultKeepAlive = 15 * time.Second
)

type Config struct {
	Addr           string
	SigningKey     []byte
	AllowedOrigins []string
	Heartbeat      time.Duration
	KeepAlive      time.Duration
	TokenTTL       time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(addr, base64Secret string, allowedOrigins []string) (*Config, error) {
	if addr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		Addr:           addr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Heartbeat:      defaultHeartbeat,
		KeepAlive:      defaultKeepAlive,
		TokenTTL:       defaultJwtExpiration,
	}, nil
}

type Server struct {
	log            *log.Logger
	store          *Store
	hub            *Hub
	broker         *Broker
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string
	heartbeat      time.Duration
	keepAlive      time.Duration
	tokenTTL       time.Duration
	srv            *http.Server
	done           chan struct{}
}

func NewServer(logger *log.Logger, store *Store, st stats.StatsProvider, cfg *Config) *Server {
	hub := NewHub(logger)
	s := &Server{
		log:            logger,
		store:          store,
		hub:            hub,
		broker:         NewBroker(logger, store, hub, st),
		stats:          st,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		heartbeat:      cfg.Heartbeat,
		keepAlive:      cfg.KeepAlive,
		tokenTTL:       cfg.TokenTTL,
		done:           make(chan struct{}),
	}
	if s.keepAlive <= 0 {
		s.keepAlive = defaultKeepAlive
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = defaultJwtExpiration
	}
	st.RegisterMetric(stats.NumEventStreams)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/chat/rooms/{roomId}", s.participantOnly(s.getRoom))
	mux.Handle("GET /api/chat/rooms/{roomId}/messages", s.participantOnly(s.getMessages))
	mux.Handle("GET /api/notifications/subscribe", s.authMiddleware(s.subscribeNotifications))
	mux.HandleFunc("GET /ws-stomp", s.serveStomp)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.LoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.Addr,
		Handler: h,
	}

	return s
}

// Handler returns the fully wrapped handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Hub exposes the session event fan-out, for pushing events by hand.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown ends open event streams and STOMP sessions, then stops the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down server...")
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.broker.Shutdown()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.log.Println("server shutdown complete")
	return nil
}
