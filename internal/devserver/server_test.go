package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/api"
	"github.com/npezzotti/go-estate-chat/internal/stats"
	"github.com/npezzotti/go-estate-chat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, messages int) (*Server, RoomRecord) {
	t.Helper()

	store := NewStore()
	room, err := Seed(store, messages)
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount("stranger@example.com", DemoPassword))

	cfg := &Config{
		Addr:       "localhost:0",
		SigningKey: []byte("secret"),
		KeepAlive:  time.Hour,
		TokenTTL:   time.Hour,
	}
	s := NewServer(testutil.TestLogger(t), store, stats.NewPermissiveMock(), cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})

	return s, room
}

func tokenFor(t *testing.T, s *Server, identity string) string {
	t.Helper()
	token, err := s.createJwtForSession(identity, time.Hour)
	require.NoError(t, err)
	return token
}

func doRequest(s *Server, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestNewConfig(t *testing.T) {
	tcases := []struct {
		name        string
		addr        string
		secret      string
		expectErr   bool
		expectKey   []byte
		expectedTTL time.Duration
	}{
		{name: "valid", addr: "localhost:8000", secret: "c2VjcmV0", expectKey: []byte("secret"), expectedTTL: defaultJwtExpiration},
		{name: "empty address", addr: "", secret: "c2VjcmV0", expectErr: true},
		{name: "empty secret", addr: "localhost:8000", secret: "", expectErr: true},
		{name: "secret not base64", addr: "localhost:8000", secret: "%%%", expectErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.addr, tc.secret, []string{"http://localhost:3000"})
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectKey, cfg.SigningKey)
			assert.Equal(t, tc.expectedTTL, cfg.TokenTTL)
			assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
		})
	}
}

func TestNewServer(t *testing.T) {
	store := NewStore()
	st := stats.NewPermissiveMock()
	cfg := &Config{Addr: "localhost:8080", SigningKey: []byte("secret")}

	s := NewServer(testutil.TestLogger(t), store, st, cfg)

	assert.Equal(t, store, s.store, "expected store to be set")
	assert.Equal(t, cfg.Addr, s.srv.Addr, "expected server address to match config")
	assert.Equal(t, defaultKeepAlive, s.keepAlive, "expected default keep-alive")
	assert.Equal(t, defaultJwtExpiration, s.tokenTTL, "expected default token lifetime")
	assert.NotNil(t, s.Hub())
	st.AssertCalled(t, "RegisterMetric", stats.NumEventStreams)
	st.AssertCalled(t, "RegisterMetric", stats.NumRooms)
}

func TestErrorHandler(t *testing.T) {
	s, _ := newTestServer(t, 0)

	h := s.errorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))

	var apiErr api.ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestShutdown_Idempotent(t *testing.T) {
	s, _ := newTestServer(t, 0)

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
}
