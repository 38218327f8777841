// Package auth holds the bearer credential of the logged-in session.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	IdentityClaim = "sub"
	ExpClaim      = "exp"
)

var ErrNoToken = errors.New("no token")

// CredentialSource supplies the bearer token for connection handshakes.
type CredentialSource interface {
	// Token returns the current token and whether it is usable.
	Token() (string, bool)
}

// TokenStore keeps the session token in memory. A token is usable while it
// is present and its exp claim, if any, lies in the future.
type TokenStore struct {
	mu    sync.RWMutex
	token string
	now   func() time.Time
}

func NewTokenStore(token string) *TokenStore {
	return &TokenStore{token: token, now: time.Now}
}

func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Clear drops the token, which is how logout looks to the channels.
func (s *TokenStore) Clear() {
	s.Set("")
}

func (s *TokenStore) Token() (string, bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", false
	}

	claims, err := parseClaims(token)
	if err != nil {
		return "", false
	}

	if !claims.VerifyExpiresAt(s.now().Unix(), false) {
		return "", false
	}

	return token, true
}

// Identity returns the subject of the current token, the identity the
// server stamps on messages this session sends.
func (s *TokenStore) Identity() (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", ErrNoToken
	}

	return IdentityFromToken(token)
}

func IdentityFromToken(token string) (string, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return "", err
	}

	sub, ok := claims[IdentityClaim].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("invalid %s claim", IdentityClaim)
	}

	return sub, nil
}

// parseClaims reads the claims without verifying the signature; the client
// never holds the signing key and only needs exp and sub.
func parseClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	return claims, nil
}
