package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-estate-chat/internal/api"
	"github.com/npezzotti/go-estate-chat/internal/auth"
)

const defaultJwtExpiration = 24 * time.Hour

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func Identity(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(identityKey).(string)
	return identity, ok && identity != ""
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var lr api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := api.NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := api.NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.store.GetAccount(lr.Email)
	if err != nil {
		var errResp *api.ApiError
		if errors.Is(err, ErrNotFound) {
			errResp = api.NewUnauthorizedError()
		} else {
			errResp = api.NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(account.PasswordHash, lr.Password) {
		errResp := api.NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(account.Identity, s.tokenTTL)
	if err != nil {
		errResp := api.NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, api.LoginResponse{Token: token, Identity: account.Identity})
}

func (s *Server) createJwtForSession(identity string, exp time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		auth.IdentityClaim: identity,
		auth.ExpClaim:      now.Add(exp).Unix(),
		"iat":              now.Unix(),
	})

	return token.SignedString(s.signingKey)
}

// verifyToken checks the signature and expiry of tokenString and returns
// the identity it was issued to.
func (s *Server) verifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	identity, ok := claims[auth.IdentityClaim].(string)
	if !ok || identity == "" {
		return "", fmt.Errorf("invalid identity claim")
	}

	return identity, nil
}

func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}
