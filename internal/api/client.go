// Package api is the REST client for the portal backend's chat endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/auth"
	"github.com/npezzotti/go-estate-chat/internal/types"
)

const (
	defaultTimeout = 15 * time.Second
	historySort    = "createdAt,desc"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      auth.CredentialSource
	log        *log.Logger
}

// NewClient returns a client for baseURL. creds may be nil for
// unauthenticated calls such as Login.
func NewClient(baseURL string, creds auth.CredentialSource, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		creds:      creds,
		log:        logger,
	}
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	var lr LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, LoginRequest{Email: email, Password: password}, &lr)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("login: %w", err)
	}
	if lr.Token == "" {
		return LoginResponse{}, fmt.Errorf("login: empty token in response")
	}

	return lr, nil
}

// FetchHistory fetches one page of a room's history, newest first.
func (c *Client) FetchHistory(ctx context.Context, roomId string, page, size int) (types.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	q.Set("sort", historySort)

	var env pageEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/chat/rooms/"+url.PathEscape(roomId)+"/messages", q, nil, &env); err != nil {
		return types.Page{}, err
	}

	return env.page(), nil
}

// HistoryFunc binds FetchHistory to one room.
func (c *Client) HistoryFunc(roomId string) func(ctx context.Context, page, size int) (types.Page, error) {
	return func(ctx context.Context, page, size int) (types.Page, error) {
		return c.FetchHistory(ctx, roomId, page, size)
	}
}

// FetchRoom fetches a room with its latest page of messages.
func (c *Client) FetchRoom(ctx context.Context, roomId string) (types.RoomDetail, error) {
	var resp roomDetailResponse
	if err := c.do(ctx, http.MethodGet, "/api/chat/rooms/"+url.PathEscape(roomId), nil, nil, &resp); err != nil {
		return types.RoomDetail{}, &types.FetchError{Page: 0, Err: err}
	}

	return types.RoomDetail{
		Room:     resp.Room,
		Messages: resp.Messages.page(),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		if token, ok := c.creds.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeApiError(resp)
		c.log.Printf("api: %s %s: %v", method, path, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.ParseError{Source: path, Err: err}
	}

	return nil
}

// pageEnvelope accepts the page shapes the backend has used: a bare array,
// or an object with the items under content or messages and the
// more-pages flag under hasNext, hasMore or inverted last.
type pageEnvelope struct {
	Content  []types.Message `json:"content"`
	Messages []types.Message `json:"messages"`
	HasNext  *bool           `json:"hasNext"`
	HasMore  *bool           `json:"hasMore"`
	Last     *bool           `json:"last"`
}

func (e *pageEnvelope) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		*e = pageEnvelope{}
		return json.Unmarshal(trimmed, &e.Content)
	}

	type plain pageEnvelope
	return json.Unmarshal(trimmed, (*plain)(e))
}

func (e pageEnvelope) page() types.Page {
	msgs := e.Content
	if msgs == nil {
		msgs = e.Messages
	}

	var hasMore *bool
	switch {
	case e.HasNext != nil:
		hasMore = e.HasNext
	case e.HasMore != nil:
		hasMore = e.HasMore
	case e.Last != nil:
		hasMore = types.Bool(!*e.Last)
	}

	return types.Page{Messages: msgs, HasMore: hasMore}
}

type roomDetailResponse struct {
	types.Room
	Messages pageEnvelope `json:"messages"`
}
