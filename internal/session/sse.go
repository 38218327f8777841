package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

const maxLineSize = 64 * 1024

// RawEvent is one dispatched server-sent event before decoding.
type RawEvent struct {
	Name string
	Data string
}

// Stream yields server-pushed events until it fails or is closed.
type Stream interface {
	Next() (RawEvent, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url, token string) (Stream, error)
}

// HTTPDialer opens text/event-stream connections with a bearer token.
type HTTPDialer struct {
	Client *http.Client
}

func (d *HTTPDialer) Dial(ctx context.Context, url, token string) (Stream, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	// The stream outlives ctx, which only bounds the handshake.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if !stop() {
		cancel()
		if err == nil {
			resp.Body.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected content type %q", mediaType)
	}

	return newEventReader(resp.Body, cancel), nil
}

type eventReader struct {
	body    io.Closer
	cancel  context.CancelFunc
	scanner *bufio.Scanner
}

func newEventReader(body io.ReadCloser, cancel context.CancelFunc) *eventReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &eventReader{body: body, cancel: cancel, scanner: scanner}
}

// Next reads lines until a blank line ends an event. Comment lines are
// keepalives. Named events are dispatched even without data lines because
// roomListUpdate carries nothing.
func (r *eventReader) Next() (RawEvent, error) {
	var (
		ev      RawEvent
		data    []string
		hasData bool
	)

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		if line == "" {
			if !hasData && ev.Name == "" {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return RawEvent{}, err
	}
	return RawEvent{}, io.EOF
}

func (r *eventReader) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	return r.body.Close()
}
