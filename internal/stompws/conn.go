// Package stompws is a small STOMP 1.2 client over a WebSocket connection,
// one frame per WebSocket message.
package stompws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	handshakeWait  = 10 * time.Second
	maxMessageSize = 64 * 1024
	// readGrace is added to the negotiated incoming heart-beat before a
	// silent connection is treated as dead.
	readGrace = 2 * time.Second
)

var (
	ErrClosed = errors.New("stomp connection closed")
	heartbeat = []byte("\n")
)

// ServerError is a STOMP ERROR frame.
type ServerError struct {
	Message string
	Body    string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return "stomp error: " + e.Message
	}
	return fmt.Sprintf("stomp error: %s: %s", e.Message, e.Body)
}

type Config struct {
	URL   string
	Token string
	// Host is sent in the CONNECT host header; defaults to the URL host.
	Host              string
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	Dialer            *websocket.Dialer
	Logger            *log.Logger
}

type outbound struct {
	frame *frame.Frame
	errc  chan error
}

type Conn struct {
	ws  *websocket.Conn
	log *log.Logger

	sendOut  time.Duration
	expectIn time.Duration

	send chan outbound
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once
	failOnce sync.Once

	mu   sync.Mutex
	subs map[string]func([]byte)
	err  error
}

// Dial opens the WebSocket, performs the STOMP CONNECT handshake and starts
// the read and write pumps. ctx bounds the handshake only.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	ws, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	host := cfg.Host
	if host == "" {
		host = hostOf(cfg.URL)
	}

	c := &Conn{
		ws:   ws,
		log:  cfg.Logger,
		send: make(chan outbound),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		subs: make(map[string]func([]byte)),
	}

	if err := c.handshake(ctx, host, cfg); err != nil {
		ws.Close()
		return nil, err
	}

	go c.writeLoop()
	go c.readLoop()

	return c, nil
}

func (c *Conn) handshake(ctx context.Context, host string, cfg Config) error {
	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2",
		frame.Host, host,
		frame.HeartBeat, FormatHeartBeat(cfg.HeartbeatOutgoing, cfg.HeartbeatIncoming),
	)
	if cfg.Token != "" {
		connect.Header.Add("Authorization", "Bearer "+cfg.Token)
	}

	deadline := time.Now().Add(handshakeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.ws.SetWriteDeadline(deadline)
	if err := WriteFrame(c.ws, connect); err != nil {
		return fmt.Errorf("write connect: %w", err)
	}

	c.ws.SetReadDeadline(deadline)
	var reply *frame.Frame
	for reply == nil {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read connected: %w", err)
		}
		reply, err = frame.NewReader(bytes.NewReader(raw)).Read()
		if err != nil && err != io.EOF {
			return fmt.Errorf("parse connected: %w", err)
		}
	}
	c.ws.SetReadDeadline(time.Time{})

	switch reply.Command {
	case frame.CONNECTED:
	case frame.ERROR:
		return &ServerError{Message: reply.Header.Get(frame.Message), Body: string(reply.Body)}
	default:
		return fmt.Errorf("unexpected %s frame during handshake", reply.Command)
	}

	serverOut, serverIn := ParseHeartBeat(reply.Header.Get(frame.HeartBeat))
	c.sendOut = Negotiate(cfg.HeartbeatOutgoing, serverIn)
	c.expectIn = Negotiate(cfg.HeartbeatIncoming, serverOut)

	return nil
}

// Subscribe registers fn for MESSAGE frames on destination and returns the
// subscription id. fn runs on the read goroutine, in arrival order.
func (c *Conn) Subscribe(destination string, fn func([]byte)) (string, error) {
	id := uuid.NewString()

	c.mu.Lock()
	c.subs[id] = fn
	c.mu.Unlock()

	f := frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
	if err := c.write(context.Background(), f); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return "", fmt.Errorf("subscribe %s: %w", destination, err)
	}

	return id, nil
}

func (c *Conn) Unsubscribe(id string) error {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()

	return c.write(context.Background(), frame.New(frame.UNSUBSCRIBE, frame.Id, id))
}

// Send publishes body to destination. It returns once the frame has been
// written to the socket.
func (c *Conn) Send(ctx context.Context, destination, contentType string, body []byte) error {
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, contentType,
	)
	f.Body = body

	return c.write(ctx, f)
}

// Done is closed when the connection has ended for any reason.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended: ErrClosed after Close, otherwise
// the failure that ended it. It is nil while the connection is live.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends DISCONNECT and closes the socket. It is idempotent.
func (c *Conn) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

func (c *Conn) write(ctx context.Context, f *frame.Frame) error {
	out := outbound{frame: f, errc: make(chan error, 1)}

	select {
	case c.send <- out:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.errc:
		return err
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conn) writeLoop() {
	var tick <-chan time.Time
	if c.sendOut > 0 {
		ticker := time.NewTicker(c.sendOut)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case out := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := WriteFrame(c.ws, out.frame)
			out.errc <- err
			if err != nil {
				c.fail(fmt.Errorf("write %s: %w", out.frame.Command, err))
				return
			}
		case <-tick:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				c.fail(fmt.Errorf("write heart-beat: %w", err))
				return
			}
		case <-c.stop:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := WriteFrame(c.ws, frame.New(frame.DISCONNECT)); err != nil {
				c.log.Println("stomp: write disconnect:", err)
			}
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.fail(ErrClosed)
			return
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	c.extendReadDeadline()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Println("stomp: read:", err)
			}
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
		c.extendReadDeadline()

		r := frame.NewReader(bytes.NewReader(raw))
		for {
			f, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				// the rest of this message cannot be framed, the next one can
				c.log.Println("stomp: dropping malformed frame:", err)
				break
			}
			if f == nil {
				// heart-beat
				continue
			}
			if err := c.handle(f); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Conn) handle(f *frame.Frame) error {
	switch f.Command {
	case frame.MESSAGE:
		c.mu.Lock()
		fn := c.subs[f.Header.Get(frame.Subscription)]
		c.mu.Unlock()
		if fn == nil {
			c.log.Println("stomp: message for unknown subscription", f.Header.Get(frame.Subscription))
			return nil
		}
		fn(f.Body)
	case frame.ERROR:
		return &ServerError{Message: f.Header.Get(frame.Message), Body: string(f.Body)}
	case frame.RECEIPT:
	default:
		c.log.Println("stomp: ignoring frame", f.Command)
	}
	return nil
}

func (c *Conn) extendReadDeadline() {
	if c.expectIn > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.expectIn + readGrace))
	}
}

// fail ends the connection once. A failure racing with Close is reported
// as ErrClosed.
func (c *Conn) fail(err error) {
	c.failOnce.Do(func() {
		select {
		case <-c.stop:
			err = ErrClosed
		default:
		}

		c.mu.Lock()
		c.err = err
		c.mu.Unlock()

		close(c.done)
		c.ws.Close()
	})
}

// WriteFrame writes f as a single WebSocket text message.
func WriteFrame(ws *websocket.Conn, f *frame.Frame) error {
	w, err := ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := frame.NewWriter(w).Write(f); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// FormatHeartBeat renders a heart-beat header value in milliseconds.
func FormatHeartBeat(out, in time.Duration) string {
	return strconv.FormatInt(out.Milliseconds(), 10) + "," + strconv.FormatInt(in.Milliseconds(), 10)
}

// ParseHeartBeat returns the sender's (outgoing, incoming) intervals. A
// missing or malformed header means no heart-beats.
func ParseHeartBeat(v string) (time.Duration, time.Duration) {
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0
	}
	out, err1 := strconv.Atoi(strings.TrimSpace(a))
	in, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || out < 0 || in < 0 {
		return 0, 0
	}
	return time.Duration(out) * time.Millisecond, time.Duration(in) * time.Millisecond
}

// Negotiate applies the STOMP rule: zero on either side disables the
// heart-beat, otherwise the larger interval wins.
func Negotiate(ours, theirs time.Duration) time.Duration {
	if ours <= 0 || theirs <= 0 {
		return 0
	}
	return max(ours, theirs)
}

func hostOf(rawURL string) string {
	rest, ok := strings.CutPrefix(rawURL, "ws://")
	if !ok {
		rest, _ = strings.CutPrefix(rawURL, "wss://")
	}
	host, _, _ := strings.Cut(rest, "/")
	return host
}
