// Package session maintains the push connection of a logged-in session and
// fans its events out to listeners.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/auth"
	"github.com/npezzotti/go-estate-chat/internal/clock"
	"github.com/npezzotti/go-estate-chat/internal/stats"
	"github.com/npezzotti/go-estate-chat/internal/types"
)

const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 3 * time.Second
)

var (
	ErrNoCredential = errors.New("no valid credential")
	ErrDisconnected = errors.New("disconnected while connecting")
)

type Config struct {
	URL        string
	MaxRetries int
	RetryDelay time.Duration
	Dialer     Dialer
	Clock      clock.Clock
	Logger     *log.Logger
	Stats      stats.StatsProvider
	// OnState, if set, is called after every state change, outside any lock.
	OnState func(State)
}

// Channel is the session push connection. Create one per login with New
// and call Disconnect on logout.
type Channel struct {
	url        string
	maxRetries int
	retryDelay time.Duration
	creds      auth.CredentialSource
	dialer     Dialer
	clock      clock.Clock
	log        *log.Logger
	stats      stats.StatsProvider
	onState    func(State)

	notifications   *Registry[NotificationEvent]
	unreadCounts    *Registry[UnreadCountEvent]
	roomListUpdates *Registry[RoomListUpdateEvent]

	mu         sync.Mutex
	state      State
	retryCount int
	stream     Stream
	// gen identifies the current connection attempt; goroutines of an
	// older attempt find it changed and stand down.
	gen int
	// reconnect is the single pending reconnect, nil when none is scheduled.
	reconnect    clock.Timer
	reconnectSeq int
}

func New(creds auth.CredentialSource, cfg Config) *Channel {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &HTTPDialer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	c := &Channel{
		url:             cfg.URL,
		maxRetries:      cfg.MaxRetries,
		retryDelay:      cfg.RetryDelay,
		creds:           creds,
		dialer:          cfg.Dialer,
		clock:           cfg.Clock,
		log:             cfg.Logger,
		stats:           cfg.Stats,
		onState:         cfg.OnState,
		notifications:   NewRegistry[NotificationEvent]("notification", cfg.Logger),
		unreadCounts:    NewRegistry[UnreadCountEvent]("unreadCount", cfg.Logger),
		roomListUpdates: NewRegistry[RoomListUpdateEvent]("roomListUpdate", cfg.Logger),
	}

	if c.stats != nil {
		c.stats.RegisterMetric(stats.SessionReconnects)
		c.stats.RegisterMetric(stats.SessionEvents)
		c.stats.RegisterMetric(stats.ParseErrors)
	}

	return c
}

// Connect opens the push connection. It returns nil at once if a connection
// is open or being opened, and ErrNoCredential without dialing when the
// session has no usable token. A failed dial counts as an unexpected close
// and is retried per the reconnect policy. An explicit Connect starts a
// fresh retry budget.
func (c *Channel) Connect(ctx context.Context) error {
	return c.connect(ctx, true)
}

func (c *Channel) connect(ctx context.Context, external bool) error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}

	token, ok := c.creds.Token()
	if !ok {
		c.mu.Unlock()
		return ErrNoCredential
	}

	c.cancelReconnectLocked()
	if external {
		c.retryCount = 0
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitState(StateConnecting)

	stream, err := c.dialer.Dial(ctx, c.url, token)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
		return ErrDisconnected
	}

	if err != nil {
		connErr := &types.ConnectionError{Op: "dial", Err: err}
		c.log.Println("session: dial:", err)
		c.closedLocked()
		state := c.state
		c.mu.Unlock()
		c.emitState(state)
		return connErr
	}

	c.stream = stream
	c.retryCount = 0
	c.state = StateOpen
	c.mu.Unlock()

	c.log.Println("session: connected")
	c.emitState(StateOpen)

	go c.readLoop(gen, stream)
	return nil
}

// Disconnect tears the channel down: pending reconnects are cancelled, the
// stream is closed and every listener is dropped. It is idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.cancelReconnectLocked()
	c.gen++
	stream := c.stream
	c.stream = nil
	c.retryCount = 0
	changed := c.state != StateDisconnected
	c.state = StateDisconnected

	c.notifications.Clear()
	c.unreadCounts.Clear()
	c.roomListUpdates.Clear()
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			c.log.Println("session: close:", err)
		}
	}
	if changed {
		c.emitState(StateDisconnected)
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// ReconnectPending reports whether a reconnect is scheduled.
func (c *Channel) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect != nil
}

func (c *Channel) SubscribeNotifications(l Listener[NotificationEvent]) error {
	return subscribe(c, c.notifications, l)
}

func (c *Channel) UnsubscribeNotifications(l Listener[NotificationEvent]) {
	unsubscribe(c, c.notifications, l)
}

func (c *Channel) SubscribeUnreadCount(l Listener[UnreadCountEvent]) error {
	return subscribe(c, c.unreadCounts, l)
}

func (c *Channel) UnsubscribeUnreadCount(l Listener[UnreadCountEvent]) {
	unsubscribe(c, c.unreadCounts, l)
}

func (c *Channel) SubscribeRoomListUpdate(l Listener[RoomListUpdateEvent]) error {
	return subscribe(c, c.roomListUpdates, l)
}

func (c *Channel) UnsubscribeRoomListUpdate(l Listener[RoomListUpdateEvent]) {
	unsubscribe(c, c.roomListUpdates, l)
}

// subscribe and unsubscribe hold the channel lock so a concurrent
// Disconnect clears all registries at once.
func subscribe[T any](c *Channel, r *Registry[T], l Listener[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := r.Add(l)
	return err
}

func unsubscribe[T any](c *Channel, r *Registry[T], l Listener[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.Remove(l)
}

func (c *Channel) readLoop(gen int, stream Stream) {
	for {
		raw, err := stream.Next()
		if err != nil {
			c.handleClose(gen, err)
			return
		}

		c.dispatch(gen, raw)
	}
}

func (c *Channel) dispatch(gen int, raw RawEvent) {
	ev, err := decodeEvent(raw)
	if err != nil {
		c.log.Println("session: dropping event:", err)
		c.incr(stats.ParseErrors)
		return
	}

	c.mu.Lock()
	live := gen == c.gen && c.state == StateOpen
	c.mu.Unlock()
	if !live {
		return
	}

	c.incr(stats.SessionEvents)
	switch e := ev.(type) {
	case NotificationEvent:
		c.notifications.Notify(e)
	case UnreadCountEvent:
		c.unreadCounts.Notify(e)
	case RoomListUpdateEvent:
		c.roomListUpdates.Notify(e)
	default:
		c.log.Printf("session: unhandled event %T", ev)
	}
}

func (c *Channel) handleClose(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	c.log.Println("session: connection lost:", err)
	stream := c.stream
	c.stream = nil
	c.closedLocked()
	state := c.state
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	c.emitState(state)
}

// closedLocked moves to StateClosed and schedules a reconnect if the policy
// allows one: the session is still logged in, fewer than maxRetries
// attempts have been made and no reconnect is already pending.
func (c *Channel) closedLocked() {
	c.state = StateClosed

	if c.reconnect != nil {
		return
	}
	if _, ok := c.creds.Token(); !ok {
		c.log.Println("session: not reconnecting, no valid credential")
		return
	}
	if c.retryCount >= c.maxRetries {
		c.log.Printf("session: giving up after %d reconnect attempts", c.retryCount)
		return
	}

	c.retryCount++
	c.reconnectSeq++
	seq := c.reconnectSeq
	c.log.Printf("session: reconnecting in %s (attempt %d/%d)", c.retryDelay, c.retryCount, c.maxRetries)
	c.incr(stats.SessionReconnects)
	c.reconnect = c.clock.AfterFunc(c.retryDelay, func() {
		c.fireReconnect(seq)
	})
}

func (c *Channel) fireReconnect(seq int) {
	c.mu.Lock()
	if c.reconnect == nil || seq != c.reconnectSeq {
		c.mu.Unlock()
		return
	}
	c.reconnect = nil
	c.mu.Unlock()

	if err := c.connect(context.Background(), false); err != nil {
		c.log.Println("session: reconnect:", err)
	}
}

func (c *Channel) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Channel) emitState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Channel) incr(name string) {
	if c.stats != nil {
		c.stats.Incr(name)
	}
}
