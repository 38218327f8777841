// Package room runs the live connection of one open chat room and feeds
// what it receives into the room's timeline.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/clock"
	"github.com/npezzotti/go-estate-chat/internal/reconcile"
	"github.com/npezzotti/go-estate-chat/internal/stats"
	"github.com/npezzotti/go-estate-chat/internal/types"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	reconnectTimeout      = 30 * time.Second
)

var ErrClosed = errors.New("room channel closed")

type Config struct {
	RoomId string
	// Identity is the logged-in user; READ_ALL marks their messages read.
	Identity       string
	Dial           DialFunc
	ReconnectDelay time.Duration
	Clock          clock.Clock
	Logger         *log.Logger
	Stats          stats.StatsProvider
	// OnStatus is called after every connectivity change, outside any lock.
	OnStatus func(TransportState)
	// OnChange is called with a snapshot of the timeline after an inbound
	// item changed it.
	OnChange func([]types.Message)
	// Backfill, if set, returns the latest messages of the room. It is merged
	// after every reconnect to recover what was published while the room was
	// down.
	Backfill func(ctx context.Context) ([]types.Message, error)
}

type Channel struct {
	roomId   string
	identity string
	dial     DialFunc
	delay    time.Duration
	timeline *reconcile.Timeline
	clock    clock.Clock
	log      *log.Logger
	stats    stats.StatsProvider
	onStatus func(TransportState)
	onChange func([]types.Message)
	backfill func(ctx context.Context) ([]types.Message, error)

	mu        sync.Mutex
	state     TransportState
	transport Transport
	token     string
	opened    bool
	closed    bool
	gen       int
	reconnect clock.Timer
}

func New(tl *reconcile.Timeline, cfg Config) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	c := &Channel{
		roomId:   cfg.RoomId,
		identity: cfg.Identity,
		dial:     cfg.Dial,
		delay:    cfg.ReconnectDelay,
		timeline: tl,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		stats:    cfg.Stats,
		onStatus: cfg.OnStatus,
		onChange: cfg.OnChange,
		backfill: cfg.Backfill,
	}

	if c.stats != nil {
		c.stats.RegisterMetric(stats.RoomReconnects)
		c.stats.RegisterMetric(stats.RoomMessages)
		c.stats.RegisterMetric(stats.DuplicateMessages)
		c.stats.RegisterMetric(stats.ParseErrors)
	}

	return c
}

// Open connects and subscribes to the room topic. A failure here is
// returned and not retried; once open, drops are retried every
// ReconnectDelay until Close.
func (c *Channel) Open(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.opened {
		c.mu.Unlock()
		return nil
	}
	c.opened = true
	c.token = credential
	c.mu.Unlock()

	err := c.connect(ctx)
	if err != nil {
		c.mu.Lock()
		c.opened = false
		c.mu.Unlock()
	}
	return err
}

// Send publishes content to the room. The message shows up in the timeline
// only once the server echoes it back.
func (c *Channel) Send(ctx context.Context, content string) error {
	c.mu.Lock()
	t := c.transport
	connected := c.state == StateConnected
	c.mu.Unlock()

	if t == nil || !connected {
		return types.ErrNotConnected
	}

	body, err := json.Marshal(OutboundMessage{Type: typeTalk, RoomId: c.roomId, Content: content})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := t.Send(ctx, sendDestination, contentTypeJSON, body); err != nil {
		return &types.ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// Close tears the connection down and cancels any pending reconnect. It is
// safe to call more than once and before Open has returned.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.cancelReconnectLocked()
	t := c.transport
	c.transport = nil
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			c.log.Println("room: close:", err)
		}
	}
	if changed {
		c.emitStatus(StateDisconnected)
	}
}

func (c *Channel) Status() TransportState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) RoomId() string {
	return c.roomId
}

func (c *Channel) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	token := c.token
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitStatus(StateConnecting)

	t, err := c.dial(ctx, token)
	if err == nil {
		_, err = t.Subscribe(topic(c.roomId), func(body []byte) {
			c.handleInbound(gen, body)
		})
		if err != nil {
			t.Close()
		}
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		if t != nil && err == nil {
			t.Close()
		}
		return ErrClosed
	}

	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emitStatus(StateDisconnected)
		return &types.ConnectionError{Op: "open", Err: err}
	}

	c.transport = t
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Printf("room %s: connected", c.roomId)
	c.emitStatus(StateConnected)

	go c.watch(gen, t)
	return nil
}

// watch waits for t to end and schedules a reconnect unless the channel
// moved on in the meantime.
func (c *Channel) watch(gen int, t Transport) {
	<-t.Done()

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.state = StateDisconnected
	c.scheduleLocked()
	c.mu.Unlock()

	c.log.Printf("room %s: connection lost, reconnecting in %s", c.roomId, c.delay)
	c.emitStatus(StateDisconnected)
}

func (c *Channel) scheduleLocked() {
	if c.reconnect != nil {
		return
	}

	gen := c.gen
	c.incr(stats.RoomReconnects)
	c.reconnect = c.clock.AfterFunc(c.delay, func() {
		c.fireReconnect(gen)
	})
}

func (c *Channel) fireReconnect(gen int) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.reconnect = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
	defer cancel()

	err := c.connect(ctx)
	if err == nil {
		c.catchUp(ctx)
		return
	}
	if errors.Is(err, ErrClosed) {
		return
	}

	c.log.Printf("room %s: reconnect: %v", c.roomId, err)
	c.mu.Lock()
	if !c.closed {
		c.scheduleLocked()
	}
	c.mu.Unlock()
}

// catchUp merges the latest page once a reconnect has subscribed again.
// Messages that also arrived live are dropped by the merge.
func (c *Channel) catchUp(ctx context.Context) {
	if c.backfill == nil {
		return
	}

	msgs, err := c.backfill(ctx)
	if err != nil {
		c.log.Printf("room %s: backfill: %v", c.roomId, err)
		return
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if c.timeline.MergeAll(msgs) > 0 && c.onChange != nil {
		c.onChange(c.timeline.Snapshot())
	}
}

func (c *Channel) handleInbound(gen int, body []byte) {
	in, err := decodeInbound(body)
	if err != nil {
		c.log.Printf("room %s: dropping message: %v", c.roomId, err)
		c.incr(stats.ParseErrors)
		return
	}

	c.mu.Lock()
	live := !c.closed && gen == c.gen
	c.mu.Unlock()
	if !live {
		return
	}

	changed := false
	switch m := in.(type) {
	case ChatMessage:
		if c.timeline.Merge(m.Message) {
			c.incr(stats.RoomMessages)
			changed = true
		} else {
			c.incr(stats.DuplicateMessages)
		}
	case ReadAll:
		// Our own read receipt says nothing about the counterpart.
		if m.ReaderIdentity != "" && m.ReaderIdentity == c.identity {
			return
		}
		changed = c.timeline.MarkReadAll(c.identity) > 0
	default:
		c.log.Printf("room %s: unhandled inbound %T", c.roomId, in)
	}

	if changed && c.onChange != nil {
		c.onChange(c.timeline.Snapshot())
	}
}

func (c *Channel) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Channel) emitStatus(s TransportState) {
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

func (c *Channel) incr(name string) {
	if c.stats != nil {
		c.stats.Incr(name)
	}
}
