package devserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-estate-chat/internal/stompws"
)

const (
	writeWait      = 10 * time.Second
	connectWait    = 10 * time.Second
	maxMessageSize = 64 * 1024
	readGrace      = 2 * time.Second
	sendBufferSize = 256
)

// stompClient is one STOMP session over a WebSocket.
type stompClient struct {
	conn     *websocket.Conn
	broker   *Broker
	store    *Store
	log      *log.Logger
	identity string

	sendOut  time.Duration
	expectIn time.Duration

	send     chan *frame.Frame
	stop     chan struct{}
	stopOnce sync.Once

	// subs maps subscription id to room id.
	subs     map[string]string
	subsLock sync.Mutex
}

func newStompClient(identity string, conn *websocket.Conn, b *Broker, store *Store, l *log.Logger) *stompClient {
	return &stompClient{
		conn:     conn,
		broker:   b,
		store:    store,
		log:      l,
		identity: identity,
		send:     make(chan *frame.Frame, sendBufferSize),
		stop:     make(chan struct{}),
		subs:     make(map[string]string),
	}
}

func (c *stompClient) Write() {
	var tick <-chan time.Time
	if c.sendOut > 0 {
		ticker := time.NewTicker(c.sendOut)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case f := <-c.send:
			if !c.writeFrame(f) || f.Command == frame.ERROR {
				return
			}
		case <-tick:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte("\n")); err != nil {
				c.log.Println("write heart-beat:", err)
				return
			}
		case <-c.stop:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, such as a final RECEIPT or ERROR.
func (c *stompClient) flush() {
	for {
		select {
		case f := <-c.send:
			if !c.writeFrame(f) || f.Command == frame.ERROR {
				return
			}
		default:
			return
		}
	}
}

func (c *stompClient) writeFrame(f *frame.Frame) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := stompws.WriteFrame(c.conn, f); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write %s: %s", f.Command, err)
		}
		return false
	}
	return true
}

func (c *stompClient) Read() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	c.extendReadDeadline()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
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
				c.log.Println("error parsing frame:", err)
				c.queueError("malformed frame")
				return
			}
			if f == nil {
				continue
			}
			if !c.handle(f) {
				return
			}
		}
	}
}

// handle processes one client frame and reports whether the session
// continues.
func (c *stompClient) handle(f *frame.Frame) bool {
	switch f.Command {
	case frame.SUBSCRIBE:
		return c.subscribe(f)
	case frame.UNSUBSCRIBE:
		c.unsubscribe(f.Header.Get(frame.Id))
		c.receipt(f)
		return true
	case frame.SEND:
		return c.publish(f)
	case frame.DISCONNECT:
		c.receipt(f)
		return false
	default:
		c.queueError("unsupported command " + f.Command)
		return false
	}
}

func (c *stompClient) subscribe(f *frame.Frame) bool {
	id := f.Header.Get(frame.Id)
	roomId, ok := strings.CutPrefix(f.Header.Get(frame.Destination), topicPrefix)
	if !ok || roomId == "" || id == "" {
		c.queueError("invalid subscription")
		return false
	}
	if !c.store.IsParticipant(roomId, c.identity) {
		c.log.Printf("%q is not a participant of %q", c.identity, roomId)
		c.queueError("forbidden")
		return false
	}

	c.subsLock.Lock()
	_, dup := c.subs[id]
	if !dup {
		c.subs[id] = roomId
	}
	c.subsLock.Unlock()
	if dup {
		c.queueError("duplicate subscription id")
		return false
	}

	c.broker.join(roomId, subscriber{client: c, subId: id})
	c.receipt(f)
	return true
}

func (c *stompClient) unsubscribe(id string) {
	c.subsLock.Lock()
	roomId, ok := c.subs[id]
	delete(c.subs, id)
	c.subsLock.Unlock()

	if ok {
		c.broker.leave(roomId, subscriber{client: c, subId: id})
	}
}

func (c *stompClient) publish(f *frame.Frame) bool {
	if f.Header.Get(frame.Destination) != sendDestination {
		c.queueError("unknown destination")
		return false
	}

	var msg talkMessage
	if err := json.Unmarshal(f.Body, &msg); err != nil {
		c.log.Println("error parsing message:", err)
		c.queueError("invalid message")
		return false
	}
	if msg.Type != "" && msg.Type != typeTalk {
		c.queueError("unsupported message type")
		return false
	}
	if strings.TrimSpace(msg.Content) == "" {
		c.queueError("empty message")
		return false
	}
	if !c.store.IsParticipant(msg.RoomId, c.identity) {
		c.queueError("forbidden")
		return false
	}

	c.broker.publish(msg.RoomId, publishReq{client: c, content: msg.Content})
	c.receipt(f)
	return true
}

func (c *stompClient) receipt(f *frame.Frame) {
	if id := f.Header.Get(frame.Receipt); id != "" {
		c.queueFrame(frame.New(frame.RECEIPT, frame.ReceiptId, id))
	}
}

func (c *stompClient) queueFrame(f *frame.Frame) bool {
	select {
	case c.send <- f:
	default:
		c.log.Printf("send buffer of %q is full, dropping %s", c.identity, f.Command)
		return false
	}

	return true
}

// queueError queues an ERROR frame. The connection closes once it is
// written.
func (c *stompClient) queueError(msg string) {
	c.queueFrame(frame.New(frame.ERROR, frame.Message, msg))
}

func (c *stompClient) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *stompClient) cleanup() {
	c.subsLock.Lock()
	subs := maps.Clone(c.subs)
	clear(c.subs)
	c.subsLock.Unlock()

	for id, roomId := range subs {
		c.broker.leave(roomId, subscriber{client: c, subId: id})
	}
	c.broker.removeClient(c)
	c.stopClient()
}

func (c *stompClient) extendReadDeadline() {
	if c.expectIn > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.expectIn + readGrace))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}
}

// serveStomp upgrades the request and runs the STOMP handshake. The token
// is taken from the CONNECT frame, falling back to the upgrade request.
func (s *Server) serveStomp(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	connect, err := readConnect(conn)
	if err != nil {
		s.log.Println("stomp handshake:", err)
		rejectStomp(conn, "invalid handshake")
		return
	}

	token, ok := bearerToken(connect.Header.Get("Authorization"))
	if !ok {
		token, ok = bearerToken(r.Header.Get("Authorization"))
	}
	if !ok {
		rejectStomp(conn, "unauthorized")
		return
	}
	identity, err := s.verifyToken(token)
	if err != nil {
		s.log.Printf("failed to verify token: %v", err)
		rejectStomp(conn, "unauthorized")
		return
	}

	if v := connect.Header.Get(frame.AcceptVersion); v != "" && !slices.Contains(strings.Split(v, ","), "1.2") {
		rejectStomp(conn, "unsupported version")
		return
	}

	client := newStompClient(identity, conn, s.broker, s.store, s.log)
	clientOut, clientIn := stompws.ParseHeartBeat(connect.Header.Get(frame.HeartBeat))
	client.sendOut = stompws.Negotiate(s.heartbeat, clientIn)
	client.expectIn = stompws.Negotiate(s.heartbeat, clientOut)

	connected := frame.New(frame.CONNECTED,
		frame.Version, "1.2",
		frame.HeartBeat, stompws.FormatHeartBeat(s.heartbeat, s.heartbeat),
	)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := stompws.WriteFrame(conn, connected); err != nil {
		s.log.Println("write connected:", err)
		conn.Close()
		return
	}

	if !s.broker.addClient(client) {
		rejectStomp(conn, "server shutting down")
		return
	}

	s.log.Printf("%q connected over stomp", identity)
	go client.Write()
	go client.Read()
}

func readConnect(conn *websocket.Conn) (*frame.Frame, error) {
	conn.SetReadDeadline(time.Now().Add(connectWait))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		f, err := frame.NewReader(bytes.NewReader(raw)).Read()
		if err != nil && err != io.EOF {
			return nil, err
		}
		if f == nil {
			continue
		}
		if f.Command != frame.CONNECT && f.Command != frame.STOMP {
			return nil, fmt.Errorf("expected CONNECT, got %s", f.Command)
		}
		return f, nil
	}
}

func rejectStomp(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	stompws.WriteFrame(conn, frame.New(frame.ERROR, frame.Message, msg))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}
