package devserver

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/npezzotti/go-estate-chat/internal/stats"
	"github.com/teris-io/shortid"
)

const (
	idleRoomTimeout = 30 * time.Second

	sendDestination = "/pub/chat/message"
	topicPrefix     = "/sub/chat/room/"
	typeTalk        = "TALK"
	typeReadAll     = "READ_ALL"
)

type subscriber struct {
	client *stompClient
	subId  string
}

type publishReq struct {
	client  *stompClient
	content string
}

type readAllMessage struct {
	Type           string `json:"type"`
	ReaderIdentity string `json:"readerIdentity"`
}

type talkMessage struct {
	Type    string `json:"type"`
	RoomId  string `json:"roomId"`
	Content string `json:"content"`
}

// Broker routes STOMP traffic between the clients subscribed to a room. Each
// loaded room runs its own goroutine.
type Broker struct {
	log   *log.Logger
	store *Store
	hub   *Hub
	stats stats.StatsProvider

	mu      sync.Mutex
	rooms   map[string]*brokerRoom
	clients map[*stompClient]struct{}
	closed  bool
}

func NewBroker(logger *log.Logger, store *Store, hub *Hub, st stats.StatsProvider) *Broker {
	st.RegisterMetric(stats.NumRooms)
	st.RegisterMetric(stats.NumStompClients)

	return &Broker{
		log:     logger,
		store:   store,
		hub:     hub,
		stats:   st,
		rooms:   make(map[string]*brokerRoom),
		clients: make(map[*stompClient]struct{}),
	}
}

func (b *Broker) addClient(c *stompClient) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[c] = struct{}{}
	b.stats.Incr(stats.NumStompClients)
	return true
}

func (b *Broker) removeClient(c *stompClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		b.stats.Decr(stats.NumStompClients)
	}
}

// loadRoom returns the running room for roomId, starting it if needed.
func (b *Broker) loadRoom(roomId string) *brokerRoom {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	if r, ok := b.rooms[roomId]; ok {
		return r
	}

	r := &brokerRoom{
		id:          roomId,
		broker:      b,
		log:         b.log,
		joinChan:    make(chan subscriber),
		leaveChan:   make(chan subscriber),
		publishChan: make(chan publishReq),
		subs:        make(map[subscriber]struct{}),
		exit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	b.rooms[roomId] = r
	b.stats.Incr(stats.NumRooms)
	go r.start()

	return r
}

func (b *Broker) unloadRoom(r *brokerRoom) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rooms[r.id] == r {
		delete(b.rooms, r.id)
		b.stats.Decr(stats.NumRooms)
	}
}

func (b *Broker) join(roomId string, s subscriber) {
	for {
		r := b.loadRoom(roomId)
		if r == nil {
			return
		}
		select {
		case r.joinChan <- s:
			return
		case <-r.done:
			// unloaded in the meantime, load a fresh one
		}
	}
}

func (b *Broker) leave(roomId string, s subscriber) {
	b.mu.Lock()
	r, ok := b.rooms[roomId]
	b.mu.Unlock()
	if !ok {
		return
	}

	select {
	case r.leaveChan <- s:
	case <-r.done:
	}
}

func (b *Broker) publish(roomId string, req publishReq) {
	for {
		r := b.loadRoom(roomId)
		if r == nil {
			return
		}
		select {
		case r.publishChan <- req:
			return
		case <-r.done:
		}
	}
}

// Shutdown stops every room and disconnects every client.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	b.closed = true
	rooms := make([]*brokerRoom, 0, len(b.rooms))
	for _, r := range b.rooms {
		rooms = append(rooms, r)
	}
	clients := make([]*stompClient, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.stopClient()
	}
	for _, r := range rooms {
		b.log.Println("shutting down room", r.id)
		close(r.exit)
		<-r.done
	}
}

type brokerRoom struct {
	id          string
	broker      *Broker
	log         *log.Logger
	joinChan    chan subscriber
	leaveChan   chan subscriber
	publishChan chan publishReq
	subs        map[subscriber]struct{}
	// killTimer unloads the room once it has had no subscribers for a while.
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func (r *brokerRoom) start() {
	defer close(r.done)

	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	defer r.killTimer.Stop()

	for {
		select {
		case s := <-r.joinChan:
			r.handleJoin(s)
		case s := <-r.leaveChan:
			r.handleLeave(s)
		case req := <-r.publishChan:
			r.saveAndBroadcast(req)
		case <-r.killTimer.C:
			r.log.Printf("room %q timed out", r.id)
			r.broker.unloadRoom(r)
			return
		case <-r.exit:
			r.broker.unloadRoom(r)
			return
		}
	}
}

// handleJoin adds the subscriber and, since entering a room reads it,
// marks the room read for the subscriber and tells everyone.
func (r *brokerRoom) handleJoin(s subscriber) {
	r.killTimer.Stop()
	r.subs[s] = struct{}{}

	identity := s.client.identity
	r.log.Printf("%q subscribed to room %q", identity, r.id)

	r.broker.store.MarkRead(r.id, identity)
	body, err := json.Marshal(readAllMessage{Type: typeReadAll, ReaderIdentity: identity})
	if err != nil {
		r.log.Println("marshal read-all:", err)
		return
	}
	r.broadcast(body)

	r.broker.hub.PublishUnreadCount(identity, r.broker.store.UnreadCount(identity))
}

func (r *brokerRoom) handleLeave(s subscriber) {
	if _, ok := r.subs[s]; !ok {
		return
	}
	delete(r.subs, s)
	r.log.Printf("%q left room %q", s.client.identity, r.id)

	if len(r.subs) == 0 {
		r.log.Printf("no subscribers in %q, starting kill timer", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *brokerRoom) saveAndBroadcast(req publishReq) {
	sender := req.client.identity

	msg, err := r.broker.store.AddMessage(r.id, sender, req.content)
	if err != nil {
		r.log.Println("error saving message:", err)
		req.client.queueError("message not saved")
		return
	}

	body, err := json.Marshal(msg)
	if err != nil {
		r.log.Println("marshal message:", err)
		return
	}
	r.broadcast(body)

	counterpart := r.broker.store.Counterpart(r.id, sender)
	if counterpart == "" {
		return
	}

	hub := r.broker.hub
	hub.PublishNotification(counterpart, Notification{
		Type:           "NEW_MESSAGE",
		RoomId:         r.id,
		SenderIdentity: sender,
		Content:        msg.Content,
	})
	hub.PublishUnreadCount(counterpart, r.broker.store.UnreadCount(counterpart))
	hub.PublishRoomListUpdate(counterpart)
}

func (r *brokerRoom) broadcast(body []byte) {
	destination := topicPrefix + r.id

	for s := range r.subs {
		messageId, err := shortid.Generate()
		if err != nil {
			r.log.Println("generate message id:", err)
			continue
		}

		f := frame.New(frame.MESSAGE,
			frame.Subscription, s.subId,
			frame.MessageId, messageId,
			frame.Destination, destination,
			frame.ContentType, "application/json",
		)
		f.Body = body

		if !s.client.queueFrame(f) {
			delete(r.subs, s)
		}
	}
}
