package devserver

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-estate-chat/internal/types"
	"github.com/teris-io/shortid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAccountExists = errors.New("account already exists")
)

type Account struct {
	Identity     string
	PasswordHash string
}

type RoomRecord struct {
	Id           string
	ListingId    string
	Participants []string
}

// Store keeps accounts, rooms and messages in memory.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]Account
	rooms    map[string]*RoomRecord
	// messages are kept oldest first.
	messages map[string][]types.Message
	lastId   int64
	lastAt   time.Time
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[string]Account),
		rooms:    make(map[string]*RoomRecord),
		messages: make(map[string][]types.Message),
		now:      time.Now,
	}
}

func (s *Store) CreateAccount(identity, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[identity]; ok {
		return ErrAccountExists
	}
	s.accounts[identity] = Account{Identity: identity, PasswordHash: hash}
	return nil
}

func (s *Store) GetAccount(identity string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[identity]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

// CreateRoom opens a conversation about a listing between participants.
func (s *Store) CreateRoom(listingId string, participants ...string) (RoomRecord, error) {
	id, err := shortid.Generate()
	if err != nil {
		return RoomRecord{}, fmt.Errorf("generate room id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := &RoomRecord{
		Id:           id,
		ListingId:    listingId,
		Participants: slices.Clone(participants),
	}
	s.rooms[id] = r
	return *r, nil
}

func (s *Store) GetRoom(roomId string) (RoomRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomId]
	if !ok {
		return RoomRecord{}, ErrNotFound
	}
	return *r, nil
}

func (s *Store) IsParticipant(roomId, identity string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomId]
	return ok && slices.Contains(r.Participants, identity)
}

// Counterpart returns the other participant of a two-party room.
func (s *Store) Counterpart(roomId, identity string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomId]
	if !ok {
		return ""
	}
	for _, p := range r.Participants {
		if p != identity {
			return p
		}
	}
	return ""
}

func (s *Store) AddMessage(roomId, sender, content string) (types.Message, error) {
	return s.AddMessageAt(roomId, sender, content, s.now())
}

// AddMessageAt stores a message with a server-assigned id. createdAt is
// nudged forward when needed so it strictly increases.
func (s *Store) AddMessageAt(roomId, sender, content string, at time.Time) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomId]; !ok {
		return types.Message{}, ErrNotFound
	}

	at = at.UTC().Truncate(time.Millisecond)
	if !at.After(s.lastAt) {
		at = s.lastAt.Add(time.Millisecond)
	}
	s.lastAt = at
	s.lastId++

	msg := types.Message{
		Id:             types.Int64(s.lastId),
		SenderIdentity: sender,
		Content:        content,
		CreatedAt:      at,
	}
	s.messages[roomId] = append(s.messages[roomId], msg)
	return msg, nil
}

// Messages returns page number page of the room's history, newest first,
// and whether older pages exist.
func (s *Store) Messages(roomId string, page, size int) ([]types.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.rooms[roomId]; !ok {
		return nil, false, ErrNotFound
	}
	if page < 0 || size <= 0 {
		return nil, false, fmt.Errorf("invalid page %d size %d", page, size)
	}

	all := s.messages[roomId]
	end := len(all) - page*size
	if end <= 0 {
		return []types.Message{}, false, nil
	}
	start := max(end-size, 0)

	out := make([]types.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, all[i])
	}
	return out, start > 0, nil
}

// MarkRead marks every message in the room not sent by reader as read and
// returns how many changed.
func (s *Store) MarkRead(roomId, reader string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	msgs := s.messages[roomId]
	for i := range msgs {
		if msgs[i].SenderIdentity != reader && !msgs[i].IsRead {
			msgs[i].IsRead = true
			changed++
		}
	}
	return changed
}

// UnreadCount counts messages addressed to identity across all its rooms
// that it has not read.
func (s *Store) UnreadCount(identity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for id, r := range s.rooms {
		if !slices.Contains(r.Participants, identity) {
			continue
		}
		for _, m := range s.messages[id] {
			if m.SenderIdentity != identity && !m.IsRead {
				count++
			}
		}
	}
	return count
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
