package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dmchat/models"
)

var errStoreDown = errors.New("store down")

// memStore is an in-memory MessageStore with per-method failure injection.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	clock    time.Time
	messages map[int64]models.Message
	users    map[string]models.UserProfile

	failInsert    error
	failFind      error
	failBatch     error
	failProfileOf map[string]error
	batchCalls    []batchCall
	// beforeBatch runs ahead of each BatchSetStatus, outside the lock.
	beforeBatch func()
}

type batchCall struct {
	ids    []int64
	status models.DeliveryStatus
}

func newMemStore(userIDs ...string) *memStore {
	s := &memStore{
		clock:         time.UnixMilli(1_700_000_000_000).UTC(),
		messages:      make(map[int64]models.Message),
		users:         make(map[string]models.UserProfile),
		failProfileOf: make(map[string]error),
	}
	for _, id := range userIDs {
		s.users[id] = models.UserProfile{ID: id, Name: "name-" + id, Email: id + "@example.test"}
	}
	return s
}

// seed stores a message with an explicit status and created_at offset in seconds.
func (s *memStore) seed(from, to string, status models.DeliveryStatus, offsetSeconds int) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m := models.Message{
		ID:         s.nextID,
		Content:    "msg",
		Kind:       models.KindText,
		SenderID:   from,
		ReceiverID: to,
		Status:     status,
		CreatedAt:  s.clock.Add(time.Duration(offsetSeconds) * time.Second),
	}
	s.messages[m.ID] = m
	return m
}

// force overwrites a stored status, bypassing the forward-only rule.
func (s *memStore) force(id int64, status models.DeliveryStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.messages[id]
	m.Status = status
	s.messages[id] = m
}

func (s *memStore) status(id int64) models.DeliveryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id].Status
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memStore) Insert(_ context.Context, message models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert != nil {
		return models.Message{}, s.failInsert
	}
	s.nextID++
	s.clock = s.clock.Add(time.Millisecond)
	message.ID = s.nextID
	message.CreatedAt = s.clock
	s.messages[message.ID] = message
	return message, nil
}

func (s *memStore) FindByPair(_ context.Context, userA, userB string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind != nil {
		return nil, s.failFind
	}
	out := make([]models.Message, 0)
	for _, m := range s.messages {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) FindAllForUser(_ context.Context, userID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind != nil {
		return nil, s.failFind
	}
	out := make([]models.Message, 0)
	for _, m := range s.messages {
		if m.SenderID == userID || m.ReceiverID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) BatchSetStatus(_ context.Context, ids []int64, status models.DeliveryStatus) (int64, error) {
	if s.beforeBatch != nil {
		s.beforeBatch()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls = append(s.batchCalls, batchCall{ids: append([]int64(nil), ids...), status: status})
	if s.failBatch != nil {
		return 0, s.failBatch
	}
	var updated int64
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || m.Status.Rank() >= status.Rank() {
			continue
		}
		m.Status = status
		s.messages[id] = m
		updated++
	}
	return updated, nil
}

func (s *memStore) GetUserProfile(_ context.Context, userID string) (models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failProfileOf[userID]; err != nil {
		return models.UserProfile{}, err
	}
	profile, ok := s.users[userID]
	if !ok {
		return models.UserProfile{}, models.ErrNotFound
	}
	return profile, nil
}

// staticPresence is a fixed set of online users.
type staticPresence map[string]bool

func (p staticPresence) IsOnline(userID string) bool { return p[userID] }

func (p staticPresence) ListOnline() []string {
	out := make([]string, 0, len(p))
	for id, online := range p {
		if online {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// refResolver accepts only refs it was given. err, when set, is returned for every lookup.
type refResolver struct {
	refs map[string]models.MessageKind
	err  error
}

func (r refResolver) IsReference(_ context.Context, kind models.MessageKind, content string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	stored, ok := r.refs[content]
	return ok && stored == kind, nil
}

func newTestService(t *testing.T, store MessageStore, presence PresenceRegistry) *Service {
	t.Helper()

	svc, err := NewService(Config{
		Store:    store,
		Presence: presence,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}
