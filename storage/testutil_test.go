package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"dmchat/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustAddUser(t *testing.T, store *Store, id, name string) {
	t.Helper()

	err := store.AddUser(context.Background(), User{
		ID:    id,
		Email: id + "@example.test",
		Name:  name,
	})
	if err != nil {
		t.Fatalf("add user %q: %v", id, err)
	}
}

func mustInsert(t *testing.T, store *Store, from, to, content string, status models.DeliveryStatus) models.Message {
	t.Helper()

	msg, err := store.Insert(context.Background(), models.Message{
		Content:    content,
		Kind:       models.KindText,
		SenderID:   from,
		ReceiverID: to,
		Status:     status,
	})
	if err != nil {
		t.Fatalf("insert %s->%s %q: %v", from, to, content, err)
	}
	return msg
}

// fixedClock is a settable clock for created_at assertions.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
