// Package presence answers whether a user currently has a live connection.
package presence

import (
	"sort"
	"strings"
	"sync"
)

// Source is one way of observing that a user is online.
type Source interface {
	IsOnline(userID string) bool
	ListOnline() []string
}

// Sessions counts open client connections per user. A user is online while
// at least one connection is open.
type Sessions struct {
	mu    sync.RWMutex
	conns map[string]int
}

// NewSessions returns an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{conns: make(map[string]int)}
}

// Connect records one open connection for userID. The returned release func
// closes it and is safe to call more than once.
func (s *Sessions) Connect(userID string) (release func()) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return func() {}
	}

	s.mu.Lock()
	s.conns[userID]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.conns[userID]--
			if s.conns[userID] <= 0 {
				delete(s.conns, userID)
			}
		})
	}
}

// Connections returns the number of open connections for userID.
func (s *Sessions) Connections(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[userID]
}

func (s *Sessions) IsOnline(userID string) bool {
	return s.Connections(userID) > 0
}

func (s *Sessions) ListOnline() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ClientLister is the part of the LAN client scanner presence reads from.
type ClientLister interface {
	HasUser(userID string) bool
	ListUserIDs() []string
}

// Discovered treats users announced by a client on the LAN as online.
type Discovered struct {
	clients ClientLister
}

// NewDiscovered wraps a LAN client scanner.
func NewDiscovered(clients ClientLister) *Discovered {
	return &Discovered{clients: clients}
}

func (d *Discovered) IsOnline(userID string) bool {
	if d == nil || d.clients == nil {
		return false
	}
	return d.clients.HasUser(userID)
}

func (d *Discovered) ListOnline() []string {
	if d == nil || d.clients == nil {
		return []string{}
	}
	ids := d.clients.ListUserIDs()
	sort.Strings(ids)
	return ids
}

// Union is online when any of its sources says so.
type Union []Source

func (u Union) IsOnline(userID string) bool {
	for _, src := range u {
		if src != nil && src.IsOnline(userID) {
			return true
		}
	}
	return false
}

// ListOnline returns the sorted, de-duplicated ids of every source.
func (u Union) ListOnline() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, src := range u {
		if src == nil {
			continue
		}
		for _, id := range src.ListOnline() {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
