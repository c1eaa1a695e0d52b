package discovery

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	EventClientUpserted EventType = "client_upserted"
	EventClientRemoved  EventType = "client_removed"
)

// EventType identifies client discovery updates.
type EventType string

// Event reports a change between two consecutive scans.
type Event struct {
	Type   EventType
	Client DiscoveredClient
}

// DiscoveredClient is a chat client announcing a signed-in user on the LAN.
type DiscoveredClient struct {
	UserID    string
	Name      string
	Port      int
	Addresses []string
	LastSeen  time.Time
}

func (c DiscoveredClient) sameAs(other DiscoveredClient) bool {
	return c.UserID == other.UserID &&
		c.Name == other.Name &&
		c.Port == other.Port &&
		slices.Equal(c.Addresses, other.Addresses)
}

// ClientScanner browses the client service every scan interval. Each
// completed scan replaces the previous snapshot wholesale.
type ClientScanner struct {
	cfg Config

	mu      sync.RWMutex
	clients map[string]DiscoveredClient

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	stop   sync.Once
}

func newClientScanner(cfg Config) (*ClientScanner, error) {
	if cfg.browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		cfg.browse = resolver.Browse
	}
	return &ClientScanner{
		cfg:     cfg,
		clients: make(map[string]DiscoveredClient),
		events:  make(chan Event, 128),
		done:    make(chan struct{}),
	}, nil
}

func (s *ClientScanner) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// Stop waits for the running scan to end and closes Events.
func (s *ClientScanner) Stop() {
	s.stop.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		close(s.events)
	})
}

// Events delivers upsert and removal events. Events are dropped while the
// buffer is full.
func (s *ClientScanner) Events() <-chan Event {
	return s.events
}

// HasUser reports whether userID was announced in the latest scan.
func (s *ClientScanner) HasUser(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[userID]
	return ok
}

// ListUserIDs returns the user ids announced in the latest scan, sorted.
func (s *ClientScanner) ListUserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.clients))
	for id := range s.clients {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *ClientScanner) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		s.scanOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *ClientScanner) scanOnce(ctx context.Context) {
	found, err := s.scan(ctx)
	if ctx.Err() != nil {
		// Stopped mid-scan; the partial result is not a snapshot.
		return
	}
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Str("service", ClientService).Msg("mDNS client scan failed")
		return
	}
	for _, event := range s.replace(found) {
		select {
		case s.events <- event:
		default:
		}
	}
}

// scan collects entries until the scan timeout. Browse implementations may
// return at once and keep delivering in the background, or block until the
// context ends; both are handled.
func (s *ClientScanner) scan(ctx context.Context) (map[string]DiscoveredClient, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- s.cfg.browse(scanCtx, ClientService, Domain, entries)
	}()

	found := make(map[string]DiscoveredClient)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if client, ok := parseEntry(entry); ok {
				client.LastSeen = time.Now()
				found[client.UserID] = client
			}
		case err := <-browseErr:
			if ignorableBrowseError(err) {
				browseErr = nil
				continue
			}
			return nil, err
		case <-scanCtx.Done():
			if browseErr != nil {
				if err := <-browseErr; !ignorableBrowseError(err) {
					return nil, err
				}
			}
			return found, nil
		}
	}
}

func ignorableBrowseError(err error) bool {
	return err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// replace swaps in the new snapshot and returns the changes ordered by user id.
func (s *ClientScanner) replace(next map[string]DiscoveredClient) []Event {
	s.mu.Lock()
	previous := s.clients
	s.clients = next
	s.mu.Unlock()

	var events []Event
	for id, client := range next {
		if old, ok := previous[id]; !ok || !old.sameAs(client) {
			events = append(events, Event{Type: EventClientUpserted, Client: client})
		}
	}
	for id, client := range previous {
		if _, ok := next[id]; !ok {
			events = append(events, Event{Type: EventClientRemoved, Client: client})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Client.UserID < events[j].Client.UserID
	})
	return events
}

func parseEntry(entry *zeroconf.ServiceEntry) (DiscoveredClient, bool) {
	if entry == nil {
		return DiscoveredClient{}, false
	}
	userID := txtValue(entry.Text, "user_id")
	if userID == "" {
		return DiscoveredClient{}, false
	}

	var addresses []string
	for _, ip := range append(slices.Clone(entry.AddrIPv4), entry.AddrIPv6...) {
		if ip != nil {
			addresses = append(addresses, ip.String())
		}
	}
	sort.Strings(addresses)
	addresses = slices.Compact(addresses)

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = userID
	}

	return DiscoveredClient{
		UserID:    userID,
		Name:      name,
		Port:      entry.Port,
		Addresses: addresses,
	}, true
}

func txtValue(text []string, key string) string {
	for _, kv := range text {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.TrimSpace(k) == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
