package chat

import (
	"context"
	"sort"
	"strings"

	"dmchat/models"
)

// BuildInbox returns one summary per contact selfID has exchanged messages
// with, most recently active first, and the ids of connected users.
//
// Loading the inbox means selfID is online, so every message still "sent"
// to selfID is advanced to delivered. That write is best-effort: a failure is
// logged and the summaries are returned anyway.
func (s *Service) BuildInbox(ctx context.Context, selfID string) (models.Inbox, error) {
	const op = "build inbox"

	selfID = strings.TrimSpace(selfID)
	if selfID == "" {
		return models.Inbox{}, validationError(op, "user is required")
	}

	if err := s.requireUser(ctx, op, selfID); err != nil {
		return models.Inbox{}, err
	}

	acc, err := s.foldInbox(ctx, selfID)
	if err != nil {
		return models.Inbox{}, storeError(op, err)
	}

	if len(acc.pending) > 0 {
		updated, err := s.store.BatchSetStatus(ctx, acc.pending, models.StatusDelivered)
		switch {
		case err != nil:
			s.metrics.ObserveBulkUpgradeFailure()
			s.log.Warn().
				Err(err).
				Str("user_id", selfID).
				Int("count", len(acc.pending)).
				Msg("inbox delivery upgrade skipped")
		case updated == int64(len(acc.pending)):
			s.metrics.ObserveTransitions(string(models.StatusDelivered), updated)
			acc.markDelivered()
		default:
			// Some rows were moved past sent by a concurrent write, so their
			// current status is unknown here. Fold again from the store.
			s.metrics.ObserveTransitions(string(models.StatusDelivered), updated)
			if acc, err = s.foldInbox(ctx, selfID); err != nil {
				return models.Inbox{}, storeError(op, err)
			}
		}
	}

	if err := s.resolveContacts(ctx, acc); err != nil {
		return models.Inbox{}, storeError(op, err)
	}

	online := s.presence.ListOnline()
	if online == nil {
		online = []string{}
	}

	s.metrics.ObserveInbox()
	return models.Inbox{
		Contacts:         acc.summaries(),
		OnlineContactIDs: online,
	}, nil
}

// foldInbox reads every message selfID took part in and folds them into
// per-contact rows.
func (s *Service) foldInbox(ctx context.Context, selfID string) (*inboxAccumulator, error) {
	messages, err := s.store.FindAllForUser(ctx, selfID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(messages)

	acc := newInboxAccumulator(selfID)
	for _, m := range messages {
		acc.add(m)
	}
	return acc, nil
}

// resolveContacts fills each summary's contact profile. A contact without a
// user record keeps an id-only profile.
func (s *Service) resolveContacts(ctx context.Context, acc *inboxAccumulator) error {
	for _, contactID := range acc.order {
		profile, err := s.store.GetUserProfile(ctx, contactID)
		if err != nil {
			if isNotFound(err) {
				s.log.Warn().Str("contact_id", contactID).Msg("inbox contact has no user record")
				continue
			}
			return err
		}
		acc.rows[contactID].Contact = profile
	}
	return nil
}

// sortNewestFirst orders by created_at descending. Equal timestamps keep id
// ascending so the walk is deterministic.
func sortNewestFirst(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// inboxAccumulator folds a newest-first message walk into per-contact rows.
// order records first-seen order, which is also the output order; the first
// message seen for a contact is its latest.
type inboxAccumulator struct {
	selfID  string
	order   []string
	rows    map[string]*models.ConversationSummary
	pending []int64
}

func newInboxAccumulator(selfID string) *inboxAccumulator {
	return &inboxAccumulator{
		selfID: selfID,
		order:  make([]string, 0),
		rows:   make(map[string]*models.ConversationSummary),
	}
}

func (a *inboxAccumulator) add(m models.Message) {
	contactID := m.Counterpart(a.selfID)
	incoming := m.ReceiverID == a.selfID

	if shouldMarkDelivered(m, a.selfID) {
		a.pending = append(a.pending, m.ID)
	}

	row, seen := a.rows[contactID]
	if !seen {
		row = &models.ConversationSummary{
			ContactID:   contactID,
			Contact:     models.UserProfile{ID: contactID},
			LastMessage: models.SnapshotOf(m),
		}
		a.rows[contactID] = row
		a.order = append(a.order, contactID)
	}

	// Outgoing messages never count as unread for the contact.
	if incoming && m.Status != models.StatusRead {
		row.UnreadCount++
	}
}

// markDelivered applies a sent->delivered write that advanced every pending
// row to the snapshots.
func (a *inboxAccumulator) markDelivered() {
	pending := make(map[int64]struct{}, len(a.pending))
	for _, id := range a.pending {
		pending[id] = struct{}{}
	}
	for _, row := range a.rows {
		if _, ok := pending[row.LastMessage.ID]; ok {
			row.LastMessage.Status = models.StatusDelivered
		}
	}
}

func (a *inboxAccumulator) summaries() []models.ConversationSummary {
	out := make([]models.ConversationSummary, 0, len(a.order))
	for _, contactID := range a.order {
		out = append(out, *a.rows[contactID])
	}
	return out
}
