// Package chat implements message delivery status tracking and the per-user
// conversation inbox.
//
// The service keeps no locks of its own. The message store assigns ids and
// created_at and is the only arbiter of ordering; every status write is a
// forward-only set-to-value, so concurrent thread reads and inbox loads
// converge on the same final status.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"dmchat/metrics"
	"dmchat/models"
)

// MessageStore is the durable message and user-profile storage the service runs against.
type MessageStore interface {
	Insert(ctx context.Context, message models.Message) (models.Message, error)
	FindByPair(ctx context.Context, userA, userB string) ([]models.Message, error)
	FindAllForUser(ctx context.Context, userID string) ([]models.Message, error)
	BatchSetStatus(ctx context.Context, ids []int64, status models.DeliveryStatus) (int64, error)
	GetUserProfile(ctx context.Context, userID string) (models.UserProfile, error)
}

// PresenceRegistry answers whether a user currently has a live connection.
type PresenceRegistry interface {
	IsOnline(userID string) bool
	ListOnline() []string
}

// AttachmentResolver confirms that content names a blob the attachment store
// placed for kind.
type AttachmentResolver interface {
	IsReference(ctx context.Context, kind models.MessageKind, content string) (bool, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Config wires a Service to its collaborators.
type Config struct {
	Store    MessageStore
	Presence PresenceRegistry
	// Attachments is optional. Without it any non-empty content is accepted
	// for image and audio messages.
	Attachments AttachmentResolver
	Logger      zerolog.Logger
	Metrics     *metrics.Collectors
}

// Service implements message creation, thread reads and inbox aggregation.
type Service struct {
	store       MessageStore
	presence    PresenceRegistry
	attachments AttachmentResolver
	log         zerolog.Logger
	metrics     *metrics.Collectors
}

// NewService validates cfg and returns a ready Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("chat: message store is required")
	}
	if cfg.Presence == nil {
		return nil, errors.New("chat: presence registry is required")
	}
	return &Service{
		store:       cfg.Store,
		presence:    cfg.Presence,
		attachments: cfg.Attachments,
		log:         cfg.Logger.With().Str("component", "chat").Logger(),
		metrics:     cfg.Metrics,
	}, nil
}

// NewMessage is the input of CreateMessage.
type NewMessage struct {
	Content    string
	Kind       models.MessageKind
	SenderID   string
	ReceiverID string
}

// ThreadResult is the outcome of MarkThreadRead.
type ThreadResult struct {
	// Messages is the full thread ordered by id, with statuses as just written.
	Messages []models.Message
	// Updated is the number of rows the store advanced to read.
	Updated int64
}

// CreateMessage validates and persists a message. Its initial status is
// delivered when the receiver is online and sent otherwise.
func (s *Service) CreateMessage(ctx context.Context, in NewMessage) (models.Message, error) {
	const op = "create message"

	in.SenderID = strings.TrimSpace(in.SenderID)
	in.ReceiverID = strings.TrimSpace(in.ReceiverID)
	if in.Kind == "" {
		in.Kind = models.KindText
	}

	switch {
	case strings.TrimSpace(in.Content) == "":
		return models.Message{}, validationError(op, "content is required")
	case in.SenderID == "":
		return models.Message{}, validationError(op, "sender is required")
	case in.ReceiverID == "":
		return models.Message{}, validationError(op, "receiver is required")
	case in.SenderID == in.ReceiverID:
		return models.Message{}, validationError(op, "sender and receiver must differ")
	case !in.Kind.Valid():
		return models.Message{}, validationError(op, "unknown message kind %q", in.Kind)
	}
	if in.Kind.RequiresAttachment() && s.attachments != nil {
		ok, err := s.attachments.IsReference(ctx, in.Kind, in.Content)
		if err != nil {
			return models.Message{}, storeError(op, err)
		}
		if !ok {
			return models.Message{}, validationError(op, "%s message requires a stored attachment reference", in.Kind)
		}
	}
	for _, userID := range []string{in.SenderID, in.ReceiverID} {
		if err := s.requireUser(ctx, op, userID); err != nil {
			return models.Message{}, err
		}
	}

	status := InitialStatus(s.presence.IsOnline(in.ReceiverID))
	created, err := s.store.Insert(ctx, models.Message{
		Content:    in.Content,
		Kind:       in.Kind,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Status:     status,
	})
	if err != nil {
		return models.Message{}, storeError(op, err)
	}

	s.metrics.ObserveCreated(string(created.Kind), string(created.Status))
	s.log.Debug().
		Int64("message_id", created.ID).
		Str("sender_id", created.SenderID).
		Str("receiver_id", created.ReceiverID).
		Str("status", string(created.Status)).
		Msg("message created")

	return created, nil
}

// MarkThreadRead returns the thread between selfID and otherID and advances
// every message addressed to selfID that is not yet read to read, in one
// batch write. The returned statuses reflect that write.
func (s *Service) MarkThreadRead(ctx context.Context, selfID, otherID string) (ThreadResult, error) {
	const op = "mark thread read"

	selfID = strings.TrimSpace(selfID)
	otherID = strings.TrimSpace(otherID)
	if selfID == "" || otherID == "" {
		return ThreadResult{}, validationError(op, "both participants are required")
	}

	messages, err := s.store.FindByPair(ctx, selfID, otherID)
	if err != nil {
		return ThreadResult{}, storeError(op, err)
	}

	unread := make([]int64, 0)
	for i := range messages {
		if shouldMarkRead(messages[i], selfID) {
			unread = append(unread, messages[i].ID)
			messages[i].Status = models.StatusRead
		}
	}

	var updated int64
	if len(unread) > 0 {
		updated, err = s.store.BatchSetStatus(ctx, unread, models.StatusRead)
		if err != nil {
			return ThreadResult{}, storeError(op, err)
		}
		s.metrics.ObserveTransitions(string(models.StatusRead), updated)
	}

	return ThreadResult{Messages: messages, Updated: updated}, nil
}

// ListThread returns the thread between two users ordered by id without
// changing any status.
func (s *Service) ListThread(ctx context.Context, userA, userB string) ([]models.Message, error) {
	const op = "list thread"

	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, validationError(op, "both participants are required")
	}

	messages, err := s.store.FindByPair(ctx, userA, userB)
	if err != nil {
		return nil, storeError(op, err)
	}
	return messages, nil
}

// Healthy checks that the message store answers. Stores that cannot be
// pinged are assumed healthy.
func (s *Service) Healthy(ctx context.Context) error {
	p, ok := s.store.(pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return storeError("health check", err)
	}
	return nil
}

// requireUser maps a missing user record to ErrNotFound.
func (s *Service) requireUser(ctx context.Context, op, userID string) error {
	if _, err := s.store.GetUserProfile(ctx, userID); err != nil {
		if isNotFound(err) {
			return notFoundError(op, userID, err)
		}
		return storeError(op, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
