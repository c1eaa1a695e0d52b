package models

import (
	"fmt"
	"time"
)

// MessageKind determines how a message's Content is interpreted by clients.
type MessageKind string

const (
	// KindText carries inline text in Content.
	KindText MessageKind = "text"
	// KindImage carries a stored image reference in Content.
	KindImage MessageKind = "image"
	// KindAudio carries a stored recording reference in Content.
	KindAudio MessageKind = "audio"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAudio:
		return true
	default:
		return false
	}
}

// RequiresAttachment reports whether Content must be a blob store reference.
func (k MessageKind) RequiresAttachment() bool {
	return k == KindImage || k == KindAudio
}

// DeliveryStatus is the receiver-side lifecycle of a message.
type DeliveryStatus string

const (
	// StatusSent means the receiver was not connected when the message was created.
	StatusSent DeliveryStatus = "sent"
	// StatusDelivered means the receiver's client has the message but has not opened the thread.
	StatusDelivered DeliveryStatus = "delivered"
	// StatusRead means the receiver has viewed the thread. Terminal.
	StatusRead DeliveryStatus = "read"
)

// Rank orders statuses sent < delivered < read. Unknown statuses rank 0.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known delivery status.
func (s DeliveryStatus) Valid() bool {
	return s.Rank() > 0
}

// ParseDeliveryStatus converts a stored status value.
func ParseDeliveryStatus(raw string) (DeliveryStatus, error) {
	status := DeliveryStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("invalid delivery status %q", raw)
	}
	return status, nil
}

// Message is one unit of communication between exactly two users.
type Message struct {
	ID         int64          `json:"id"`
	Content    string         `json:"message"`
	Kind       MessageKind    `json:"type"`
	SenderID   string         `json:"senderId"`
	ReceiverID string         `json:"receiverId"`
	Status     DeliveryStatus `json:"messageStatus"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Counterpart returns the participant of m that is not userID.
func (m Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}
