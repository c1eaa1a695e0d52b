package models

import "time"

// LastMessage is the snapshot of a contact's most recent message.
type LastMessage struct {
	ID         int64          `json:"messageId"`
	Kind       MessageKind    `json:"type"`
	Content    string         `json:"message"`
	Status     DeliveryStatus `json:"messageStatus"`
	CreatedAt  time.Time      `json:"createdAt"`
	SenderID   string         `json:"senderId"`
	ReceiverID string         `json:"receiverId"`
}

// SnapshotOf copies the fields of m shown in an inbox row.
func SnapshotOf(m Message) LastMessage {
	return LastMessage{
		ID:         m.ID,
		Kind:       m.Kind,
		Content:    m.Content,
		Status:     m.Status,
		CreatedAt:  m.CreatedAt,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
	}
}

// ConversationSummary is one inbox row, derived per request and never persisted.
type ConversationSummary struct {
	ContactID   string      `json:"contactId"`
	Contact     UserProfile `json:"contact"`
	LastMessage LastMessage `json:"lastMessage"`
	UnreadCount int         `json:"totalUnreadMessages"`
}

// Inbox is the per-user list of conversation summaries plus the online passthrough.
type Inbox struct {
	Contacts         []ConversationSummary `json:"users"`
	OnlineContactIDs []string              `json:"onlineUsers"`
}
