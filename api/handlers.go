package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dmchat/chat"
	"dmchat/models"
)

type addMessageRequest struct {
	Message string             `json:"message"`
	From    string             `json:"from"`
	To      string             `json:"to"`
	Type    models.MessageKind `json:"type,omitempty"`
}

type messageResponse struct {
	Message models.Message `json:"message"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	msg, err := s.chat.CreateMessage(r.Context(), chat.NewMessage{
		Content:    req.Message,
		Kind:       req.Type,
		SenderID:   req.From,
		ReceiverID: req.To,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msg})
}

// handleGetMessages returns the thread and marks what "from" received as read.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := s.chat.MarkThreadRead(r.Context(), vars["from"], vars["to"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Messages)
}

func (s *Server) handleListThread(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	messages, err := s.chat.ListThread(r.Context(), vars["a"], vars["b"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// inboxUser is one row of the initial contacts response: the last message
// snapshot with the contact's profile fields beside it.
type inboxUser struct {
	MessageID      int64                 `json:"messageId"`
	Type           models.MessageKind    `json:"type"`
	Message        string                `json:"message"`
	MessageStatus  models.DeliveryStatus `json:"messageStatus"`
	CreatedAt      time.Time             `json:"createdAt"`
	SenderID       string                `json:"senderId"`
	ReceiverID     string                `json:"receiverId"`
	ID             string                `json:"id"`
	Email          string                `json:"email"`
	Name           string                `json:"name"`
	ProfilePicture string                `json:"profilePicture"`
	About          string                `json:"about"`
	TotalUnread    int                   `json:"totalUnreadMessages"`
}

type inboxResponse struct {
	Users       []inboxUser `json:"users"`
	OnlineUsers []string    `json:"onlineUsers"`
}

func (s *Server) handleGetInitialContacts(w http.ResponseWriter, r *http.Request) {
	inbox, err := s.chat.BuildInbox(r.Context(), mux.Vars(r)["from"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	users := make([]inboxUser, 0, len(inbox.Contacts))
	for _, c := range inbox.Contacts {
		users = append(users, inboxUser{
			MessageID:      c.LastMessage.ID,
			Type:           c.LastMessage.Kind,
			Message:        c.LastMessage.Content,
			MessageStatus:  c.LastMessage.Status,
			CreatedAt:      c.LastMessage.CreatedAt,
			SenderID:       c.LastMessage.SenderID,
			ReceiverID:     c.LastMessage.ReceiverID,
			ID:             c.ContactID,
			Email:          c.Contact.Email,
			Name:           c.Contact.Name,
			ProfilePicture: c.Contact.ProfilePicture,
			About:          c.Contact.About,
			TotalUnread:    c.UnreadCount,
		})
	}
	writeJSON(w, http.StatusOK, inboxResponse{Users: users, OnlineUsers: inbox.OnlineContactIDs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.Healthy(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
