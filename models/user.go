package models

import (
	"errors"
	"time"
)

// UserProfile holds the denormalized profile fields shown next to a conversation.
type UserProfile struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	ProfilePicture string    `json:"profilePicture"`
	About          string    `json:"about"`
	CreatedAt      time.Time `json:"-"`
}

// ErrNotFound indicates a requested record does not exist in the backing store.
var ErrNotFound = errors.New("record not found")
