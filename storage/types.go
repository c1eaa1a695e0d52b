package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dmchat/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = models.ErrNotFound
	// ErrClosed is returned by Ping on a store that was never opened.
	ErrClosed = errors.New("storage: store is closed")
)

// maxBatchParams bounds the number of ids bound into one IN (...) clause.
const maxBatchParams = 500

// User is the SQLite representation of a user record.
type User struct {
	ID             string
	Email          string
	Name           string
	ProfilePicture string
	About          string
	CreatedAt      int64
}

func (u User) profile() models.UserProfile {
	return models.UserProfile{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		ProfilePicture: u.ProfilePicture,
		About:          u.About,
		CreatedAt:      fromUnixMilli(u.CreatedAt),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func validateKind(kind models.MessageKind) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid message kind %q", kind)
	}
	return nil
}

func validateStatus(status models.DeliveryStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid delivery status %q", status)
	}
	return nil
}

// statusRankSQL maps the status column to its rank so updates can refuse to regress.
const statusRankSQL = `CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func fromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
