package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dmchat/models"
)

// SaveAttachment inserts metadata for a stored image or recording.
func (s *Store) SaveAttachment(ctx context.Context, attachment models.Attachment) error {
	if attachment.Ref == "" {
		return errors.New("ref is required")
	}
	if !attachment.Kind.RequiresAttachment() {
		return fmt.Errorf("invalid attachment kind %q", attachment.Kind)
	}
	if attachment.OriginalName == "" {
		return errors.New("original_name is required")
	}
	if attachment.Checksum == "" {
		return errors.New("checksum is required")
	}
	if attachment.StoredAt == 0 {
		attachment.StoredAt = s.now().UnixMilli()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (
			ref,
			kind,
			original_name,
			size,
			checksum,
			stored_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		attachment.Ref,
		string(attachment.Kind),
		attachment.OriginalName,
		attachment.Size,
		attachment.Checksum,
		attachment.StoredAt,
	)
	if err != nil {
		return fmt.Errorf("insert attachment %q: %w", attachment.Ref, err)
	}

	return nil
}

// GetAttachment fetches attachment metadata by its stable reference.
func (s *Store) GetAttachment(ctx context.Context, ref string) (*models.Attachment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT
			ref,
			kind,
			original_name,
			size,
			checksum,
			stored_at
		FROM attachments
		WHERE ref = ?`,
		ref,
	)

	var (
		attachment models.Attachment
		kind       string
	)
	err := row.Scan(
		&attachment.Ref,
		&kind,
		&attachment.OriginalName,
		&attachment.Size,
		&attachment.Checksum,
		&attachment.StoredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attachment %q: %w", ref, err)
	}
	attachment.Kind = models.MessageKind(kind)

	return &attachment, nil
}

// DeleteAttachment removes attachment metadata. Used to roll back a blob
// whose file could not be placed.
func (s *Store) DeleteAttachment(ctx context.Context, ref string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE ref = ?`, ref)
	if err != nil {
		return fmt.Errorf("delete attachment %q: %w", ref, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for delete attachment %q: %w", ref, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
