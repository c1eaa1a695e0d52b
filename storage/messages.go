package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dmchat/models"
)

const messageColumns = `id, sender_id, receiver_id, content, kind, status, created_at`

// Insert persists a new message and returns it with the store-assigned id and
// created_at. created_at never goes backwards relative to earlier inserts even
// if the wall clock does.
func (s *Store) Insert(ctx context.Context, message models.Message) (models.Message, error) {
	if message.SenderID == "" {
		return models.Message{}, errors.New("sender_id is required")
	}
	if message.ReceiverID == "" {
		return models.Message{}, errors.New("receiver_id is required")
	}
	if message.SenderID == message.ReceiverID {
		return models.Message{}, errors.New("sender_id and receiver_id must differ")
	}
	if message.Content == "" {
		return models.Message{}, errors.New("content is required")
	}
	if message.Kind == "" {
		message.Kind = models.KindText
	}
	if err := validateKind(message.Kind); err != nil {
		return models.Message{}, err
	}
	if message.Status == "" {
		message.Status = models.StatusSent
	}
	if err := validateStatus(message.Status); err != nil {
		return models.Message{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("begin insert message transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(created_at), 0) FROM messages`).Scan(&last); err != nil {
		return models.Message{}, fmt.Errorf("read latest message timestamp: %w", err)
	}
	createdAt := s.now().UnixMilli()
	if createdAt < last {
		createdAt = last
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (
			sender_id,
			receiver_id,
			content,
			kind,
			status,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		message.SenderID,
		message.ReceiverID,
		message.Content,
		string(message.Kind),
		string(message.Status),
		createdAt,
	)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message %s->%s: %w", message.SenderID, message.ReceiverID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Message{}, fmt.Errorf("read inserted message id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("commit insert message: %w", err)
	}

	message.ID = id
	message.CreatedAt = fromUnixMilli(createdAt)
	return message, nil
}

// FindByPair returns the thread between two users ordered by id ascending.
func (s *Store) FindByPair(ctx context.Context, userA, userB string) ([]models.Message, error) {
	if userA == "" || userB == "" {
		return nil, errors.New("both participant ids are required")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
		   OR (sender_id = ? AND receiver_id = ?)
		ORDER BY id ASC`,
		userA, userB,
		userB, userA,
	)
	if err != nil {
		return nil, fmt.Errorf("find messages between %q and %q: %w", userA, userB, err)
	}
	return collectMessages(rows)
}

// FindAllForUser returns every message the user sent or received, in no particular order.
func (s *Store) FindAllForUser(ctx context.Context, userID string) ([]models.Message, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?`,
		userID,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("find messages for user %q: %w", userID, err)
	}
	return collectMessages(rows)
}

// GetMessageByID fetches one message by id.
func (s *Store) GetMessageByID(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+`
		FROM messages
		WHERE id = ?`,
		id,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return message, nil
}

// BatchSetStatus moves the given messages to status and returns how many rows
// changed. Rows already at or beyond status are left alone, so the stored
// status never regresses and repeated calls update nothing.
func (s *Store) BatchSetStatus(ctx context.Context, ids []int64, status models.DeliveryStatus) (int64, error) {
	if err := validateStatus(status); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch status transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var updated int64
	for start := 0; start < len(ids); start += maxBatchParams {
		end := min(start+maxBatchParams, len(ids))
		chunk := ids[start:end]

		args := make([]any, 0, len(chunk)+2)
		args = append(args, string(status), status.Rank())
		for _, id := range chunk {
			args = append(args, id)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE messages
			SET status = ?
			WHERE `+statusRankSQL+` < ?
			  AND id IN (`+placeholders(len(chunk))+`)`,
			args...,
		)
		if err != nil {
			return 0, fmt.Errorf("set status %q on %d messages: %w", status, len(chunk), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("read rows affected for batch status %q: %w", status, err)
		}
		updated += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch status: %w", err)
	}
	return updated, nil
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		message   models.Message
		kind      string
		status    string
		createdAt int64
	)

	if err := row.Scan(
		&message.ID,
		&message.SenderID,
		&message.ReceiverID,
		&message.Content,
		&kind,
		&status,
		&createdAt,
	); err != nil {
		return nil, err
	}

	parsed, err := models.ParseDeliveryStatus(status)
	if err != nil {
		return nil, err
	}
	message.Kind = models.MessageKind(kind)
	message.Status = parsed
	message.CreatedAt = fromUnixMilli(createdAt)

	return &message, nil
}
