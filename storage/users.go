package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dmchat/models"
)

// AddUser inserts a new user row.
func (s *Store) AddUser(ctx context.Context, user User) error {
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(user.Email) == "" {
		return errors.New("email is required")
	}
	if strings.TrimSpace(user.Name) == "" {
		return errors.New("name is required")
	}
	if user.CreatedAt == 0 {
		user.CreatedAt = s.now().UnixMilli()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (
			id,
			email,
			name,
			profile_picture,
			about,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Name,
		user.ProfilePicture,
		user.About,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user %q: %w", user.ID, err)
	}

	return nil
}

// GetUser fetches a user row by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT
			id,
			email,
			name,
			profile_picture,
			about,
			created_at
		FROM users
		WHERE id = ?`,
		id,
	)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %q: %w", id, err)
	}

	return user, nil
}

// GetUserProfile returns the profile fields of a user, or ErrNotFound.
func (s *Store) GetUserProfile(ctx context.Context, id string) (models.UserProfile, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return models.UserProfile{}, err
	}
	return user.profile(), nil
}

// ListUsers returns all users sorted by name.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT
			id,
			email,
			name,
			profile_picture,
			about,
			created_at
		FROM users
		ORDER BY name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}

	return users, nil
}

// UpdateUserProfile replaces the editable profile fields of a user.
func (s *Store) UpdateUserProfile(ctx context.Context, id, name, profilePicture, about string) error {
	if id == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("name is required")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE users
		SET name = ?,
		    profile_picture = ?,
		    about = ?
		WHERE id = ?`,
		name,
		profilePicture,
		about,
		id,
	)
	if err != nil {
		return fmt.Errorf("update user profile %q: %w", id, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for user profile update %q: %w", id, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func scanUser(row scanner) (*User, error) {
	var user User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.ProfilePicture,
		&user.About,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
