package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is the identity anchor a conversation belongs to. Users are created
// on first contact and never deleted by this engine.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// GetOrCreateUser fetches a user by id, falling back to an email match when
// the id is unknown (clients occasionally re-register with a fresh id for
// an address we already know), and finally creating a new row.
func (s *Store) GetOrCreateUser(ctx context.Context, userID, email string) (User, error) {
	user, err := s.getUser(ctx, `SELECT id, email, created_at FROM users WHERE id = ?`, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("store: get user: %w", err)
	}

	if email != "" {
		user, err = s.getUser(ctx, `SELECT id, email, created_at FROM users WHERE email = ?`, email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return User{}, fmt.Errorf("store: get user by email: %w", err)
		}
	}

	user = User{ID: userID, Email: email, CreatedAt: time.Now().UTC()}
	var emailVal any
	if email != "" {
		emailVal = email
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`,
		user.ID, emailVal, formatTime(user.CreatedAt),
	)
	if err != nil {
		return User{}, fmt.Errorf("store: create user: %w", err)
	}
	return user, nil
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (User, error) {
	var (
		user      User
		email     sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &email, &createdAt)
	if err != nil {
		return User{}, err
	}
	user.Email = email.String
	t, err := parseTime(createdAt)
	if err != nil {
		return User{}, err
	}
	user.CreatedAt = t
	return user, nil
}
