package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var dummyPasswordHash = []byte("$2a$10$CwTycUXWue0Thq9StjUM0uJ8n4VWeNseyX2fA9DE.D7su7J6iYGTC")

// CreateUser registers a new user at the free tier.
func (s *Store) CreateUser(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, subscription_tier)
		VALUES ($1, $2, 'free')
	`, username, hash); err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Authenticate validates credentials and returns the user's tier.
func (s *Store) Authenticate(ctx context.Context, username, password string) (string, error) {
	var (
		hash []byte
		tier string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT password_hash, subscription_tier
		FROM users
		WHERE username = $1
	`, username).Scan(&hash, &tier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Burn a comparison so missing users take as long as bad passwords.
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return tier, nil
}
