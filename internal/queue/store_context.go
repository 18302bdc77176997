package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserKnowledge returns the accumulated contextual knowledge for a user.
// An empty string means no knowledge has been recorded yet.
func (s *Store) UserKnowledge(ctx context.Context, userID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT knowledge FROM user_context WHERE user_id = ?`, userID)
	var knowledge string
	if err := row.Scan(&knowledge); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("user knowledge: %w", err)
	}
	return knowledge, nil
}

// AppendUserKnowledge merges a new knowledge fragment into the user's
// accumulated context. Fragments are newline-separated.
func (s *Store) AppendUserKnowledge(ctx context.Context, userID, fragment string) error {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil
	}
	existing, err := s.UserKnowledge(ctx, userID)
	if err != nil {
		return err
	}
	combined := fragment
	if existing != "" {
		combined = existing + "\n" + fragment
	}
	now := formatTime(time.Now())
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO user_context (user_id, knowledge, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(user_id) DO UPDATE SET knowledge = excluded.knowledge, updated_at = excluded.updated_at`,
		userID,
		combined,
		now,
	)
	if err != nil {
		return fmt.Errorf("append user knowledge: %w", err)
	}
	return nil
}
