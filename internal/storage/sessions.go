package storage

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *Store) SaveSession(sess Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (token, user_id, username, role, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.Token, sess.UserID, sess.Username, sess.Role,
		sess.CreatedAt.UTC().Format(time.RFC3339), sess.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetSession(token string) (Session, error) {
	var sess Session
	var createdAt, expiresAt string
	err := s.db.QueryRow(`
		SELECT token, user_id, username, role, created_at, expires_at
		FROM sessions WHERE token = ?`, token,
	).Scan(&sess.Token, &sess.UserID, &sess.Username, &sess.Role, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return Session{}, fmt.Errorf("parsing expires_at: %w", err)
	}
	return sess, nil
}

// DeleteExpiredSessions removes sessions that expired at or before now and returns
// how many were removed.
func (s *Store) DeleteExpiredSessions(now time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM sessions WHERE expires_at <= ?", now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
