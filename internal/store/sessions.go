package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"saifguard/internal/logging"
)

// Turn is one stored conversation exchange.
type Turn struct {
	TurnNumber  int
	UserMessage string
	Response    string
	CreatedAt   time.Time
}

// GetOrCreateSession resolves the session for a user. Sessions idle
// longer than ttl are discarded along with their turns, so the user
// starts clean. A zero ttl means sessions never expire.
func (s *LocalStore) GetOrCreateSession(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var sessionID string
	var idleSeconds int64
	err := s.db.QueryRow(
		"SELECT id, strftime('%s','now') - strftime('%s', last_active) FROM sessions WHERE user_id = ?", userID,
	).Scan(&sessionID, &idleSeconds)

	switch {
	case err == sql.ErrNoRows:
		// First contact: fall through to create.
	case err != nil:
		return "", fmt.Errorf("failed to look up session: %w", err)
	default:
		idle := time.Duration(idleSeconds) * time.Second
		if ttl > 0 && idle > ttl {
			logging.Session("Session %s for %s expired (idle %v), restarting clean",
				sessionID, userID, idle)
			if err := s.deleteSessionLocked(sessionID); err != nil {
				return "", err
			}
		} else {
			if _, err := s.db.Exec(
				"UPDATE sessions SET last_active = CURRENT_TIMESTAMP WHERE id = ?", sessionID,
			); err != nil {
				return "", fmt.Errorf("failed to touch session: %w", err)
			}
			return sessionID, nil
		}
	}

	sessionID = uuid.NewString()
	if _, err := s.db.Exec(
		"INSERT INTO sessions (id, user_id) VALUES (?, ?)", sessionID, userID,
	); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	logging.Session("Created session %s for user %s", sessionID, userID)
	return sessionID, nil
}

// StoreTurn records a conversation turn.
// Uses INSERT OR IGNORE for idempotent syncing (duplicate turns are
// silently skipped).
func (s *LocalStore) StoreTurn(sessionID string, turnNumber int, userMessage, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Storing session turn: session=%s turn=%d input_len=%d response_len=%d",
		sessionID, turnNumber, len(userMessage), len(response))

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO session_turns (session_id, turn_number, user_message, response)
		 VALUES (?, ?, ?, ?)`,
		sessionID, turnNumber, userMessage, response,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to store turn: session=%s turn=%d: %v", sessionID, turnNumber, err)
		return err
	}
	return nil
}

// GetTurns retrieves a session's turns in order.
func (s *LocalStore) GetTurns(sessionID string) ([]Turn, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetTurns")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT turn_number, user_message, response, created_at
		 FROM session_turns
		 WHERE session_id = ?
		 ORDER BY turn_number ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.TurnNumber, &t.UserMessage, &t.Response, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// NextTurnNumber returns the turn number the next exchange should use.
func (s *LocalStore) NextTurnNumber(sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max sql.NullInt64
	err := s.db.QueryRow(
		"SELECT MAX(turn_number) FROM session_turns WHERE session_id = ?", sessionID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query turn count: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// ExpireSessions removes sessions idle longer than ttl, with their
// turns. Returns the number of sessions removed.
func (s *LocalStore) ExpireSessions(ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT id FROM sessions WHERE strftime('%s','now') - strftime('%s', last_active) > ?",
		int64(ttl.Seconds()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			stale = append(stale, id)
		}
	}
	rows.Close()

	for _, id := range stale {
		if err := s.deleteSessionLocked(id); err != nil {
			return 0, err
		}
	}
	if len(stale) > 0 {
		logging.Session("Expired %d stale sessions", len(stale))
	}
	return len(stale), nil
}

func (s *LocalStore) deleteSessionLocked(sessionID string) error {
	if _, err := s.db.Exec("DELETE FROM session_turns WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
