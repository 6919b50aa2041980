// Package history provides the short-term rolling conversation window.
// Each user keeps the last N completed turns; older turns fall out of
// the window but remain in the durable markdown memory. Rows are
// partitioned by user, so concurrent turns from different users never
// contend on the same record.
package history

import (
	"database/sql"
	"fmt"
	"time"
)

// Turn is one completed exchange: the user message and the final reply
// the loop decided on. Immutable once appended.
type Turn struct {
	// Ordinal is the turn's position in the user's session, starting at 1.
	Ordinal   int       `json:"ordinal"`
	UserText  string    `json:"user_text"`
	ReplyText string    `json:"reply_text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages the rolling history window, backed by SQLite.
type Store struct {
	db     *sql.DB
	window int
}

// NewStore creates a history store using the given database connection.
// window is the number of recent turns retained per user.
func NewStore(db *sql.DB, window int) (*Store, error) {
	if window <= 0 {
		window = 10
	}
	s := &Store{db: db, window: window}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("history migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history_turns (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			ordinal    INTEGER NOT NULL,
			user_text  TEXT NOT NULL,
			reply_text TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_user ON history_turns (user_id, ordinal);
	`)
	return err
}

// Recent returns the user's turns inside the window, oldest first.
// Returns an empty slice for unknown users.
func (s *Store) Recent(userID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT ordinal, user_text, reply_text, created_at
		FROM history_turns
		WHERE user_id = ?
		ORDER BY ordinal DESC
		LIMIT ?
	`, userID, s.window)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", userID, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.Ordinal, &t.UserText, &t.ReplyText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Append records a completed turn and trims the user's history to the
// window. Called once per turn, after the outcome is finalized, never
// mid-loop.
func (s *Store) Append(userID string, userText, replyText string) (Turn, error) {
	var next int
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(ordinal), 0) + 1 FROM history_turns WHERE user_id = ?
	`, userID).Scan(&next)
	if err != nil {
		return Turn{}, fmt.Errorf("next ordinal for %s: %w", userID, err)
	}

	t := Turn{
		Ordinal:   next,
		UserText:  userText,
		ReplyText: replyText,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.Exec(`
		INSERT INTO history_turns (user_id, ordinal, user_text, reply_text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, t.Ordinal, t.UserText, t.ReplyText, t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Turn{}, fmt.Errorf("append turn for %s: %w", userID, err)
	}

	// Trim rows that fell out of the window.
	_, err = s.db.Exec(`
		DELETE FROM history_turns
		WHERE user_id = ? AND ordinal <= ? - ?
	`, userID, t.Ordinal, s.window)
	if err != nil {
		return Turn{}, fmt.Errorf("trim history for %s: %w", userID, err)
	}

	return t, nil
}

// Reset clears the user's rolling window. Used on /start.
func (s *Store) Reset(userID string) error {
	_, err := s.db.Exec(`DELETE FROM history_turns WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("reset history for %s: %w", userID, err)
	}
	return nil
}
