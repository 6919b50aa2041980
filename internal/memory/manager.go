// Package memory provides the durable long-term session log: one
// append-only markdown file per user, human-readable, holding every
// completed turn with its psychological analysis. Entries are
// write-once; the only deletion path is an explicit user-initiated
// erasure request.
package memory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one persisted turn: the exchange plus the snapshot fields
// and the technique the therapist applied.
type Entry struct {
	Timestamp   time.Time
	UserID      string
	UserMessage string
	AgentReply  string

	Emotion      string
	Intensity    int
	ThoughtLevel string
	Distortion   string
	Technique    string
}

// Stats summarizes a user's memory file.
type Stats struct {
	TotalSessions int
	FileExists    bool
}

// Manager owns the memory directory. All methods are safe for
// concurrent use; writes to the same user file are serialized by a
// per-user lock, and different users never contend.
type Manager struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates the memory directory if needed and returns a
// manager rooted there.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &Manager{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// userLock returns the lock serializing writes for one user.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// FilePath returns the path of a user's memory file.
func (m *Manager) FilePath(userID string) string {
	return filepath.Join(m.dir, "user_"+userID+".md")
}

// Save appends an entry to the user's memory file, creating it with a
// header on first write.
func (m *Manager) Save(entry Entry) error {
	lock := m.userLock(entry.UserID)
	lock.Lock()
	defer lock.Unlock()

	path := m.FilePath(entry.UserID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		header := fmt.Sprintf("# Memory Log for User %s\n\nCreated: %s\n\n---\n\n",
			entry.UserID, time.Now().Format("2006-01-02 15:04:05"))
		if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
			return fmt.Errorf("create memory file: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open memory file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatEntry(entry)); err != nil {
		return fmt.Errorf("append memory entry: %w", err)
	}

	m.logger.Debug("memory entry saved",
		"user_id", entry.UserID,
		"technique", entry.Technique,
	)
	return nil
}

// formatEntry renders one entry as a markdown session block.
func formatEntry(e Entry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Session: %s\n\n", e.Timestamp.Format(time.RFC3339))

	if e.Emotion != "" || e.Intensity != 0 || e.ThoughtLevel != "" || e.Distortion != "" {
		b.WriteString("### Analysis\n\n")
		if e.Emotion != "" {
			fmt.Fprintf(&b, "- **Emotion**: %s\n", e.Emotion)
		}
		if e.Intensity != 0 {
			fmt.Fprintf(&b, "- **Intensity**: %d/10\n", e.Intensity)
		}
		if e.ThoughtLevel != "" {
			fmt.Fprintf(&b, "- **Thought Level**: %s\n", e.ThoughtLevel)
		}
		if e.Distortion != "" {
			fmt.Fprintf(&b, "- **Primary Distortion**: %s\n", e.Distortion)
		}
		b.WriteString("\n")
	}

	b.WriteString("### Conversation\n\n")
	fmt.Fprintf(&b, "**User**: %s\n\n", sanitizeLine(e.UserMessage))
	fmt.Fprintf(&b, "**Agent**: %s\n\n", sanitizeLine(e.AgentReply))

	if e.Technique != "" {
		fmt.Fprintf(&b, "**Technique Used**: %s\n\n", e.Technique)
	}

	b.WriteString("---\n\n")
	return b.String()
}

// sanitizeLine folds newlines so an entry's conversation lines stay
// parseable by LoadHistory.
func sanitizeLine(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", " "), "\n", " ")
}

// Message is a parsed conversation message in model chat format.
type Message struct {
	Role    string
	Content string
}

// LoadHistory parses the user's memory file back into chat messages,
// returning at most the last limit exchanges (user + agent pairs),
// oldest first. Used as a fallback context source when the rolling
// window is empty.
func (m *Manager) LoadHistory(userID string, limit int) ([]Message, error) {
	data, err := os.ReadFile(m.FilePath(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}

	var messages []Message
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "**User**:"); ok {
			messages = append(messages, Message{Role: "user", Content: strings.TrimSpace(after)})
		} else if after, ok := strings.CutPrefix(line, "**Agent**:"); ok {
			messages = append(messages, Message{Role: "assistant", Content: strings.TrimSpace(after)})
		}
	}

	if limit > 0 && len(messages) > limit*2 {
		messages = messages[len(messages)-limit*2:]
	}
	return messages, nil
}

// Stats returns session counts for a user.
func (m *Manager) Stats(userID string) (Stats, error) {
	data, err := os.ReadFile(m.FilePath(userID))
	if os.IsNotExist(err) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("read memory file: %w", err)
	}
	return Stats{
		TotalSessions: strings.Count(string(data), "## Session:"),
		FileExists:    true,
	}, nil
}

// Erase deletes the user's memory file. Only called on an explicit
// user request; there is no other deletion path.
func (m *Manager) Erase(userID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(m.FilePath(userID))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("erase memory for %s: %w", userID, err)
	}

	m.logger.Info("memory erased at user request", "user_id", userID)
	return nil
}

// ListUsers returns the IDs of all users with stored memories.
func (m *Manager) ListUsers() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "user_*.md"))
	if err != nil {
		return nil, fmt.Errorf("list memory files: %w", err)
	}

	users := make([]string, 0, len(matches))
	for _, p := range matches {
		base := strings.TrimSuffix(filepath.Base(p), ".md")
		users = append(users, strings.TrimPrefix(base, "user_"))
	}
	return users, nil
}

// Read returns the raw markdown of a user's memory file, for the ops
// viewer. Returns nil with no error when the user has no memory.
func (m *Manager) Read(userID string) ([]byte, error) {
	data, err := os.ReadFile(m.FilePath(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}
	return data, nil
}
