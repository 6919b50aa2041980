package memory

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func testEntry(userID string) Entry {
	return Entry{
		Timestamp:    time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
		UserID:       userID,
		UserMessage:  "Мне кажется, я всё делаю не так.",
		AgentReply:   "Похоже, тебе сейчас тяжело. Что именно произошло?",
		Emotion:      "вина",
		Intensity:    6,
		ThoughtLevel: "intermediate_belief",
		Distortion:   "Сверхобобщение",
		Technique:    "Сократовский диалог",
	}
}

func TestSaveCreatesFileWithHeader(t *testing.T) {
	m := setupManager(t)

	if err := m.Save(testEntry("42")); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(m.FilePath("42"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "# Memory Log for User 42") {
		t.Errorf("missing header, got prefix %q", content[:40])
	}
	for _, want := range []string{
		"## Session: 2026-08-28T12:00:00Z",
		"- **Emotion**: вина",
		"- **Intensity**: 6/10",
		"- **Primary Distortion**: Сверхобобщение",
		"**User**: Мне кажется, я всё делаю не так.",
		"**Technique Used**: Сократовский диалог",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("memory file missing %q", want)
		}
	}
}

func TestSaveAppends(t *testing.T) {
	m := setupManager(t)

	m.Save(testEntry("42"))
	m.Save(testEntry("42"))

	stats, err := m.Stats("42")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalSessions != 2 {
		t.Errorf("sessions = %d, want 2", stats.TotalSessions)
	}
	if !stats.FileExists {
		t.Error("file should exist")
	}
}

func TestLoadHistory(t *testing.T) {
	m := setupManager(t)

	for i := 1; i <= 4; i++ {
		e := testEntry("42")
		e.UserMessage = fmt.Sprintf("сообщение %d", i)
		e.AgentReply = fmt.Sprintf("ответ %d", i)
		m.Save(e)
	}

	msgs, err := m.LoadHistory("42", 2)
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	// Last 2 exchanges = 4 messages, oldest first.
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "сообщение 3" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[3].Role != "assistant" || msgs[3].Content != "ответ 4" {
		t.Errorf("msgs[3] = %+v", msgs[3])
	}
}

func TestLoadHistory_MultilineMessagesFolded(t *testing.T) {
	m := setupManager(t)

	e := testEntry("42")
	e.UserMessage = "первая строка\nвторая строка"
	m.Save(e)

	msgs, err := m.LoadHistory("42", 10)
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "первая строка вторая строка" {
		t.Errorf("content = %q", msgs[0].Content)
	}
}

func TestLoadHistory_NoFile(t *testing.T) {
	m := setupManager(t)

	msgs, err := m.LoadHistory("nobody", 10)
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if msgs != nil {
		t.Errorf("msgs = %v, want nil", msgs)
	}
}

func TestErase(t *testing.T) {
	m := setupManager(t)

	m.Save(testEntry("42"))
	if err := m.Erase("42"); err != nil {
		t.Fatalf("erase: %v", err)
	}

	stats, _ := m.Stats("42")
	if stats.FileExists {
		t.Error("file should be gone after erase")
	}

	// Erasing an absent file is not an error.
	if err := m.Erase("42"); err != nil {
		t.Errorf("second erase: %v", err)
	}
}

func TestListUsers(t *testing.T) {
	m := setupManager(t)

	m.Save(testEntry("alice"))
	m.Save(testEntry("bob"))

	users, err := m.ListUsers()
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %v, want 2 entries", users)
	}
}

func TestConcurrentSavesSameUser(t *testing.T) {
	m := setupManager(t)

	var wg sync.WaitGroup
	const n = 16
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := testEntry("42")
			e.UserMessage = fmt.Sprintf("параллельное %d", i)
			if err := m.Save(e); err != nil {
				t.Errorf("save: %v", err)
			}
		}()
	}
	wg.Wait()

	stats, err := m.Stats("42")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalSessions != n {
		t.Errorf("sessions = %d, want %d (no lost or torn writes)", stats.TotalSessions, n)
	}
}
