package web

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
)

// markdown converts the memory files for display. The files are written
// by this process, never by users, so rendering them as HTML is safe.
var markdown = goldmark.New()

// UsersData is the template context for the memory users list.
type UsersData struct {
	PageData
	Users []UserRow
}

// UserRow is one user in the list view.
type UserRow struct {
	ID       string
	Sessions int
}

// UserDetailData is the template context for one rendered memory file.
type UserDetailData struct {
	PageData
	UserID   string
	Sessions int
	Rendered template.HTML
}

// handleUsers renders the list of users with memory files.
func (s *WebServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	data := UsersData{
		PageData: PageData{BrandName: s.brandName, ActiveNav: "users"},
	}

	if s.memory != nil {
		ids, err := s.memory.ListUsers()
		if err != nil {
			s.logger.Error("memory list failed", "error", err)
			http.Error(w, "memory unavailable", http.StatusInternalServerError)
			return
		}
		for _, id := range ids {
			row := UserRow{ID: id}
			if stats, err := s.memory.Stats(id); err == nil {
				row.Sessions = stats.TotalSessions
			}
			data.Users = append(data.Users, row)
		}
	}

	s.render(w, r, "users.html", data)
}

// handleUserDetail renders one user's memory file as HTML.
func (s *WebServer) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimPrefix(r.URL.Path, "/users/")
	if userID == "" || strings.Contains(userID, "/") {
		http.NotFound(w, r)
		return
	}
	if s.memory == nil {
		http.Error(w, "memory not configured", http.StatusServiceUnavailable)
		return
	}

	raw, err := s.memory.Read(userID)
	if err != nil {
		s.logger.Error("memory read failed", "user_id", userID, "error", err)
		http.Error(w, "memory unavailable", http.StatusInternalServerError)
		return
	}
	// Read reports a missing file as nil content, not an error.
	if raw == nil {
		http.NotFound(w, r)
		return
	}

	var buf bytes.Buffer
	if err := markdown.Convert(raw, &buf); err != nil {
		s.logger.Error("markdown render failed", "user_id", userID, "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	data := UserDetailData{
		PageData: PageData{BrandName: s.brandName, ActiveNav: "users"},
		UserID:   userID,
		Rendered: template.HTML(buf.String()),
	}
	if stats, err := s.memory.Stats(userID); err == nil {
		data.Sessions = stats.TotalSessions
	}

	s.render(w, r, "user.html", data)
}
