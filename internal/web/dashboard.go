package web

import (
	"net/http"
	"time"

	"github.com/anchorbot/anchor/internal/buildinfo"
	"github.com/anchorbot/anchor/internal/telemetry"
)

// DashboardData is the template context for the runtime overview page.
type DashboardData struct {
	PageData
	Build  map[string]string
	Uptime time.Duration
	Stats  telemetry.TurnStats
}

// handleDashboard renders the runtime overview page at "/". Only exact
// "/" requests get the dashboard; all other paths return 404.
func (s *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := DashboardData{
		PageData: PageData{BrandName: s.brandName, ActiveNav: "overview"},
		Build:    buildinfo.Info(),
		Uptime:   buildinfo.Uptime(),
	}
	if s.statsFunc != nil {
		data.Stats = s.statsFunc()
	}

	s.render(w, r, "dashboard.html", data)
}
