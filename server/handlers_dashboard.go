package server

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/live-herald/announce"
	"github.com/onnwee/live-herald/ledger"
	"github.com/onnwee/live-herald/live"
	"github.com/onnwee/live-herald/tracked"
)

//go:embed templates/*.html
var templateFS embed.FS

var dashboardTmpl = template.Must(template.New("dashboard.html").Funcs(template.FuncMap{
	"ts": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02 15:04:05 UTC")
	},
}).ParseFS(templateFS, "templates/dashboard.html"))

type dashboardData struct {
	Tracked  []tracked.Entry
	Ledger   []ledger.Entry
	Status   *live.Status
	Recent   []announce.Message
	LiveFeed bool
}

// HandleDashboard renders the read-only overview page.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var data dashboardData
	if h.deps.Tracked != nil {
		data.Tracked = h.deps.Tracked.Snapshot().Entries()
	}
	if h.deps.Ledger != nil {
		entries, err := h.deps.Ledger.Entries(ctx)
		if err != nil {
			slog.Warn("dashboard: ledger read failed", slog.Any("err", err), slog.String("component", "http"))
		}
		data.Ledger = entries
	}
	if h.deps.Scheduler != nil {
		st := h.deps.Scheduler.Status()
		data.Status = &st
	}
	if h.deps.Feed != nil {
		recent := h.deps.Feed.Recent()
		// newest first
		for i := len(recent) - 1; i >= 0; i-- {
			data.Recent = append(data.Recent, recent[i])
		}
		data.LiveFeed = true
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		slog.Error("dashboard render failed", slog.Any("err", err), slog.String("component", "http"))
	}
}
