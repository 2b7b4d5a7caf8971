package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/live-herald/live"
)

type statusResponse struct {
	Scheduler     *live.Status `json:"scheduler,omitempty"`
	Tracked       int          `json:"tracked"`
	LedgerEntries int          `json:"ledger_entries"`
	FeedClients   int          `json:"feed_clients"`
}

// HandleStatus reports poll loop, tracked set and ledger counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var resp statusResponse
	if h.deps.Scheduler != nil {
		st := h.deps.Scheduler.Status()
		resp.Scheduler = &st
	}
	if h.deps.Tracked != nil {
		resp.Tracked = h.deps.Tracked.Snapshot().Len()
	}
	if h.deps.Ledger != nil {
		entries, err := h.deps.Ledger.Entries(r.Context())
		if err != nil {
			slog.Warn("status: ledger read failed", slog.Any("err", err), slog.String("component", "http"))
		}
		resp.LedgerEntries = len(entries)
	}
	if h.deps.Feed != nil {
		resp.FeedClients = h.deps.Feed.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}
