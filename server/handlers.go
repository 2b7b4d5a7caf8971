package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/live-herald/announce"
	"github.com/onnwee/live-herald/ledger"
	"github.com/onnwee/live-herald/live"
	"github.com/onnwee/live-herald/tracked"
)

// StatusSource reports the poll loop state.
type StatusSource interface {
	Status() live.Status
}

// FeedSource is the dashboard websocket feed.
type FeedSource interface {
	http.Handler
	Recent() []announce.Message
	Clients() int
}

// Deps are the collaborators the handlers read from. DB is nil with the file
// backend; Scheduler and Feed are optional.
type Deps struct {
	DB        *sql.DB
	Tracked   tracked.Store
	Ledger    ledger.Ledger
	Scheduler StatusSource
	Feed      FeedSource
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx  context.Context
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	return &Handlers{ctx: ctx, deps: deps}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err), slog.String("component", "http"))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
