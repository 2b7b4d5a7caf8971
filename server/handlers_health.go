package server

import (
	"context"
	"fmt"
	"net/http"
)

// readyMaxFailures is how many consecutive failed ticks flip /readyz.
const readyMaxFailures = 5

// HandleHealthz answers liveness checks; with Postgres it also pings the database.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		if err := h.deps.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz runs the readiness checks in order and reports the first failure.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"database", func(ctx context.Context) error {
			if h.deps.DB == nil {
				return nil
			}
			return h.deps.DB.PingContext(ctx)
		}},
		{"tracked_store", func(context.Context) error {
			if h.deps.Tracked == nil || h.deps.Tracked.Snapshot() == nil {
				return fmt.Errorf("tracked set not loaded")
			}
			return nil
		}},
		{"poller", func(context.Context) error {
			if h.deps.Scheduler == nil {
				return nil
			}
			st := h.deps.Scheduler.Status()
			if st.ConsecutiveFailures >= readyMaxFailures {
				return fmt.Errorf("%d consecutive failed ticks: %s", st.ConsecutiveFailures, st.LastError)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
