package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/tracked"
)

type addBroadcasterRequest struct {
	Identity string `json:"identity"`
	Template string `json:"template"`
}

// HandleListBroadcasters returns the tracked set in insertion order.
func (h *Handlers) HandleListBroadcasters(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Tracked.List(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list broadcasters", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to list broadcasters")
		return
	}
	if entries == nil {
		entries = []tracked.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleAddBroadcaster tracks a broadcaster: 201 created, 400 invalid, 409 duplicate.
func (h *Handlers) HandleAddBroadcaster(w http.ResponseWriter, r *http.Request) {
	var req addBroadcasterRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	e, err := h.deps.Tracked.Add(r.Context(), req.Identity, req.Template)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, e)
	case errors.Is(err, tracked.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracked.ErrAlreadyTracked):
		writeError(w, http.StatusConflict, err.Error())
	default:
		telemetry.LoggerWithCorr(r.Context()).Error("add broadcaster", slog.String("identity", req.Identity), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to add broadcaster")
	}
}

// HandleRemoveBroadcaster untracks a broadcaster: 204 removed, 404 unknown.
func (h *Handlers) HandleRemoveBroadcaster(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	err := h.deps.Tracked.Remove(r.Context(), identity)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, tracked.ErrNotTracked):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		telemetry.LoggerWithCorr(r.Context()).Error("remove broadcaster", slog.String("identity", identity), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to remove broadcaster")
	}
}
