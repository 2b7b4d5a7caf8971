package live

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/live-herald/twitchapi"
)

// StreamFetcher is the subset of twitchapi.HelixClient used by HelixSource.
type StreamFetcher interface {
	GetLiveStreams(ctx context.Context, logins []string) ([]twitchapi.Stream, error)
}

// HelixSource adapts the Helix streams endpoint to Source.
type HelixSource struct {
	Client StreamFetcher
}

func (h *HelixSource) FetchLiveSnapshots(ctx context.Context, identities []string) ([]Snapshot, error) {
	streams, err := h.Client.GetLiveStreams(ctx, identities)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(streams))
	for _, s := range streams {
		if s.StartedAt == "" {
			slog.Debug("skipping stream without started_at", slog.String("component", "live_source"), slog.String("identity", s.UserLogin))
			continue
		}
		snap := Snapshot{
			Identity:          strings.ToLower(s.UserLogin),
			DisplayName:       s.UserName,
			SessionID:         s.StartedAt,
			Title:             s.Title,
			Category:          s.GameName,
			ViewerCount:       s.ViewerCount,
			ThumbnailTemplate: s.ThumbnailURL,
		}
		if t, err := time.Parse(time.RFC3339, s.StartedAt); err == nil {
			snap.StartedAt = t
		}
		if snap.DisplayName == "" {
			snap.DisplayName = snap.Identity
		}
		out = append(out, snap)
	}
	return out, nil
}
