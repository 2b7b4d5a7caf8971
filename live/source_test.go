package live

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/onnwee/live-herald/twitchapi"
)

type stubFetcher struct {
	streams []twitchapi.Stream
	err     error
	got     []string
}

func (s *stubFetcher) GetLiveStreams(_ context.Context, logins []string) ([]twitchapi.Stream, error) {
	s.got = logins
	return s.streams, s.err
}

func TestHelixSource_Converts(t *testing.T) {
	f := &stubFetcher{streams: []twitchapi.Stream{
		{UserLogin: "Alice", UserName: "Alice", Title: "hi", GameName: "Art", ViewerCount: 12, StartedAt: "2024-03-01T12:00:00Z", ThumbnailURL: "https://x/{width}x{height}.jpg"},
		{UserLogin: "bob", StartedAt: "2024-03-01T13:00:00Z"},
		{UserLogin: "ghost", StartedAt: ""},
	}}
	src := &HelixSource{Client: f}

	snaps, err := src.FetchLiveSnapshots(context.Background(), []string{"alice", "bob", "ghost"})
	if err != nil {
		t.Fatalf("FetchLiveSnapshots: %v", err)
	}
	if len(f.got) != 3 {
		t.Errorf("identities not forwarded: %v", f.got)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots (ghost dropped), got %d", len(snaps))
	}
	a := snaps[0]
	if a.Identity != "alice" || a.DisplayName != "Alice" || a.SessionID != "2024-03-01T12:00:00Z" {
		t.Errorf("unexpected snapshot %+v", a)
	}
	if !a.StartedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("StartedAt = %v", a.StartedAt)
	}
	if a.Category != "Art" || a.ViewerCount != 12 || a.ThumbnailTemplate == "" {
		t.Errorf("fields not copied: %+v", a)
	}
	if snaps[1].DisplayName != "bob" {
		t.Errorf("display name fallback = %q", snaps[1].DisplayName)
	}
}

func TestHelixSource_Error(t *testing.T) {
	src := &HelixSource{Client: &stubFetcher{err: twitchapi.ErrUpstreamUnavailable, streams: []twitchapi.Stream{{UserLogin: "a", StartedAt: "x"}}}}
	snaps, err := src.FetchLiveSnapshots(context.Background(), []string{"a"})
	if !errors.Is(err, twitchapi.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if snaps != nil {
		t.Errorf("expected no snapshots on error, got %v", snaps)
	}
}

func TestClassifyFetchError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass FetchClass
		wantHint  time.Duration
	}{
		{"rate limit with hint", &twitchapi.RateLimitError{RetryAfter: 30 * time.Second}, FetchBackoff, 30 * time.Second},
		{"wrapped rate limit", fmt.Errorf("poll: %w", &twitchapi.RateLimitError{}), FetchBackoff, 0},
		{"bare rate limit sentinel", twitchapi.ErrRateLimited, FetchBackoff, 0},
		{"upstream", fmt.Errorf("%w: 503", twitchapi.ErrUpstreamUnavailable), FetchBackoff, 0},
		{"auth", fmt.Errorf("%w: 403", twitchapi.ErrAuthFailed), FetchAuth, 0},
		{"other", errors.New("weird"), FetchRetry, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, hint := ClassifyFetchError(tt.err)
			if class != tt.wantClass || hint != tt.wantHint {
				t.Errorf("got (%v, %v), want (%v, %v)", class, hint, tt.wantClass, tt.wantHint)
			}
		})
	}
}

func TestFetchClass_String(t *testing.T) {
	for c, want := range map[FetchClass]string{FetchBackoff: "backoff", FetchAuth: "auth", FetchRetry: "retry", FetchClass(7): "unknown"} {
		if c.String() != want {
			t.Errorf("%d.String() = %q", c, c.String())
		}
	}
}
