// Package live turns upstream live-stream snapshots into announcement pairs.
//
// The Detector diffs each tick's snapshots against the session ledger and
// records every new session before emitting it. The Scheduler drives ticks
// on a fixed cadence, backs off on upstream failures and hands new pairs to
// an Announcer. The Pruner expires ledger entries that have not been seen
// live for a configured number of ticks.
package live

import (
	"context"
	"time"

	"github.com/onnwee/live-herald/tracked"
)

// Placeholders used when the platform omits a title or category.
const (
	NoTitlePlaceholder    = "Untitled broadcast"
	NoCategoryPlaceholder = "No category"
)

// Snapshot is one live broadcaster as reported by the platform. SessionID is
// the broadcast start timestamp exactly as returned.
type Snapshot struct {
	Identity          string
	DisplayName       string
	SessionID         string
	Title             string
	Category          string
	ViewerCount       int
	StartedAt         time.Time
	ThumbnailTemplate string
}

// Pair is a newly detected session with the tracked entry it belongs to.
type Pair struct {
	Entry    tracked.Entry
	Snapshot Snapshot
}

// Source fetches live snapshots for a set of identities. Implementations
// return all-or-nothing: a failed fetch returns no snapshots.
type Source interface {
	FetchLiveSnapshots(ctx context.Context, identities []string) ([]Snapshot, error)
}

// Result summarises one dispatch.
type Result struct {
	Sent   int
	Failed int
}

// Announcer delivers pairs. It must not return before every send has
// finished or timed out.
type Announcer interface {
	Dispatch(ctx context.Context, pairs []Pair) Result
}
