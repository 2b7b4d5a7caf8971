package live

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/live-herald/ledger"
	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/tracked"
)

// Detector decides which snapshots are new sessions.
type Detector struct {
	Ledger ledger.Ledger
}

// Detect advances the ledger tick, then walks snaps in order. A snapshot
// whose identity is untracked is skipped; one whose session id matches the
// ledger is already announced. Every other snapshot is recorded in the ledger
// and only then appended to the result, so nothing unrecorded is ever emitted.
//
// On a ledger failure or context cancellation Detect stops and returns the
// pairs recorded so far together with the error; callers still dispatch them.
func (d *Detector) Detect(ctx context.Context, set *tracked.Snapshot, snaps []Snapshot) ([]Pair, error) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "detector"))
	if _, err := d.Ledger.AdvanceTick(ctx); err != nil {
		return nil, fmt.Errorf("advance ledger tick: %w", err)
	}

	var (
		pairs []Pair
		seen  []string
	)
	for _, s := range snaps {
		if err := ctx.Err(); err != nil {
			return pairs, err
		}
		entry, ok := set.Lookup(s.Identity)
		if !ok {
			continue
		}
		seen = append(seen, entry.Identity)

		last, ok, err := d.Ledger.LastSessionFor(ctx, entry.Identity)
		if err != nil {
			return pairs, fmt.Errorf("ledger lookup %s: %w", entry.Identity, err)
		}
		if ok && last == s.SessionID {
			continue
		}
		if err := d.Ledger.Record(ctx, entry.Identity, s.SessionID); err != nil {
			return pairs, fmt.Errorf("ledger record %s: %w", entry.Identity, err)
		}
		log.Info("new live session", slog.String("identity", entry.Identity), slog.String("session", s.SessionID))
		pairs = append(pairs, Pair{Entry: entry, Snapshot: withPlaceholders(s)})
	}
	telemetry.AddSessions(len(pairs))

	if err := d.Ledger.MarkSeen(ctx, seen); err != nil {
		return pairs, fmt.Errorf("ledger mark seen: %w", err)
	}
	return pairs, nil
}

func withPlaceholders(s Snapshot) Snapshot {
	if strings.TrimSpace(s.Title) == "" {
		s.Title = NoTitlePlaceholder
	}
	if strings.TrimSpace(s.Category) == "" {
		s.Category = NoCategoryPlaceholder
	}
	return s
}
