// Package ledger records, per broadcaster, the last live session that was
// announced. A session whose id matches the recorded one is never announced
// again. Entries carry the poll tick at which the broadcaster was last seen
// live so stale sessions can be pruned without wall-clock assumptions.
package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/live-herald/filestore"
)

// Entry is one ledger row.
type Entry struct {
	Identity     string    `json:"identity"`
	SessionID    string    `json:"session_id"`
	AnnouncedAt  time.Time `json:"announced_at"`
	LastSeenTick int64     `json:"last_seen_tick"`
}

// Ledger is the durable announced-session store. Record must be durable
// before it returns.
type Ledger interface {
	LastSessionFor(ctx context.Context, identity string) (sessionID string, ok bool, err error)
	Record(ctx context.Context, identity, sessionID string) error
	AdvanceTick(ctx context.Context) (int64, error)
	MarkSeen(ctx context.Context, identities []string) error
	Prune(ctx context.Context, olderThanTicks int64) (int, error)
	Entries(ctx context.Context) ([]Entry, error)
}

func normalize(identity string) string { return strings.ToLower(strings.TrimSpace(identity)) }

type document struct {
	Tick    int64            `json:"tick"`
	Entries map[string]Entry `json:"entries"`
}

func (d document) clone() document {
	out := document{Tick: d.Tick, Entries: make(map[string]Entry, len(d.Entries))}
	for k, v := range d.Entries {
		out.Entries[k] = v
	}
	return out
}

// Local is an in-process ledger, optionally mirrored to a JSON file.
type Local struct {
	mu   sync.Mutex
	doc  document
	path string
	now  func() time.Time
}

// NewMemory returns a ledger that lives only in memory.
func NewMemory() *Local {
	return &Local{doc: document{Entries: map[string]Entry{}}, now: time.Now}
}

// NewFile loads path (missing or empty means tick 0, no entries) and
// rewrites it atomically on every mutation.
func NewFile(path string) (*Local, error) {
	l := NewMemory()
	l.path = path
	var doc document
	found, err := filestore.ReadJSON(path, &doc)
	if err != nil {
		return nil, err
	}
	if found {
		l.doc.Tick = doc.Tick
		for k, v := range doc.Entries {
			v.Identity = normalize(k)
			l.doc.Entries[v.Identity] = v
		}
	}
	return l, nil
}

// mutate applies fn to a copy and persists it before making it current, so a
// failed write leaves the ledger unchanged.
func (l *Local) mutate(fn func(d *document)) error {
	next := l.doc.clone()
	fn(&next)
	if l.path != "" {
		if err := filestore.WriteJSON(l.path, next); err != nil {
			return err
		}
	}
	l.doc = next
	return nil
}

func (l *Local) LastSessionFor(_ context.Context, identity string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.doc.Entries[normalize(identity)]
	return e.SessionID, ok, nil
}

func (l *Local) Record(_ context.Context, identity, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := normalize(identity)
	if e, ok := l.doc.Entries[id]; ok && e.SessionID == sessionID {
		return nil
	}
	return l.mutate(func(d *document) {
		d.Entries[id] = Entry{Identity: id, SessionID: sessionID, AnnouncedAt: l.now().UTC(), LastSeenTick: d.Tick}
	})
}

func (l *Local) AdvanceTick(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.mutate(func(d *document) { d.Tick++ }); err != nil {
		return 0, err
	}
	return l.doc.Tick, nil
}

func (l *Local) MarkSeen(_ context.Context, identities []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := false
	for _, raw := range identities {
		if e, ok := l.doc.Entries[normalize(raw)]; ok && e.LastSeenTick != l.doc.Tick {
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}
	return l.mutate(func(d *document) {
		for _, raw := range identities {
			id := normalize(raw)
			if e, ok := d.Entries[id]; ok {
				e.LastSeenTick = d.Tick
				d.Entries[id] = e
			}
		}
	})
}

// Prune drops entries not seen for olderThanTicks consecutive ticks (at
// least one).
func (l *Local) Prune(_ context.Context, olderThanTicks int64) (int, error) {
	olderThanTicks = max(olderThanTicks, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	var stale []string
	for id, e := range l.doc.Entries {
		if l.doc.Tick-e.LastSeenTick >= olderThanTicks {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err := l.mutate(func(d *document) {
		for _, id := range stale {
			delete(d.Entries, id)
		}
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Entries returns all entries sorted by identity.
func (l *Local) Entries(context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.doc.Entries))
	for _, e := range l.doc.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// Tick returns the current tick.
func (l *Local) Tick() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.Tick
}
