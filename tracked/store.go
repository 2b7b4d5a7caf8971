// Package tracked holds the mutable set of broadcasters the service watches.
//
// Set is a copy-on-write cache over a durable Backend: mutations serialise on
// a mutex, hit the backend first, then publish a fresh immutable Snapshot
// through an atomic pointer. Readers (the poll loop) never take the lock and
// never observe a partially applied change.
package tracked

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/live-herald/telemetry"
)

var (
	ErrAlreadyTracked  = errors.New("broadcaster already tracked")
	ErrNotTracked      = errors.New("broadcaster not tracked")
	ErrInvalidIdentity = errors.New("invalid broadcaster login")
)

var loginRe = regexp.MustCompile(`^[a-z0-9_]{1,25}$`)

// Entry is one tracked broadcaster. Template is sent verbatim as the
// announcement body.
type Entry struct {
	Identity string    `json:"identity"`
	Template string    `json:"template"`
	AddedAt  time.Time `json:"added_at"`
}

// Normalize returns the canonical (case-folded) form of a login.
func Normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Valid reports whether a normalized identity is a well-formed Twitch login.
func Valid(identity string) bool { return loginRe.MatchString(identity) }

// DefaultTemplate is stored when Add receives an empty template.
func DefaultTemplate(identity string) string {
	return fmt.Sprintf("@everyone %s is live! https://twitch.tv/%s", identity, identity)
}

// Store is the tracked-set contract used by the admin surfaces and the poller.
type Store interface {
	Add(ctx context.Context, identity, template string) (Entry, error)
	Remove(ctx context.Context, identity string) error
	List(ctx context.Context) ([]Entry, error)
	Snapshot() *Snapshot
}

// Backend persists entries. Insert must fail with ErrAlreadyTracked on a
// duplicate identity and Delete with ErrNotTracked when nothing was removed.
type Backend interface {
	Load(ctx context.Context) ([]Entry, error)
	Insert(ctx context.Context, e Entry) error
	Delete(ctx context.Context, identity string) error
}

// Snapshot is an immutable view of the tracked set in insertion order.
type Snapshot struct {
	entries []Entry
	index   map[string]int
}

func newSnapshot(entries []Entry) *Snapshot {
	s := &Snapshot{entries: entries, index: make(map[string]int, len(entries))}
	for i, e := range entries {
		s.index[e.Identity] = i
	}
	return s
}

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Entries returns a copy of the entries.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Identities returns the tracked logins in insertion order.
func (s *Snapshot) Identities() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Identity
	}
	return out
}

// Lookup finds an entry case-insensitively.
func (s *Snapshot) Lookup(identity string) (Entry, bool) {
	i, ok := s.index[Normalize(identity)]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Set implements Store.
type Set struct {
	mu      sync.Mutex
	backend Backend
	snap    atomic.Pointer[Snapshot]
	now     func() time.Time
}

// New loads the backend and returns a ready Set.
func New(ctx context.Context, backend Backend) (*Set, error) {
	entries, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tracked broadcasters: %w", err)
	}
	s := &Set{backend: backend, now: time.Now}
	for i := range entries {
		entries[i].Identity = Normalize(entries[i].Identity)
	}
	s.publish(entries)
	return s, nil
}

func (s *Set) publish(entries []Entry) {
	s.snap.Store(newSnapshot(entries))
	telemetry.SetTracked(len(entries))
}

// Snapshot returns the current immutable view.
func (s *Set) Snapshot() *Snapshot { return s.snap.Load() }

// List returns the entries in insertion order.
func (s *Set) List(ctx context.Context) ([]Entry, error) {
	return s.Snapshot().Entries(), nil
}

// Add tracks identity with template (empty selects DefaultTemplate).
func (s *Set) Add(ctx context.Context, identity, template string) (Entry, error) {
	id := Normalize(identity)
	if !Valid(id) {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if _, ok := cur.Lookup(id); ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrAlreadyTracked, id)
	}
	e := Entry{Identity: id, Template: template, AddedAt: s.now().UTC()}
	if err := s.backend.Insert(ctx, e); err != nil {
		return Entry{}, err
	}
	next := append(cur.Entries(), e)
	s.publish(next)
	slog.Info("broadcaster tracked", slog.String("component", "tracked"), slog.String("identity", id))
	return e, nil
}

// Remove stops tracking identity.
func (s *Set) Remove(ctx context.Context, identity string) error {
	id := Normalize(identity)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if _, ok := cur.Lookup(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, id)
	}
	if err := s.backend.Delete(ctx, id); err != nil {
		return err
	}
	next := make([]Entry, 0, cur.Len()-1)
	for _, e := range cur.entries {
		if e.Identity != id {
			next = append(next, e)
		}
	}
	s.publish(next)
	slog.Info("broadcaster untracked", slog.String("component", "tracked"), slog.String("identity", id))
	return nil
}

// Seed adds entries that are not yet tracked. Invalid logins are logged and skipped.
func (s *Set) Seed(ctx context.Context, entries []Entry) (int, error) {
	added := 0
	for _, e := range entries {
		_, err := s.Add(ctx, e.Identity, e.Template)
		switch {
		case err == nil:
			added++
		case errors.Is(err, ErrAlreadyTracked):
		case errors.Is(err, ErrInvalidIdentity):
			slog.Warn("skipping invalid seed entry", slog.String("component", "tracked"), slog.String("identity", e.Identity))
		default:
			return added, err
		}
	}
	return added, nil
}

// MemoryBackend keeps entries in process memory only.
type MemoryBackend struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend(initial ...Entry) *MemoryBackend {
	return &MemoryBackend{entries: append([]Entry(nil), initial...)}
}

func (m *MemoryBackend) Load(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...), nil
}

func (m *MemoryBackend) Insert(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.entries {
		if cur.Identity == e.Identity {
			return fmt.Errorf("%w: %s", ErrAlreadyTracked, e.Identity)
		}
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.entries {
		if cur.Identity == identity {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotTracked, identity)
}
