package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/onnwee/live-herald/ledger"
	"github.com/onnwee/live-herald/tracked"
)

// fakeSource serves whatever is currently marked live.
type fakeSource struct {
	mu     sync.Mutex
	live   map[string]Snapshot
	order  []string
	err    error
	calls  int
	onCall func()
}

func newFakeSource() *fakeSource { return &fakeSource{live: map[string]Snapshot{}} }

func (f *fakeSource) setLive(identity, session string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[identity]; !ok {
		f.order = append(f.order, identity)
	}
	f.live[identity] = Snapshot{Identity: identity, DisplayName: identity, SessionID: session, Title: "stream", Category: "Just Chatting"}
}

func (f *fakeSource) setOffline(identity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, identity)
	for i, id := range f.order {
		if id == identity {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *fakeSource) FetchLiveSnapshots(ctx context.Context, identities []string) ([]Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	want := map[string]bool{}
	for _, id := range identities {
		want[id] = true
	}
	var out []Snapshot
	for _, id := range f.order {
		if want[id] {
			out = append(out, f.live[id])
		}
	}
	return out, nil
}

// recordingAnnouncer collects dispatched pairs.
type recordingAnnouncer struct {
	mu      sync.Mutex
	pairs   []Pair
	ctxErrs []error
	fail    map[string]bool
}

func (r *recordingAnnouncer) Dispatch(ctx context.Context, pairs []Pair) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res Result
	for _, p := range pairs {
		r.pairs = append(r.pairs, p)
		r.ctxErrs = append(r.ctxErrs, ctx.Err())
		if r.fail[p.Entry.Identity] {
			res.Failed++
		} else {
			res.Sent++
		}
	}
	return res
}

func (r *recordingAnnouncer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// flakyLedger wraps a ledger and injects failures.
type flakyLedger struct {
	ledger.Ledger
	failRecordAfter int // fail Record calls after this many successes; <0 disables
	records         int
	afterRecord     func()
	failAdvance     bool
}

var errLedgerDown = errors.New("ledger down")

func (f *flakyLedger) Record(ctx context.Context, identity, sessionID string) error {
	if f.failRecordAfter >= 0 && f.records >= f.failRecordAfter {
		return errLedgerDown
	}
	if err := f.Ledger.Record(ctx, identity, sessionID); err != nil {
		return err
	}
	f.records++
	if f.afterRecord != nil {
		f.afterRecord()
	}
	return nil
}

func (f *flakyLedger) AdvanceTick(ctx context.Context) (int64, error) {
	if f.failAdvance {
		return 0, errLedgerDown
	}
	return f.Ledger.AdvanceTick(ctx)
}

func trackedSet(ids ...string) *tracked.Set {
	var entries []tracked.Entry
	for _, id := range ids {
		entries = append(entries, tracked.Entry{Identity: id, Template: "@everyone " + id + " is live"})
	}
	s, err := tracked.New(context.Background(), tracked.NewMemoryBackend(entries...))
	if err != nil {
		panic(err)
	}
	return s
}

// manualClock hands out a shared fire channel and reports requested waits.
type manualClock struct {
	mu    sync.Mutex
	now   time.Time
	waits chan time.Duration
	fire  chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{
		now:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		waits: make(chan time.Duration, 64),
		fire:  make(chan time.Time),
	}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.waits <- d
	return c.fire
}
