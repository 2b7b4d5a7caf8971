package announce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/live-herald/live"
	"github.com/onnwee/live-herald/tracked"
)

type recordSink struct {
	mu       sync.Mutex
	msgs     []Message
	fail     map[string]bool
	block    bool
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (r *recordSink) Send(ctx context.Context, m Message) error {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		cur := r.maxSeen.Load()
		if n <= cur || r.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[m.Identity] {
		return errors.New("boom")
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func pairs(ids ...string) []live.Pair {
	out := make([]live.Pair, len(ids))
	for i, id := range ids {
		out[i] = live.Pair{
			Entry:    tracked.Entry{Identity: id, Template: id + " is live"},
			Snapshot: live.Snapshot{Identity: id, SessionID: "s-" + id},
		}
	}
	return out
}

func TestDispatch_AllSent(t *testing.T) {
	sink := &recordSink{}
	d := &Dispatcher{Sink: sink}
	res := d.Dispatch(context.Background(), pairs("alice", "bob", "carol"))
	if res.Sent != 3 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(sink.msgs) != 3 {
		t.Errorf("sink got %d messages", len(sink.msgs))
	}
}

func TestDispatch_FailureDoesNotStopOthers(t *testing.T) {
	sink := &recordSink{fail: map[string]bool{"bob": true}}
	d := &Dispatcher{Sink: sink, Concurrency: 1}
	res := d.Dispatch(context.Background(), pairs("alice", "bob", "carol"))
	if res.Sent != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestDispatch_ConcurrencyLimit(t *testing.T) {
	sink := &recordSink{delay: 20 * time.Millisecond}
	d := &Dispatcher{Sink: sink, Concurrency: 2}
	res := d.Dispatch(context.Background(), pairs("a", "b", "c", "d", "e", "f"))
	if res.Sent != 6 {
		t.Fatalf("result = %+v", res)
	}
	if peak := sink.maxSeen.Load(); peak > 2 {
		t.Errorf("saw %d concurrent sends, limit is 2", peak)
	}
}

func TestDispatch_Empty(t *testing.T) {
	if res := (&Dispatcher{Sink: &recordSink{}}).Dispatch(context.Background(), nil); res != (Result{}) {
		t.Errorf("result = %+v", res)
	}
}

func TestSend_Timeout(t *testing.T) {
	d := &Dispatcher{Sink: &recordSink{block: true}, SendTimeout: 20 * time.Millisecond}
	start := time.Now()
	err := d.Send(context.Background(), pairs("alice")[0])
	if !errors.Is(err, ErrSendFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("send timeout not applied")
	}
}

func TestDispatcher_ImplementsAnnouncer(t *testing.T) {
	var _ live.Announcer = (*Dispatcher)(nil)
}
