package live

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/tracked"
)

// State is the scheduler's position in its poll cycle.
type State int32

const (
	Idle State = iota
	Polling
	BackingOff
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case BackingOff:
		return "backing_off"
	default:
		return "unknown"
	}
}

const (
	DefaultInterval     = 5 * time.Minute
	DefaultMaxBackoff   = 30 * time.Minute
	DefaultDrainTimeout = 30 * time.Second
)

// TrackedSource yields the current tracked set.
type TrackedSource interface {
	Snapshot() *tracked.Snapshot
}

// Status is a point-in-time view of the scheduler for /status.
type Status struct {
	State               string    `json:"state"`
	Interval            string    `json:"interval"`
	LastTick            time.Time `json:"last_tick,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	NextTick            time.Time `json:"next_tick,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	Tracked             int       `json:"tracked"`
	Live                int       `json:"live"`
	Announced           int       `json:"announced"`
	FailedSends         int       `json:"failed_sends"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Scheduler runs the poll loop: tracked snapshot, fetch, detect, dispatch.
type Scheduler struct {
	Tracked   TrackedSource
	Source    Source
	Detector  *Detector
	Announcer Announcer
	// Pruner, when set, runs alongside the poll loop.
	Pruner *Pruner

	Interval   time.Duration
	MaxBackoff time.Duration
	// DrainTimeout bounds dispatch of already-recorded pairs after shutdown starts.
	DrainTimeout time.Duration
	Clock        Clock

	initOnce sync.Once
	bo       *backoff.ExponentialBackOff
	state    atomic.Int32

	mu     sync.Mutex
	status Status
}

func (s *Scheduler) init() {
	s.initOnce.Do(func() {
		if s.Interval <= 0 {
			s.Interval = DefaultInterval
		}
		if s.MaxBackoff <= s.Interval {
			s.MaxBackoff = max(DefaultMaxBackoff, 2*s.Interval)
		}
		if s.DrainTimeout <= 0 {
			s.DrainTimeout = DefaultDrainTimeout
		}
		if s.Clock == nil {
			s.Clock = RealClock
		}
		s.bo = backoff.NewExponentialBackOff()
		// first step lands in [1.6, 2.4] x Interval
		s.bo.InitialInterval = 2 * s.Interval
		s.bo.Multiplier = 2
		s.bo.RandomizationFactor = 0.2
		s.bo.MaxInterval = s.MaxBackoff
		s.bo.Reset()
		s.setState(Idle)
	})
}

// State returns the current state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	telemetry.SetSchedulerState(int(st))
}

// Status returns a copy of the latest tick summary.
func (s *Scheduler) Status() Status {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.State = s.State().String()
	st.Interval = s.Interval.String()
	return st
}

// Run ticks immediately and then once per Interval (or longer while backing
// off) until ctx is cancelled. It returns after the poll loop and the pruner
// have both stopped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.init()
	slog.Info("poll scheduler started", slog.String("component", "scheduler"), slog.Duration("interval", s.Interval), slog.Duration("max_backoff", s.MaxBackoff))

	var wg sync.WaitGroup
	if s.Pruner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Pruner.Run(ctx)
		}()
	}

	for ctx.Err() == nil {
		wait := s.Tick(ctx)
		s.mu.Lock()
		s.status.NextTick = s.Clock.Now().Add(wait)
		s.mu.Unlock()
		select {
		case <-ctx.Done():
		case <-s.Clock.After(wait):
		}
		s.setState(Idle)
	}
	wg.Wait()
	slog.Info("poll scheduler stopped", slog.String("component", "scheduler"))
	return nil
}

// Tick runs one poll cycle and returns how long to wait before the next.
func (s *Scheduler) Tick(ctx context.Context) time.Duration {
	s.init()
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "live", "poll.tick")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "scheduler"))

	s.setState(Polling)
	start := s.Clock.Now()
	set := s.Tracked.Snapshot()
	s.mu.Lock()
	s.status.LastTick = start
	s.status.Tracked = set.Len()
	s.mu.Unlock()

	if set.Len() == 0 {
		log.Debug("no tracked broadcasters, skipping fetch")
		telemetry.ObserveTick(telemetry.TickEmpty)
		s.succeed(0, Result{}, nil)
		s.setState(Idle)
		return s.Interval
	}

	snaps, err := s.Source.FetchLiveSnapshots(ctx, set.Identities())
	telemetry.ObservePollDuration(s.Clock.Now().Sub(start))
	if err != nil {
		telemetry.RecordError(span, err)
		if ctx.Err() != nil {
			s.setState(Idle)
			return s.Interval
		}
		return s.fail(log, err)
	}

	live := 0
	for _, snap := range snaps {
		if _, ok := set.Lookup(snap.Identity); ok {
			live++
		}
	}
	telemetry.SetLive(live)

	pairs, derr := s.Detector.Detect(ctx, set, snaps)
	if derr != nil {
		log.Error("session detection stopped early", slog.Any("err", derr), slog.Int("recorded", len(pairs)))
		telemetry.RecordError(span, derr)
	}

	res := s.dispatch(ctx, pairs)
	if derr != nil {
		telemetry.ObserveTick(telemetry.TickError)
	} else {
		telemetry.ObserveTick(telemetry.TickOK)
		telemetry.SetSpanSuccess(span)
	}
	s.succeed(live, res, derr)
	log.Info("poll tick complete",
		slog.Int("tracked", set.Len()),
		slog.Int("live", live),
		slog.Int("announced", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Duration("took", s.Clock.Now().Sub(start)))
	s.setState(Idle)
	return s.Interval
}

// dispatch sends pairs. Pairs recorded before shutdown are still sent, on a
// context detached from cancellation and bounded by DrainTimeout.
func (s *Scheduler) dispatch(ctx context.Context, pairs []Pair) Result {
	if len(pairs) == 0 || s.Announcer == nil {
		return Result{}
	}
	if ctx.Err() != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.DrainTimeout)
		defer cancel()
		slog.Info("shutdown in progress, draining recorded announcements", slog.String("component", "scheduler"), slog.Int("pairs", len(pairs)))
		return s.Announcer.Dispatch(dctx, pairs)
	}
	return s.Announcer.Dispatch(ctx, pairs)
}

func (s *Scheduler) fail(log *slog.Logger, err error) time.Duration {
	s.recordError(err)
	class, hint := ClassifyFetchError(err)
	switch class {
	case FetchBackoff:
		wait := s.backoffWait(hint)
		s.setState(BackingOff)
		telemetry.ObserveTick(telemetry.TickBackoff)
		log.Warn("live fetch failed, backing off", slog.Any("err", err), slog.Duration("wait", wait))
		return wait
	case FetchAuth:
		telemetry.ObserveTick(telemetry.TickAuth)
		log.Error("twitch rejected app credentials; check TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET", slog.Any("err", err))
	default:
		telemetry.ObserveTick(telemetry.TickError)
		log.Warn("live fetch failed", slog.Any("err", err))
	}
	s.setState(Idle)
	return s.Interval
}

// backoffWait returns the next exponential step (capped at MaxBackoff) or
// the hint, whichever is longer. The step always exceeds Interval.
func (s *Scheduler) backoffWait(hint time.Duration) time.Duration {
	floor := s.Interval + s.Interval/2
	wait := max(min(s.bo.NextBackOff(), s.MaxBackoff), min(floor, s.MaxBackoff))
	return max(wait, hint)
}

func (s *Scheduler) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = err.Error()
	s.status.ConsecutiveFailures++
}

// succeed records a tick whose fetch worked. The backoff resets even when
// detection hit a ledger error, since upstream was reachable.
func (s *Scheduler) succeed(live int, res Result, detectErr error) {
	s.bo.Reset()
	s.mu.Lock()
	s.status.Live = live
	s.status.Announced = res.Sent
	s.status.FailedSends = res.Failed
	s.mu.Unlock()
	if detectErr != nil {
		s.recordError(detectErr)
		return
	}
	s.mu.Lock()
	s.status.LastSuccess = s.Clock.Now()
	s.status.LastError = ""
	s.status.ConsecutiveFailures = 0
	s.mu.Unlock()
}
