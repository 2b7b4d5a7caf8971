package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/live-herald/live"
	"github.com/onnwee/live-herald/telemetry"
)

// ErrSendFailed wraps every delivery failure returned by Dispatcher.Send.
var ErrSendFailed = errors.New("announcement send failed")

const (
	DefaultConcurrency = 4
	DefaultSendTimeout = 30 * time.Second
)

// Result counts delivered and failed announcements of one dispatch.
type Result = live.Result

// Sink delivers a message somewhere.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher formats pairs and hands them to Sink. It implements
// live.Announcer.
type Dispatcher struct {
	Sink        Sink
	Formatter   Formatter
	Concurrency int
	SendTimeout time.Duration
}

// Send delivers one pair, bounded by SendTimeout.
func (d *Dispatcher) Send(ctx context.Context, p live.Pair) error {
	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "announce", "announce.send",
		attribute.String("broadcaster", p.Entry.Identity),
		attribute.String("session", p.Snapshot.SessionID))
	defer span.End()

	msg := d.Formatter.Format(p.Entry, p.Snapshot)
	if err := d.Sink.Send(ctx, msg); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, p.Entry.Identity, err)
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

// Dispatch sends every pair with at most Concurrency sends in flight and
// returns once all have finished. Failures are logged and counted; they never
// stop the remaining sends.
func (d *Dispatcher) Dispatch(ctx context.Context, pairs []live.Pair) Result {
	if len(pairs) == 0 || d.Sink == nil {
		return Result{}
	}
	limit := d.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "announce"))

	var sent, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(limit)
	for _, p := range pairs {
		g.Go(func() error {
			if err := d.Send(ctx, p); err != nil {
				failed.Add(1)
				telemetry.ObserveSend(false)
				log.Warn("announcement failed", slog.String("identity", p.Entry.Identity), slog.String("session", p.Snapshot.SessionID), slog.Any("err", err))
				return nil
			}
			sent.Add(1)
			telemetry.ObserveSend(true)
			log.Info("announcement sent", slog.String("identity", p.Entry.Identity), slog.String("session", p.Snapshot.SessionID))
			return nil
		})
	}
	_ = g.Wait()
	return Result{Sent: int(sent.Load()), Failed: int(failed.Load())}
}
