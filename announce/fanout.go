package announce

import (
	"context"
	"errors"
	"fmt"

	"github.com/onnwee/live-herald/telemetry"
)

type namedSink struct {
	name string
	sink Sink
}

// Fanout sends each message to every registered sink in order. The send
// fails if any sink fails; the remaining sinks are still tried.
type Fanout struct {
	sinks []namedSink
}

// NewFanout returns an empty fanout.
func NewFanout() *Fanout { return &Fanout{} }

// Add registers sink under name (used in errors and metrics). Nil sinks are ignored.
func (f *Fanout) Add(name string, s Sink) *Fanout {
	if s != nil {
		f.sinks = append(f.sinks, namedSink{name: name, sink: s})
	}
	return f
}

// Names lists the registered sinks.
func (f *Fanout) Names() []string {
	out := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		out[i] = s.name
	}
	return out
}

func (f *Fanout) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.sink.Send(ctx, msg); err != nil {
			telemetry.ObserveSinkFailure(s.name)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
