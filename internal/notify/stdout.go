// Package notify implements the orchestrator's NotificationSink
// (spec.md §6.4) against several backends, grounded on
// internal/events/bus.go's CloudEvent envelope and
// internal/fabric/redis_event_bus.go / internal/events/pubsub_bus.go's
// fan-out shape.
package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// StdoutSink logs every notification to stdout. It is the default
// sink when no distributed fan-out is configured, matching
// internal/events/bus.go's in-process-only EventBus as the baseline
// before Redis/Pub-Sub are layered on.
type StdoutSink struct {
	logger *log.Logger
}

// NewStdoutSink returns a StdoutSink writing to os.Stdout.
func NewStdoutSink() *StdoutSink {
	return &StdoutSink{logger: log.New(os.Stdout, "[NOTIFY] ", log.LstdFlags)}
}

// Notify logs channel and message with a timestamp.
func (s *StdoutSink) Notify(_ context.Context, channel, message string) error {
	s.logger.Printf("%s %s: %s", time.Now().Format(time.RFC3339), channel, message)
	return nil
}

// MultiSink fans a single notification out to every configured sink,
// matching PubSubEventBus.Emit's "publish durably, then fan out
// locally" pattern generalized to an arbitrary sink list. The first
// error from any sink is returned; all sinks are still attempted.
type MultiSink struct {
	Sinks []Sink
}

// Sink is the subset of orchestrator.NotificationSink this package
// depends on; kept local so notify never imports orchestrator.
type Sink interface {
	Notify(ctx context.Context, channel, message string) error
}

// Notify calls every sink, collecting (but not short-circuiting on)
// errors.
func (m *MultiSink) Notify(ctx context.Context, channel, message string) error {
	var firstErr error
	for _, sink := range m.Sinks {
		if err := sink.Notify(ctx, channel, message); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("notify: sink failed: %w", err)
		}
	}
	return firstErr
}
