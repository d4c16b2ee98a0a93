// Package scheduler implements the Scheduler/Daemon (C7): cron-driven
// invocation of the Sync Engine with retry/backoff. Grounded on the
// teacher's signal-driven supervisory loop (root.go), generalized from a
// single watch loop to a cron schedule with a typed lifecycle event stream.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// EventKind enumerates daemon lifecycle events, per spec.md §4.7.
type EventKind int

const (
	EventScheduled EventKind = iota
	EventRunStarted
	EventDone
	EventRetry
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventRunStarted:
		return "RUN_STARTED"
	case EventDone:
		return "DONE"
	case EventRetry:
		return "RETRY"
	case EventFailed:
		return "FAILED"
	default:
		return "SCHEDULED"
	}
}

// Event is one lifecycle notification emitted by the Daemon.
type Event struct {
	Kind  EventKind
	Err   error
	Tries int
}

// retryBackoffs are the fixed daemon-level retry delays, per spec.md §4.7:
// 10s, 30s, 90s, then FAILED.
var retryBackoffs = []time.Duration{10 * time.Second, 30 * time.Second, 90 * time.Second}

// SyncFunc runs one full sync end to end.
type SyncFunc func(ctx context.Context) error

// Daemon parses a cron expression and invokes SyncFunc on each tick,
// retrying a failed run with the fixed backoff before giving up for that
// tick. It holds no state between ticks other than the cron timer, per
// spec.md §4.7.
type Daemon struct {
	cron   *cron.Cron
	sync   SyncFunc
	events chan Event
	logger *slog.Logger

	ctx context.Context // set by Run before cron.Start(); read-only afterwards
}

// New constructs a Daemon for the given cron expression. The event stream
// has a fixed buffer of 16; emit drops events (with a warning) when it is
// full, so callers should drain Events() promptly.
func New(expr string, sync SyncFunc, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := cron.New()

	d := &Daemon{
		cron:   c,
		sync:   sync,
		events: make(chan Event, 16),
		logger: logger,
		ctx:    context.Background(),
	}

	if _, err := c.AddFunc(expr, d.runTick); err != nil {
		return nil, err
	}

	return d, nil
}

// Events returns the lifecycle event stream.
func (d *Daemon) Events() <-chan Event {
	return d.events
}

// Run starts the cron scheduler and blocks until ctx is canceled. ctx is
// also passed to every SyncFunc invocation, so canceling it aborts an
// in-flight tick, not just future scheduling.
func (d *Daemon) Run(ctx context.Context) {
	d.ctx = ctx

	d.emit(Event{Kind: EventScheduled})
	d.cron.Start()

	<-ctx.Done()

	stopCtx := d.cron.Stop()
	<-stopCtx.Done()

	close(d.events)
}

func (d *Daemon) runTick() {
	ctx := d.ctx

	d.emit(Event{Kind: EventRunStarted})

	var lastErr error

	for attempt := 0; attempt <= len(retryBackoffs); attempt++ {
		if err := d.sync(ctx); err != nil {
			lastErr = err

			if attempt < len(retryBackoffs) {
				d.emit(Event{Kind: EventRetry, Err: err, Tries: attempt + 1})

				select {
				case <-time.After(retryBackoffs[attempt]):
				case <-ctx.Done():
					d.emit(Event{Kind: EventFailed, Err: ctx.Err(), Tries: attempt + 1})

					return
				}

				continue
			}

			d.emit(Event{Kind: EventFailed, Err: lastErr, Tries: attempt + 1})

			return
		}

		d.emit(Event{Kind: EventDone, Tries: attempt + 1})

		return
	}
}

func (d *Daemon) emit(e Event) {
	select {
	case d.events <- e:
	default:
		d.logger.Warn("dropping daemon event, channel full", slog.String("kind", e.Kind.String()))
	}
}
