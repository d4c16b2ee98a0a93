package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/robfig/cron/v3"
)

// TestDaemon_RunTick_UsesRunContext constructs a Daemon directly (bypassing
// the cron scheduling in New/Run, which would make the test's timing
// depend on a real tick firing) to pin down runTick's contract: it must
// read whatever ctx Run most recently stored, not synthesize its own.
func TestDaemon_RunTick_UsesRunContext(t *testing.T) {
	syncStarted := make(chan struct{})
	syncSawCancel := make(chan error, 1)

	sync := func(ctx context.Context) error {
		close(syncStarted)
		<-ctx.Done()
		syncSawCancel <- ctx.Err()

		return ctx.Err()
	}

	d := &Daemon{
		cron:   cron.New(),
		sync:   sync,
		events: make(chan Event, 16),
		logger: nil,
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.ctx = ctx // the assignment Run performs before starting the scheduler

	go d.runTick()

	select {
	case <-syncStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("sync never started")
	}

	cancel()

	select {
	case err := <-syncSawCancel:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight sync never observed context cancellation")
	}
}
