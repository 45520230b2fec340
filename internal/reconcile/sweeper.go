// ABOUTME: Scheduled reconciliation of leaked block attachments
// ABOUTME: Retries failed detaches on a cron schedule, off the request path

package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepTimeout bounds one reconciliation pass.
const sweepTimeout = time.Minute

// Sweepable is the piece of the lifecycle coordinator the sweeper drives.
type Sweepable interface {
	SweepLeaks(ctx context.Context) (resolved, remaining int)
}

// Sweeper retries leaked detaches in the background. Requests never wait on
// it; a leak only delays the eventual detach, never an exchange.
type Sweeper struct {
	target   Sweepable
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
}

// New creates a sweeper running on the given cron schedule, for example
// "@every 5m".
func New(target Sweepable, schedule string) *Sweeper {
	return &Sweeper{
		target:   target,
		schedule: schedule,
		logger:   slog.Default().With("component", "reconcile"),
		cron:     cron.New(),
	}
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("scheduling reconciliation sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("reconciliation sweep scheduled", "schedule", s.schedule)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// sweep runs one reconciliation pass.
func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	resolved, remaining := s.target.SweepLeaks(ctx)
	if resolved > 0 || remaining > 0 {
		s.logger.Info("reconciliation sweep finished",
			"resolved", resolved, "remaining", remaining)
	}
}
