package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"eduportal.org/internal/obs"
)

// Purger is the garbage-collection half of auth.SessionRegistry.
type Purger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper purges expired sessions on a cron schedule.
type Sweeper struct {
	purger  Purger
	cron    *cron.Cron
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

// NewSweeper schedules PurgeExpired with a standard cron spec or a
// descriptor such as "@every 15m".
func NewSweeper(purger Purger, schedule string, log *zap.Logger) (*Sweeper, error) {
	if log == nil {
		log = obs.Logger()
	}
	s := &Sweeper{
		purger:  purger,
		cron:    cron.New(),
		log:     log,
		now:     time.Now,
		timeout: 30 * time.Second,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("sessions: schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Info("session sweeper started")
}

// Stop halts scheduling and waits for a running sweep or ctx, whichever ends first.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep removes sessions that expired before now.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.purger.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	obs.ObserveSessionsPurged(n)
	return n, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error("session sweep failed", zap.Error(err))
		return
	}
	s.log.Info("session sweep complete", zap.Int64("purged", n))
}
