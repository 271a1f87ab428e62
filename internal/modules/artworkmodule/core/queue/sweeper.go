package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweeper every five minutes.
const DefaultSweepSchedule = "@every 5m"

// PendingLister lists artwork ids that still need processing.
type PendingLister interface {
	ListPendingArtworkIDs(ctx context.Context, limit int) ([]int64, error)
}

// Submitter queues an artwork id.
type Submitter interface {
	Submit(ctx context.Context, artworkID int64) error
}

// Sweeper periodically queues every artwork in NEW or UPDATED state, plus
// artworks whose active located artwork is NEW or UPDATED.
type Sweeper struct {
	repo      PendingLister
	submitter Submitter
	batch     int
	schedule  string
	logger    hclog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper. An empty schedule uses DefaultSweepSchedule.
func NewSweeper(repo PendingLister, submitter Submitter, schedule string, batch int, logger hclog.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if batch <= 0 {
		batch = 500
	}
	return &Sweeper{
		repo:      repo,
		submitter: submitter,
		batch:     batch,
		schedule:  schedule,
		logger:    logger.Named("sweeper"),
	}
}

// Start schedules the sweep. The first sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.sweepAndLog(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c

	go s.sweepAndLog(ctx)

	s.logger.Info("sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.logger.Info("sweeper stopped")
	}
}

// Sweep queues one batch of pending artworks and returns how many were
// submitted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.repo.ListPendingArtworkIDs(ctx, s.batch)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		if err := s.submitter.Submit(ctx, id); err != nil {
			s.logger.Warn("failed to queue artwork", "artwork_id", id, "error", err)
			continue
		}
		submitted++
	}
	return submitted, nil
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("queued pending artworks", "count", n)
	}
}
