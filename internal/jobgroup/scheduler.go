// Copyright 2025 James Ross
package jobgroup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler drives Poller.PollOnce on an "@every <interval>" cron entry
// instead of a bespoke ticker loop per process.
type Scheduler struct {
	cron   *cron.Cron
	poller *Poller
	log    *zap.Logger
}

// NewScheduler builds a Scheduler that has not yet started polling.
func NewScheduler(poller *Poller, interval time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	c := cron.New()
	job := pollJob(poller, log)
	if _, err := c.AddJob(fmt.Sprintf("@every %s", interval.String()), job); err != nil {
		log.Error("jobgroup scheduler: failed to register poll job, falling back to manual triggers only", zap.Error(err))
	}
	return &Scheduler{cron: c, poller: poller, log: log}
}

func pollJob(poller *Poller, log *zap.Logger) cron.FuncJob {
	return func() {
		if err := poller.PollOnce(context.Background()); err != nil {
			log.Error("jobgroup poll cycle failed", zap.Error(err))
		}
	}
}

// Start begins the periodic cron schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop drains any in-flight job and waits for it to finish, or for ctx
// to be canceled, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

// TriggerNow runs one poll cycle immediately, for the post-submission
// "poll now" trigger (spec.md §4.8 step 7) instead of waiting for the
// next scheduled tick.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.poller.PollOnce(ctx)
}
