package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

// Scheduler is an optional trigger that drives the Dispatcher and the
// ResendPlanner on fixed intervals. It is just another caller; the engine
// works the same when batches come from HTTP or cron.
type Scheduler struct {
	Campaigns        repository.CampaignRepositoryInterface
	Dispatcher       *Dispatcher
	Planner          *ResendPlanner
	DispatchInterval time.Duration
	ResendInterval   time.Duration
	BatchSize        int
	Now              func() time.Time
	Log              zerolog.Logger
}

func (s *Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Start blocks running both loops until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, "dispatch", s.DispatchInterval, s.DispatchTick)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, "resend", s.ResendInterval, s.ResendTick)
	}()
	wg.Wait()
	s.Log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, tick func(context.Context)) {
	if every <= 0 {
		s.Log.Info().Str("loop", name).Msg("loop disabled")
		return
	}
	s.Log.Info().Str("loop", name).Dur("interval", every).Msg("loop started")
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// DispatchTick runs one batch for every sending campaign.
func (s *Scheduler) DispatchTick(ctx context.Context) {
	campaigns, err := s.Campaigns.ListByStatus(ctx, model.StatusSending)
	if err != nil {
		s.Log.Error().Err(err).Msg("list sending campaigns")
		return
	}
	size := s.BatchSize
	if size <= 0 {
		size = DefaultChildBatchSize
	}
	for _, c := range campaigns {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Dispatcher.ProcessBatch(ctx, c.ID, size); err != nil {
			s.Log.Error().Err(err).Int64("campaign_id", c.ID).Msg("dispatch batch failed")
		}
	}
}

func (s *Scheduler) ResendTick(ctx context.Context) {
	if _, err := s.Planner.RunAutoResendPass(ctx, s.now()); err != nil {
		s.Log.Error().Err(err).Msg("auto-resend pass failed")
	}
}
