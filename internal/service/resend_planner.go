package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/eventlog"
	"github.com/unclebandit/outreach-dispatch/internal/lock"
	"github.com/unclebandit/outreach-dispatch/internal/metrics"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

// Planner outcomes per parent campaign.
const (
	OutcomeNotReady = "not_ready"
	OutcomeSkipped  = "skipped"
	OutcomeCreated  = "created"
	OutcomeError    = "error"
)

const DefaultChildBatchSize = 25

type ResendOutcome struct {
	CampaignID int64  `json:"campaign_id"`
	Outcome    string `json:"outcome"`
	ChildID    *int64 `json:"child_id,omitempty"`
	NonOpeners int    `json:"non_openers"`
	Error      string `json:"error,omitempty"`
}

type ChildBatch struct {
	CampaignID int64       `json:"campaign_id"`
	Result     BatchResult `json:"result"`
	Error      string      `json:"error,omitempty"`
}

// PassResult reports everything one planner pass did.
type PassResult struct {
	Outcomes     []ResendOutcome `json:"outcomes"`
	ChildBatches []ChildBatch    `json:"child_batches"`
	Skipped      bool            `json:"skipped,omitempty"` // another pass held the lock
}

// ResendPlanner creates follow-up campaigns for recipients who did not engage
// with a completed campaign, then pushes those follow-ups through the Dispatcher.
type ResendPlanner struct {
	Campaigns      repository.CampaignRepositoryInterface
	Recipients     repository.RecipientRepositoryInterface
	Logbook        *eventlog.Logbook
	Dispatcher     *Dispatcher
	Locker         lock.Locker
	ChunkSize      int
	ChildBatchSize int
	Log            zerolog.Logger
}

// RunAutoResendPass decides the follow-up for every eligible completed
// campaign and runs one batch for each follow-up still sending. A failure on
// one parent is reported in its outcome and never blocks the others.
func (p *ResendPlanner) RunAutoResendPass(ctx context.Context, now time.Time) (PassResult, error) {
	result := PassResult{Outcomes: []ResendOutcome{}, ChildBatches: []ChildBatch{}}

	if p.Locker != nil {
		unlock, ok, err := p.Locker.TryLock(ctx, lock.ResendPassKey, 10*time.Minute)
		if err != nil {
			return result, fmt.Errorf("lock resend pass: %w", err)
		}
		if !ok {
			p.Log.Debug().Msg("auto-resend pass already running")
			result.Skipped = true
			return result, nil
		}
		defer unlock()
	}

	candidates, err := p.Campaigns.ListResendCandidates(ctx)
	if err != nil {
		return result, fmt.Errorf("list resend candidates: %w", err)
	}
	for _, c := range candidates {
		outcome := p.decide(ctx, c, now)
		metrics.IncResendOutcome(outcome.Outcome)
		result.Outcomes = append(result.Outcomes, outcome)
	}

	sending, err := p.Campaigns.ListByStatus(ctx, model.StatusSending)
	if err != nil {
		return result, fmt.Errorf("list sending campaigns: %w", err)
	}
	size := p.ChildBatchSize
	if size <= 0 {
		size = DefaultChildBatchSize
	}
	for _, child := range sending {
		if child.ParentCampaignID == nil {
			continue
		}
		batch := ChildBatch{CampaignID: child.ID}
		res, err := p.Dispatcher.ProcessBatch(ctx, child.ID, size)
		batch.Result = res
		if err != nil {
			p.Log.Error().Err(err).Int64("campaign_id", child.ID).Msg("follow-up batch failed")
			batch.Error = err.Error()
		}
		result.ChildBatches = append(result.ChildBatches, batch)
	}

	p.Log.Info().
		Int("candidates", len(candidates)).
		Int("child_batches", len(result.ChildBatches)).
		Msg("auto-resend pass finished")
	return result, nil
}

func (p *ResendPlanner) decide(ctx context.Context, c *model.Campaign, now time.Time) ResendOutcome {
	out := ResendOutcome{CampaignID: c.ID}
	log := p.Log.With().Int64("campaign_id", c.ID).Logger()

	after, ok := c.ResendAfter()
	if !ok || now.Before(after) {
		out.Outcome = OutcomeNotReady
		return out
	}

	nonOpeners, err := p.Recipients.ListRecipientsByStatus(ctx, c.ID, model.NonOpenerStatuses...)
	if err != nil {
		return p.fail(ctx, c, out, fmt.Errorf("list non-openers: %w", err))
	}
	out.NonOpeners = len(nonOpeners)

	if len(nonOpeners) == 0 {
		if _, err := p.Campaigns.MarkResendSkipped(ctx, c.ID, now); err != nil {
			return p.fail(ctx, c, out, fmt.Errorf("record skipped follow-up: %w", err))
		}
		out.Outcome = OutcomeSkipped
		log.Info().Msg("no non-openers, follow-up skipped")
		if err := p.Logbook.Info(ctx, c.ID, model.StepResendSkipped,
			"every recipient engaged or failed; no follow-up needed", nil); err != nil {
			log.Warn().Err(err).Msg("write resend log")
		}
		return out
	}

	child := c.FollowUp(len(nonOpeners), now)
	seeds := make([]*model.Recipient, len(nonOpeners))
	for i, r := range nonOpeners {
		seeds[i] = r.CopyForCampaign(0)
	}
	chunk := p.ChunkSize
	if chunk <= 0 {
		chunk = repository.DefaultChunkSize
	}

	err = p.Campaigns.CreateResendChild(ctx, c.ID, child, seeds, chunk)
	if errors.Is(err, appErrors.ErrResendAlreadyDecided) {
		out.Outcome = OutcomeSkipped
		log.Info().Msg("follow-up already decided by another pass")
		return out
	}
	if err != nil {
		return p.fail(ctx, c, out, fmt.Errorf("create follow-up: %w", err))
	}

	childID := child.ID
	out.Outcome = OutcomeCreated
	out.ChildID = &childID
	log.Info().Int64("child_id", childID).Int("recipients", len(nonOpeners)).Msg("follow-up campaign created")

	if err := p.Logbook.Success(ctx, c.ID, nil, model.StepResendCreated,
		fmt.Sprintf("follow-up campaign %d created for %d non-openers", childID, len(nonOpeners)),
		map[string]any{"child_campaign_id": childID, "recipients": len(nonOpeners)}); err != nil {
		log.Warn().Err(err).Msg("write resend log")
	}
	if err := p.Logbook.Info(ctx, childID, model.StepStatusChanged,
		fmt.Sprintf("follow-up of campaign %d started", c.ID),
		map[string]any{"parent_campaign_id": c.ID, "to": string(model.StatusSending)}); err != nil {
		log.Warn().Err(err).Msg("write resend log")
	}
	return out
}

// fail reports an error outcome and leaves the parent undecided for the next pass.
func (p *ResendPlanner) fail(ctx context.Context, c *model.Campaign, out ResendOutcome, err error) ResendOutcome {
	out.Outcome = OutcomeError
	out.Error = err.Error()
	p.Log.Error().Err(err).Int64("campaign_id", c.ID).Msg("auto-resend failed")
	if logErr := p.Logbook.Error(ctx, c.ID, nil, model.StepResendFailed, "auto-resend failed: "+err.Error(), nil); logErr != nil {
		p.Log.Warn().Err(logErr).Int64("campaign_id", c.ID).Msg("write resend log")
	}
	return out
}
