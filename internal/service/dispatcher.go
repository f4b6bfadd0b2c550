package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-dispatch/internal/eventlog"
	"github.com/unclebandit/outreach-dispatch/internal/gate"
	"github.com/unclebandit/outreach-dispatch/internal/lock"
	"github.com/unclebandit/outreach-dispatch/internal/mailer"
	"github.com/unclebandit/outreach-dispatch/internal/metrics"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/render"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

// Reasons a batch made no progress, next to the gate's own reasons.
const (
	ReasonLocked     = "locked"
	ReasonNotSending = "not_sending"
	ReasonIdle       = "idle"
)

const (
	DefaultClaimTTL    = 10 * time.Minute
	DefaultSendTimeout = 30 * time.Second
)

// BatchResult summarises one ProcessBatch call. Processed counts send
// attempts (sent plus failed); Remaining is the number of pending records left.
type BatchResult struct {
	CampaignID int64  `json:"campaign_id"`
	Processed  int    `json:"processed"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Remaining  int    `json:"remaining"`
	Completed  bool   `json:"completed"`
	Reason     string `json:"reason,omitempty"`
}

// Dispatcher sends one bounded batch of a campaign per ProcessBatch call.
// It holds no state between calls; scheduling is up to the caller.
type Dispatcher struct {
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Logbook    *eventlog.Logbook
	Renderer   render.Renderer
	Sender     mailer.Sender
	// Locker, when set, turns overlapping batches of one campaign into no-ops.
	Locker lock.Locker

	ClaimTTL    time.Duration
	SendTimeout time.Duration
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
	Log         zerolog.Logger
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, dur)
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) claimTTL() time.Duration {
	if d.ClaimTTL <= 0 {
		return DefaultClaimTTL
	}
	return d.ClaimTTL
}

// ProcessBatch claims up to maxCount pending recipients, bounded by the
// campaign's hourly rate and send window, and sends them one by one.
// A send failure marks only that record failed; store errors abort the batch.
// ctx is honoured up to the claim; claimed records are always attempted.
func (d *Dispatcher) ProcessBatch(ctx context.Context, campaignID int64, maxCount int) (res BatchResult, err error) {
	started := time.Now()
	res.CampaignID = campaignID
	outcome := "processed"
	defer func() {
		if err != nil {
			outcome = "error"
		}
		metrics.IncBatch(outcome)
		metrics.ObserveBatch(time.Since(started))
	}()

	log := d.Log.With().Int64("campaign_id", campaignID).Logger()

	if d.Locker != nil {
		unlock, ok, lockErr := d.Locker.TryLock(ctx, lock.CampaignKey(campaignID), d.claimTTL())
		if lockErr != nil {
			return res, fmt.Errorf("lock campaign %d: %w", campaignID, lockErr)
		}
		if !ok {
			log.Debug().Msg("batch already running, skipping")
			outcome, res.Reason = ReasonLocked, ReasonLocked
			res.Remaining, err = d.pendingCount(ctx, campaignID)
			return res, err
		}
		defer unlock()
	}

	campaign, err := d.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return res, err
	}
	if campaign.Status != model.StatusSending {
		outcome, res.Reason = ReasonNotSending, ReasonNotSending
		res.Remaining, err = d.pendingCount(ctx, campaignID)
		return res, err
	}

	cfg, err := gate.FromCampaign(campaign)
	if err != nil {
		return res, fmt.Errorf("campaign %d send settings: %w", campaignID, err)
	}

	now := d.now()
	expired, err := d.Recipients.ExpireStaleClaims(ctx, campaignID, now.Add(-d.claimTTL()), now)
	if err != nil {
		return res, fmt.Errorf("expire stale claims: %w", err)
	}
	if expired > 0 {
		log.Warn().Int64("expired", expired).Msg("stale claims marked failed")
		if err := d.Logbook.Warning(ctx, campaignID, model.StepClaimExpired,
			fmt.Sprintf("%d in-flight sends expired and were marked failed", expired),
			map[string]any{"expired": expired, "claim_ttl": d.claimTTL().String()}); err != nil {
			return res, err
		}
	}

	sentLastHour, err := d.Recipients.CountSentSince(ctx, campaignID, now.Add(-gate.QuotaWindow))
	if err != nil {
		return res, fmt.Errorf("count recent sends: %w", err)
	}
	decision := gate.Allow(cfg, now, sentLastHour, maxCount)
	if decision.Allowed == 0 {
		outcome, res.Reason = string(decision.Reason), string(decision.Reason)
		if res.Remaining, err = d.pendingCount(ctx, campaignID); err != nil {
			return res, err
		}
		return res, d.logBlocked(ctx, campaign, cfg, decision, now, sentLastHour)
	}

	// Cancellation only takes effect before the claim. Once records are
	// claimed the batch runs to the end so none is failed without an attempt.
	if err := ctx.Err(); err != nil {
		return res, err
	}
	quota := repository.ClaimQuota{PerHour: cfg.SendRate, Since: now.Add(-gate.QuotaWindow)}
	claimed, err := d.Recipients.ClaimPending(ctx, campaignID, decision.Allowed, quota, now)
	if err != nil {
		return res, fmt.Errorf("claim recipients: %w", err)
	}
	ctx = context.WithoutCancel(ctx)

	if len(claimed) > 0 {
		if err := d.Logbook.Info(ctx, campaignID, model.StepBatchStarted,
			fmt.Sprintf("sending batch of %d", len(claimed)),
			map[string]any{"claimed": len(claimed), "allowed": decision.Allowed, "quota_remaining": decision.QuotaRemaining}); err != nil {
			return res, err
		}
	}

	delay := time.Duration(campaign.SendDelayMs) * time.Millisecond
	for i, r := range claimed {
		if i > 0 && delay > 0 {
			if err := d.sleep(ctx, delay); err != nil {
				return res, err
			}
		}
		if err := d.sendOne(ctx, campaign, r, &res); err != nil {
			return res, err
		}
	}

	counts, err := d.Recipients.CountByStatus(ctx, campaignID)
	if err != nil {
		return res, fmt.Errorf("count recipients: %w", err)
	}
	res.Remaining = counts[model.RecipientPending]

	if counts[model.RecipientPending] == 0 && counts[model.RecipientSending] == 0 {
		if res.Completed, err = d.complete(ctx, campaign, counts); err != nil {
			return res, err
		}
		if res.Completed {
			outcome = "completed"
		}
	}

	if len(claimed) == 0 && !res.Completed && cfg.SendRate > 0 && res.Remaining > 0 {
		// claims are serialised per campaign, so pending records left unclaimed
		// mean an overlapping batch spent the quota after our count
		outcome, res.Reason = string(gate.ReasonQuotaExhausted), string(gate.ReasonQuotaExhausted)
		return res, d.logBlocked(ctx, campaign, cfg, gate.Decision{Reason: gate.ReasonQuotaExhausted}, now, cfg.SendRate)
	}

	if len(claimed) == 0 && !res.Completed {
		outcome, res.Reason = ReasonIdle, ReasonIdle
		if err := d.Logbook.Info(ctx, campaignID, model.StepBatchIdle,
			"no pending recipients to claim; waiting for in-flight sends",
			map[string]any{"pending": counts[model.RecipientPending], "in_flight": counts[model.RecipientSending]}); err != nil {
			return res, err
		}
	}

	log.Info().
		Int("processed", res.Processed).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("remaining", res.Remaining).
		Bool("completed", res.Completed).
		Msg("batch finished")
	return res, nil
}

func (d *Dispatcher) pendingCount(ctx context.Context, campaignID int64) (int, error) {
	counts, err := d.Recipients.CountByStatus(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("count recipients: %w", err)
	}
	return counts[model.RecipientPending], nil
}

func (d *Dispatcher) logBlocked(ctx context.Context, c *model.Campaign, cfg gate.Config, decision gate.Decision, now time.Time, sentLastHour int) error {
	switch decision.Reason {
	case gate.ReasonOutsideWindow:
		next := gate.NextOpening(cfg, now)
		return d.Logbook.Warning(ctx, c.ID, model.StepOutsideWindow,
			fmt.Sprintf("outside send window %s-%s %s", c.WindowStart, c.WindowEnd, cfg.Location),
			map[string]any{"next_opening": next.Format(time.RFC3339)})
	case gate.ReasonQuotaExhausted:
		return d.Logbook.Warning(ctx, c.ID, model.StepQuotaExhausted,
			fmt.Sprintf("hourly limit of %d reached", c.SendRate),
			map[string]any{"send_rate": c.SendRate, "sent_last_hour": sentLastHour})
	default:
		return d.Logbook.Info(ctx, c.ID, model.StepBatchIdle, "batch requested zero sends", nil)
	}
}

// sendOne renders and sends one claimed record and stores the outcome.
func (d *Dispatcher) sendOne(ctx context.Context, c *model.Campaign, r *model.Recipient, res *BatchResult) error {
	rid := r.ID
	providerID, sendErr := d.deliver(ctx, c, r)
	at := d.now()

	if sendErr != nil {
		if err := d.Recipients.MarkFailed(ctx, r.ID, sendErr.Error(), at); err != nil {
			if errors.Is(err, repository.ErrClaimLost) {
				d.Log.Warn().Int64("recipient_id", r.ID).Msg("claim lost before failure was recorded")
				return nil
			}
			return fmt.Errorf("record failure for recipient %d: %w", r.ID, err)
		}
		res.Processed++
		res.Failed++
		metrics.IncSend("failed")
		return d.Logbook.Error(ctx, c.ID, &rid, model.StepEmailFailed,
			fmt.Sprintf("failed to send to %s", r.Email),
			map[string]any{"email": r.Email, "error": sendErr.Error()})
	}

	if err := d.Recipients.MarkSent(ctx, r.ID, providerID, at); err != nil {
		if errors.Is(err, repository.ErrClaimLost) {
			d.Log.Warn().Int64("recipient_id", r.ID).Msg("claim lost before send was recorded")
			return nil
		}
		return fmt.Errorf("record send for recipient %d: %w", r.ID, err)
	}
	res.Processed++
	res.Sent++
	if c.IsDryRun {
		metrics.IncSend("dry_run")
	} else {
		metrics.IncSend("sent")
	}
	return d.Logbook.Success(ctx, c.ID, &rid, model.StepEmailSent,
		fmt.Sprintf("sent to %s", r.Email),
		map[string]any{"email": r.Email, "provider_id": providerID, "dry_run": c.IsDryRun})
}

func (d *Dispatcher) deliver(ctx context.Context, c *model.Campaign, r *model.Recipient) (string, error) {
	rendered, err := d.Renderer.Render(c, r)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	msg := mailer.Message{
		From:     c.FromEmail,
		FromName: c.FromName,
		To:       r.Email,
		ToName:   r.Name,
		ReplyTo:  c.ReplyTo,
		Subject:  rendered.Subject,
		Body:     rendered.Body,
	}

	var sender mailer.Sender = d.Sender
	if c.IsDryRun || sender == nil {
		sender = mailer.DryRunSender{}
	}
	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := sender.Send(sendCtx, msg)
	if err != nil {
		return "", err
	}
	return result.ProviderID, nil
}

func (d *Dispatcher) complete(ctx context.Context, c *model.Campaign, counts map[model.RecipientStatus]int) (bool, error) {
	rule, _ := model.TransitionFor(model.ActionComplete)
	ok, err := d.Campaigns.Transition(ctx, c.ID, rule, d.now())
	if err != nil {
		return false, fmt.Errorf("complete campaign %d: %w", c.ID, err)
	}
	if !ok {
		// paused, cancelled or completed by someone else meanwhile
		current, err := d.Campaigns.GetByID(ctx, c.ID)
		if err != nil {
			return false, err
		}
		return current.Status == model.StatusCompleted, nil
	}

	stats := make(map[string]any, len(counts))
	for status, n := range counts {
		stats[string(status)] = n
	}
	d.Log.Info().Int64("campaign_id", c.ID).Msg("campaign completed")
	return true, d.Logbook.Success(ctx, c.ID, nil, model.StepCampaignCompleted, "campaign completed", stats)
}
