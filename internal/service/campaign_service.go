// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/eventlog"
	"github.com/unclebandit/outreach-dispatch/internal/gate"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

// CampaignService owns campaign setup and the operator-facing lifecycle.
type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	Logbook       *eventlog.Logbook
	ChunkSize     int
	Now           func() time.Time
	Log           zerolog.Logger
}

// CreateCampaignInput carries operator-supplied campaign settings.
type CreateCampaignInput struct {
	Name              string
	Subject           string
	BodyTemplate      string
	TemplateID        *int64
	Segment           string
	FromName          string
	FromEmail         string
	ReplyTo           string
	SendRate          int
	SendDelayMs       int
	WindowStart       string
	WindowEnd         string
	Timezone          string
	IsDryRun          bool
	AutoResendEnabled bool
	ResendDelayHours  int
	ResendSubject     string
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

func (s *CampaignService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	c := &model.Campaign{
		Name:              strings.TrimSpace(in.Name),
		Subject:           in.Subject,
		BodyTemplate:      in.BodyTemplate,
		TemplateID:        in.TemplateID,
		Segment:           in.Segment,
		FromName:          in.FromName,
		FromEmail:         strings.TrimSpace(in.FromEmail),
		ReplyTo:           strings.TrimSpace(in.ReplyTo),
		SendRate:          in.SendRate,
		SendDelayMs:       in.SendDelayMs,
		WindowStart:       in.WindowStart,
		WindowEnd:         in.WindowEnd,
		Timezone:          strings.TrimSpace(in.Timezone),
		IsDryRun:          in.IsDryRun,
		Status:            model.StatusDraft,
		Resend:            model.ResendDecision{State: model.ResendUndecided},
		AutoResendEnabled: in.AutoResendEnabled,
		ResendDelayHours:  in.ResendDelayHours,
		ResendSubject:     in.ResendSubject,
		CreatedAt:         s.now(),
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if err := validateCampaign(c); err != nil {
		return nil, err
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.Log.Info().Int64("campaign_id", c.ID).Str("name", c.Name).Msg("campaign created")
	return c, nil
}

func validateCampaign(c *model.Campaign) error {
	if c.Name == "" {
		return appErrors.NewValidation("name", "is required")
	}
	if strings.TrimSpace(c.Subject) == "" {
		return appErrors.NewValidation("subject", "is required")
	}
	if strings.TrimSpace(c.BodyTemplate) == "" {
		return appErrors.NewValidation("body_template", "is required")
	}
	if _, err := mail.ParseAddress(c.FromEmail); err != nil {
		return appErrors.NewValidation("from_email", "is not a valid address")
	}
	if c.SendDelayMs < 0 {
		return appErrors.NewValidation("send_delay_ms", "must not be negative")
	}
	if c.ResendDelayHours < 0 {
		return appErrors.NewValidation("resend_delay_hours", "must not be negative")
	}
	if _, err := gate.FromCampaign(c); err != nil {
		return appErrors.NewValidation("send settings", err.Error())
	}
	return nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if status != "" && !model.CampaignStatus(status).Valid() {
		return nil, nil, appErrors.NewValidation("status", fmt.Sprintf("unknown status %q", status))
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetails(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.CampaignRepo.GetByID(ctx, id)
}

// GetCampaignDetailsWithStats adds per-status recipient counts.
func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, id int64) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.RecipientRepo.CountByStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	stats := map[string]int{"total": 0}
	for _, status := range model.AllRecipientStatuses {
		stats[string(status)] = counts[status]
		stats["total"] += counts[status]
	}
	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// RecipientInput is one recipient to queue for a campaign.
type RecipientInput struct {
	Email           string
	Name            string
	Company         string
	CustomerID      *int64
	Personalization map[string]string
}

// QueueRecipients adds pending send records to a campaign that has not
// started yet. Emails already queued for the campaign are skipped.
func (s *CampaignService) QueueRecipients(ctx context.Context, id int64, in []RecipientInput) (int, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if campaign.Status != model.StatusDraft && campaign.Status != model.StatusScheduled {
		return 0, appErrors.NewInvalidTransition(id, string(campaign.Status), "queue recipients for")
	}
	if len(in) == 0 {
		return 0, appErrors.NewValidation("recipients", "at least one recipient is required")
	}

	recipients := make([]*model.Recipient, 0, len(in))
	for i, r := range in {
		email := strings.ToLower(strings.TrimSpace(r.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return 0, appErrors.NewValidation(fmt.Sprintf("recipients[%d].email", i), "is not a valid address")
		}
		recipients = append(recipients, &model.Recipient{
			CampaignID:      id,
			Email:           email,
			Name:            strings.TrimSpace(r.Name),
			Company:         strings.TrimSpace(r.Company),
			CustomerID:      r.CustomerID,
			Personalization: r.Personalization,
			Status:          model.RecipientPending,
		})
	}

	chunk := s.ChunkSize
	if chunk <= 0 {
		chunk = repository.DefaultChunkSize
	}
	inserted, err := s.RecipientRepo.InsertRecipients(ctx, id, recipients, chunk)
	if err != nil {
		return 0, err
	}
	if err := s.Logbook.Info(ctx, id, model.StepRecipientsQueued,
		fmt.Sprintf("%d recipients queued", inserted),
		map[string]any{"submitted": len(in), "inserted": inserted}); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func (s *CampaignService) Schedule(ctx context.Context, id int64) (model.CampaignStatus, error) {
	return s.apply(ctx, id, model.ActionSchedule)
}

// Start requires at least one queued recipient.
func (s *CampaignService) Start(ctx context.Context, id int64) (model.CampaignStatus, error) {
	return s.apply(ctx, id, model.ActionStart)
}

func (s *CampaignService) Pause(ctx context.Context, id int64) (model.CampaignStatus, error) {
	return s.apply(ctx, id, model.ActionPause)
}

func (s *CampaignService) Resume(ctx context.Context, id int64) (model.CampaignStatus, error) {
	return s.apply(ctx, id, model.ActionResume)
}

func (s *CampaignService) Cancel(ctx context.Context, id int64) (model.CampaignStatus, error) {
	return s.apply(ctx, id, model.ActionCancel)
}

// Apply runs a lifecycle action by name.
func (s *CampaignService) Apply(ctx context.Context, id int64, action model.Action) (model.CampaignStatus, error) {
	if action == model.ActionComplete {
		return "", appErrors.NewValidation("action", "complete is applied by the dispatcher")
	}
	return s.apply(ctx, id, action)
}

func (s *CampaignService) apply(ctx context.Context, id int64, action model.Action) (model.CampaignStatus, error) {
	rule, ok := model.TransitionFor(action)
	if !ok {
		return "", appErrors.NewValidation("action", fmt.Sprintf("unknown action %q", action))
	}
	campaign, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !rule.Allows(campaign.Status) {
		return campaign.Status, appErrors.NewInvalidTransition(id, string(campaign.Status), string(action))
	}
	if action == model.ActionStart && campaign.TotalRecipients == 0 {
		return campaign.Status, appErrors.NewValidation("recipients", "campaign has no recipients queued")
	}

	applied, err := s.CampaignRepo.Transition(ctx, id, rule, s.now())
	if err != nil {
		return "", err
	}
	if !applied {
		// lost a race; report the state that won
		current, err := s.CampaignRepo.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		return current.Status, appErrors.NewInvalidTransition(id, string(current.Status), string(action))
	}

	s.Log.Info().
		Int64("campaign_id", id).
		Str("from", string(campaign.Status)).
		Str("to", string(rule.To)).
		Msg("campaign status changed")
	if err := s.Logbook.Info(ctx, id, model.StepStatusChanged,
		fmt.Sprintf("campaign %s: %s -> %s", action, campaign.Status, rule.To),
		map[string]any{"from": string(campaign.Status), "to": string(rule.To), "action": string(action)}); err != nil {
		return rule.To, err
	}
	return rule.To, nil
}

// ListLogs polls a campaign's log entries created after since.
func (s *CampaignService) ListLogs(ctx context.Context, id int64, since time.Time, limit int) ([]*model.LogEntry, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.Logbook.ListSince(ctx, id, since, limit)
}

// ClearLogs deletes every log entry of a campaign and returns how many went.
func (s *CampaignService) ClearLogs(ctx context.Context, id int64) (int64, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return 0, err
	}
	n, err := s.Logbook.Clear(ctx, id)
	if err != nil {
		return 0, err
	}
	s.Log.Info().Int64("campaign_id", id).Int64("deleted", n).Msg("campaign logs cleared")
	return n, nil
}
