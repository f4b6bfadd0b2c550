// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

type CampaignController struct {
	CampaignService  *service.CampaignService
	Dispatcher       *service.Dispatcher
	Planner          *service.ResendPlanner
	Validate         *validator.Validate
	DefaultBatchSize int
	Now              func() time.Time
	Log              zerolog.Logger
}

type createCampaignRequest struct {
	Name              string          `json:"name" validate:"required,max=200"`
	Subject           string          `json:"subject" validate:"required,max=998"`
	BodyTemplate      string          `json:"body_template" validate:"required"`
	TemplateID        *int64          `json:"template_id" validate:"omitempty,gt=0"`
	Segment           json.RawMessage `json:"segment"`
	FromName          string          `json:"from_name" validate:"max=200"`
	FromEmail         string          `json:"from_email" validate:"required,email"`
	ReplyTo           string          `json:"reply_to" validate:"omitempty,email"`
	SendRate          int             `json:"send_rate" validate:"gte=0"`
	SendDelayMs       int             `json:"send_delay_ms" validate:"gte=0,lte=600000"`
	WindowStart       string          `json:"send_window_start"`
	WindowEnd         string          `json:"send_window_end"`
	Timezone          string          `json:"timezone" validate:"omitempty,timezone"`
	IsDryRun          bool            `json:"is_dry_run"`
	AutoResendEnabled bool            `json:"auto_resend_enabled"`
	ResendDelayHours  int             `json:"resend_delay_hours" validate:"gte=0,lte=720"`
	ResendSubject     string          `json:"resend_subject" validate:"max=998"`
}

type recipientRequest struct {
	Email           string            `json:"email" validate:"required,email"`
	Name            string            `json:"name" validate:"max=200"`
	Company         string            `json:"company" validate:"max=200"`
	CustomerID      *int64            `json:"customer_id"`
	Personalization map[string]string `json:"personalization"`
}

type queueRecipientsRequest struct {
	Recipients []recipientRequest `json:"recipients" validate:"required,min=1,max=10000,dive"`
}

var defaultValidate = NewValidator()

func (c *CampaignController) validation() *validator.Validate {
	if c.Validate == nil {
		return defaultValidate
	}
	return c.Validate
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body createCampaignRequest
	if err := decode(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	if err := c.validation().Struct(body); err != nil {
		WriteError(w, c.Log, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), service.CreateCampaignInput{
		Name:              body.Name,
		Subject:           body.Subject,
		BodyTemplate:      body.BodyTemplate,
		TemplateID:        body.TemplateID,
		Segment:           string(body.Segment),
		FromName:          body.FromName,
		FromEmail:         body.FromEmail,
		ReplyTo:           body.ReplyTo,
		SendRate:          body.SendRate,
		SendDelayMs:       body.SendDelayMs,
		WindowStart:       body.WindowStart,
		WindowEnd:         body.WindowEnd,
		Timezone:          body.Timezone,
		IsDryRun:          body.IsDryRun,
		AutoResendEnabled: body.AutoResendEnabled,
		ResendDelayHours:  body.ResendDelayHours,
		ResendSubject:     body.ResendSubject,
	})
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	pageSize, err := queryInt(r, "page_size", 20)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // total_count, total_pages, page, page_size
	})
}

// GetCampaignDetails returns the campaign with per-status recipient counts.
func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

func (c *CampaignController) QueueRecipients(w http.ResponseWriter, r *http.Request) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	var body queueRecipientsRequest
	if err := decode(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	if err := c.validation().Struct(body); err != nil {
		WriteError(w, c.Log, err)
		return
	}

	in := make([]service.RecipientInput, len(body.Recipients))
	for i, rr := range body.Recipients {
		in[i] = service.RecipientInput{
			Email:           rr.Email,
			Name:            rr.Name,
			Company:         rr.Company,
			CustomerID:      rr.CustomerID,
			Personalization: rr.Personalization,
		}
	}
	inserted, err := c.CampaignService.QueueRecipients(r.Context(), id, in)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"campaign_id": id,
		"submitted":   len(in),
		"queued":      inserted,
	})
}

// Transition returns a handler applying one lifecycle action.
func (c *CampaignController) Transition(action model.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := CampaignID(r)
		if err != nil {
			WriteError(w, c.Log, err)
			return
		}
		status, err := c.CampaignService.Apply(r.Context(), id, action)
		if err != nil {
			WriteError(w, c.Log, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"campaign_id": id,
			"status":      status,
		})
	}
}

func (c *CampaignController) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	maxCount, err := queryInt(r, "max", c.DefaultBatchSize)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	result, err := c.Dispatcher.ProcessBatch(r.Context(), id, maxCount)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) RunAutoResend(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	result, err := c.Planner.RunAutoResendPass(r.Context(), now)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
