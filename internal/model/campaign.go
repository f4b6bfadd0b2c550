// internal/model/campaign.go
package model

import "time"

type Campaign struct {
    ID           int64   `db:"id" json:"id"`
    Name         string  `db:"name" json:"name"`
    Subject      string  `db:"subject" json:"subject"`
    BodyTemplate string  `db:"body_template" json:"body_template"`
    TemplateID   *int64  `db:"template_id" json:"template_id,omitempty"`
    Segment      string  `db:"segment" json:"segment,omitempty"`
    FromName     string  `db:"from_name" json:"from_name"`
    FromEmail    string  `db:"from_email" json:"from_email"`
    ReplyTo      string  `db:"reply_to" json:"reply_to,omitempty"`

    SendRate    int    `db:"send_rate" json:"send_rate"`
    SendDelayMs int    `db:"send_delay_ms" json:"send_delay_ms"`
    WindowStart string `db:"send_window_start" json:"send_window_start"`
    WindowEnd   string `db:"send_window_end" json:"send_window_end"`
    Timezone    string `db:"timezone" json:"timezone"`
    IsDryRun    bool   `db:"is_dry_run" json:"is_dry_run"`

    Status          CampaignStatus `db:"status" json:"status"`
    TotalRecipients int            `db:"total_recipients" json:"total_recipients"`
    StartedAt       *time.Time     `db:"started_at" json:"started_at,omitempty"`
    CompletedAt     *time.Time     `db:"completed_at" json:"completed_at,omitempty"`

    ParentCampaignID  *int64         `db:"parent_campaign_id" json:"parent_campaign_id,omitempty"`
    Resend            ResendDecision `json:"resend"`
    AutoResendEnabled bool           `db:"auto_resend_enabled" json:"auto_resend_enabled"`
    ResendDelayHours  int            `db:"resend_delay_hours" json:"resend_delay_hours"`
    ResendSubject     string         `db:"resend_subject" json:"resend_subject,omitempty"`

    CreatedAt time.Time  `db:"created_at" json:"created_at"`
    UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// ResendAfter is the earliest time a follow-up may be created, or false when
// the campaign has not completed.
func (c *Campaign) ResendAfter() (time.Time, bool) {
    if c.CompletedAt == nil {
        return time.Time{}, false
    }
    return c.CompletedAt.Add(time.Duration(c.ResendDelayHours) * time.Hour), true
}

// ResendEligible reports whether the planner should still consider this campaign.
func (c *Campaign) ResendEligible() bool {
    return c.Status == StatusCompleted && c.AutoResendEnabled && !c.Resend.Decided()
}

// FollowUp builds the child campaign seeded by the auto-resend planner.
// Children never enable auto-resend themselves.
func (c *Campaign) FollowUp(recipients int, now time.Time) *Campaign {
    subject := c.Subject
    if c.ResendSubject != "" {
        subject = c.ResendSubject
    }
    parentID := c.ID
    started := now
    return &Campaign{
        Name:              c.Name + " (follow-up)",
        Subject:           subject,
        BodyTemplate:      c.BodyTemplate,
        TemplateID:        c.TemplateID,
        Segment:           c.Segment,
        FromName:          c.FromName,
        FromEmail:         c.FromEmail,
        ReplyTo:           c.ReplyTo,
        SendRate:          c.SendRate,
        SendDelayMs:       c.SendDelayMs,
        WindowStart:       c.WindowStart,
        WindowEnd:         c.WindowEnd,
        Timezone:          c.Timezone,
        IsDryRun:          c.IsDryRun,
        Status:            StatusSending,
        TotalRecipients:   recipients,
        StartedAt:         &started,
        ParentCampaignID:  &parentID,
        Resend:            ResendDecision{State: ResendUndecided},
        AutoResendEnabled: false,
        CreatedAt:         now,
    }
}
