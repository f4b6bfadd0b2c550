package model

import "time"

type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// Steps written by the dispatcher and planner.
const (
	StepBatchStarted      = "batch_started"
	StepBatchIdle         = "batch_idle"
	StepEmailSent         = "email_sent"
	StepEmailFailed       = "email_failed"
	StepOutsideWindow     = "outside_window"
	StepQuotaExhausted    = "quota_exhausted"
	StepClaimExpired      = "claim_expired"
	StepRecipientsQueued  = "recipients_queued"
	StepCampaignCompleted = "campaign_completed"
	StepStatusChanged     = "status_changed"
	StepResendCreated     = "resend_created"
	StepResendSkipped     = "resend_skipped"
	StepResendFailed      = "resend_failed"
)

// LogEntry is an append-only dispatch log record.
type LogEntry struct {
	ID          int64          `db:"id" json:"id"`
	CampaignID  int64          `db:"campaign_id" json:"campaign_id"`
	RecipientID *int64         `db:"recipient_id" json:"recipient_id,omitempty"`
	Level       LogLevel       `db:"level" json:"level"`
	Step        string         `db:"step" json:"step"`
	Message     string         `db:"message" json:"message"`
	Details     map[string]any `db:"details" json:"details,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}
