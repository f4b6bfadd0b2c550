package repository

import (
	"context"
	"errors"
	"time"

	"github.com/unclebandit/outreach-dispatch/internal/model"
)

// DefaultChunkSize bounds how many recipient rows go into one insert.
const DefaultChunkSize = 100

// ErrClaimLost is returned when a send result is written for a record that is
// no longer claimed (for example its claim expired in the meantime).
var ErrClaimLost = errors.New("recipient is no longer claimed")

// ClaimQuota caps a claim by the campaign's hourly rate: records sent since
// Since plus records in flight never exceed PerHour. PerHour 0 means uncapped.
type ClaimQuota struct {
	PerHour int
	Since   time.Time
}

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)

	// Transition applies t only if the campaign is still in one of t.From.
	// It reports false, nil when the condition no longer holds.
	Transition(ctx context.Context, id int64, t model.Transition, at time.Time) (bool, error)

	// Auto-resend
	ListResendCandidates(ctx context.Context) ([]*model.Campaign, error)
	MarkResendSkipped(ctx context.Context, id int64, at time.Time) (bool, error)
	CreateResendChild(ctx context.Context, parentID int64, child *model.Campaign, recipients []*model.Recipient, chunkSize int) error
}

type RecipientRepositoryInterface interface {
	InsertRecipients(ctx context.Context, campaignID int64, recipients []*model.Recipient, chunkSize int) (int, error)
	// ClaimPending moves up to n pending records to in flight. The quota check
	// and the claim are atomic with respect to other claims on the campaign.
	ClaimPending(ctx context.Context, campaignID int64, n int, quota ClaimQuota, at time.Time) ([]*model.Recipient, error)
	MarkSent(ctx context.Context, id int64, providerID string, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error
	ExpireStaleClaims(ctx context.Context, campaignID int64, cutoff, at time.Time) (int64, error)
	CountSentSince(ctx context.Context, campaignID int64, since time.Time) (int, error)
	CountByStatus(ctx context.Context, campaignID int64) (map[model.RecipientStatus]int, error)
	ListRecipientsByStatus(ctx context.Context, campaignID int64, statuses ...model.RecipientStatus) ([]*model.Recipient, error)
}

type LogRepositoryInterface interface {
	AppendLog(ctx context.Context, e *model.LogEntry) error
	ListLogsSince(ctx context.Context, campaignID int64, since time.Time, limit int) ([]*model.LogEntry, error)
	DeleteLogs(ctx context.Context, campaignID int64) (int64, error)
}

// Chunk splits recipients into slices of at most size elements.
func Chunk(recipients []*model.Recipient, size int) [][]*model.Recipient {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]*model.Recipient, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		chunks = append(chunks, recipients[start:end])
	}
	return chunks
}

func statusStrings(statuses []model.RecipientStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
