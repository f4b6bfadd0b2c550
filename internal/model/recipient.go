// internal/model/recipient.go
package model

import "time"

// RecipientStatus tracks one recipient's send record.
type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientSending   RecipientStatus = "sending" // claimed by an in-flight batch
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientOpened    RecipientStatus = "opened"
	RecipientClicked   RecipientStatus = "clicked"
	RecipientReplied   RecipientStatus = "replied"
	RecipientBounced   RecipientStatus = "bounced"
	RecipientFailed    RecipientStatus = "failed"
)

// AllRecipientStatuses lists statuses in forward order; used for stats.
var AllRecipientStatuses = []RecipientStatus{
	RecipientPending, RecipientSending, RecipientSent, RecipientDelivered,
	RecipientOpened, RecipientClicked, RecipientReplied, RecipientBounced, RecipientFailed,
}

// NonOpenerStatuses are the statuses that qualify a recipient for a follow-up.
var NonOpenerStatuses = []RecipientStatus{RecipientSent, RecipientDelivered}

func (s RecipientStatus) rank() int {
	switch s {
	case RecipientPending:
		return 0
	case RecipientSending:
		return 1
	case RecipientSent:
		return 2
	case RecipientDelivered:
		return 3
	case RecipientOpened:
		return 4
	case RecipientClicked:
		return 5
	case RecipientReplied:
		return 6
	case RecipientBounced, RecipientFailed:
		return 7
	}
	return -1
}

// CanAdvanceTo enforces forward-only progression of a send record.
func (s RecipientStatus) CanAdvanceTo(next RecipientStatus) bool {
	from, to := s.rank(), next.rank()
	if from < 0 || to < 0 || to <= from {
		return false
	}
	if s.Final() {
		return false
	}
	// failed is only reachable from an in-flight claim
	if next == RecipientFailed && s != RecipientSending {
		return false
	}
	return true
}

func (s RecipientStatus) Final() bool {
	return s == RecipientBounced || s == RecipientFailed
}

type Recipient struct {
	ID              int64             `db:"id" json:"id"`
	CampaignID      int64             `db:"campaign_id" json:"campaign_id"`
	Email           string            `db:"email" json:"email"`
	Name            string            `db:"name" json:"name,omitempty"`
	Company         string            `db:"company" json:"company,omitempty"`
	CustomerID      *int64            `db:"customer_id" json:"customer_id,omitempty"`
	Personalization map[string]string `db:"personalization" json:"personalization,omitempty"`
	Status          RecipientStatus   `db:"status" json:"status"`
	ProviderID      string            `db:"provider_id" json:"provider_id,omitempty"`
	LastError       string            `db:"last_error" json:"last_error,omitempty"`
	ClaimedAt       *time.Time        `db:"claimed_at" json:"claimed_at,omitempty"`
	SentAt          *time.Time        `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// CopyForCampaign returns a fresh pending record for another campaign carrying
// over identity and personalization.
func (r *Recipient) CopyForCampaign(campaignID int64) *Recipient {
	var data map[string]string
	if r.Personalization != nil {
		data = make(map[string]string, len(r.Personalization))
		for k, v := range r.Personalization {
			data[k] = v
		}
	}
	return &Recipient{
		CampaignID:      campaignID,
		Email:           r.Email,
		Name:            r.Name,
		Company:         r.Company,
		CustomerID:      r.CustomerID,
		Personalization: data,
		Status:          RecipientPending,
	}
}
