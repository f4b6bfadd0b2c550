package model

// ResendState is the auto-resend decision recorded on a parent campaign.
type ResendState string

const (
	ResendUndecided ResendState = "undecided"
	ResendSkipped   ResendState = "skipped"
	ResendCreated   ResendState = "created"
)

// ResendDecision replaces a nullable "resend campaign id" column that doubled
// as a skip marker. ChildID is only meaningful when State is ResendCreated.
type ResendDecision struct {
	State   ResendState `json:"state"`
	ChildID *int64      `json:"child_id,omitempty"`
}

func (d ResendDecision) Decided() bool {
	return d.State == ResendSkipped || d.State == ResendCreated
}

func SkippedResend() ResendDecision {
	return ResendDecision{State: ResendSkipped}
}

func CreatedResend(childID int64) ResendDecision {
	return ResendDecision{State: ResendCreated, ChildID: &childID}
}
