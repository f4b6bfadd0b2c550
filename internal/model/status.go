package model

// CampaignStatus is a campaign lifecycle state.
type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusScheduled CampaignStatus = "scheduled"
	StatusSending   CampaignStatus = "sending"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
	StatusCancelled CampaignStatus = "cancelled"
)

// Action is an operator or engine request to move a campaign between states.
type Action string

const (
	ActionSchedule Action = "schedule"
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

// Transition describes which states an action may leave from and where it lands.
type Transition struct {
	From []CampaignStatus
	To   CampaignStatus
}

var transitions = map[Action]Transition{
	ActionSchedule: {From: []CampaignStatus{StatusDraft}, To: StatusScheduled},
	ActionStart:    {From: []CampaignStatus{StatusDraft, StatusScheduled}, To: StatusSending},
	ActionPause:    {From: []CampaignStatus{StatusSending}, To: StatusPaused},
	ActionResume:   {From: []CampaignStatus{StatusPaused}, To: StatusSending},
	ActionCancel:   {From: []CampaignStatus{StatusDraft, StatusScheduled, StatusSending, StatusPaused}, To: StatusCancelled},
	ActionComplete: {From: []CampaignStatus{StatusSending}, To: StatusCompleted},
}

// TransitionFor returns the transition rule for an action.
func TransitionFor(a Action) (Transition, bool) {
	t, ok := transitions[a]
	return t, ok
}

// Allows reports whether the transition may start from s.
func (t Transition) Allows(s CampaignStatus) bool {
	for _, from := range t.From {
		if from == s {
			return true
		}
	}
	return false
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusSending, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
