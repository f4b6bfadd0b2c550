// internal/errors/errors.go
package appErrors

import (
    "errors"
    "fmt"
)

// ErrCampaignNotFound is returned when a campaign id does not exist.
type ErrCampaignNotFound struct {
    CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
    return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
    return &ErrCampaignNotFound{CampaignID: id}
}

// ErrInvalidTransition rejects a lifecycle action the campaign's current
// status does not allow. From is the status observed when the action failed.
type ErrInvalidTransition struct {
    CampaignID int64
    From       string
    Action     string
}

func (e *ErrInvalidTransition) Error() string {
    return fmt.Sprintf("cannot %s campaign %d in status %s", e.Action, e.CampaignID, e.From)
}

func NewInvalidTransition(id int64, from, action string) error {
    return &ErrInvalidTransition{CampaignID: id, From: from, Action: action}
}

// ErrValidation is a synchronous input rejection with no side effects.
type ErrValidation struct {
    Field  string
    Reason string
}

func (e *ErrValidation) Error() string {
    if e.Field == "" {
        return e.Reason
    }
    return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
    return &ErrValidation{Field: field, Reason: reason}
}

// ErrResendAlreadyDecided means another planner pass recorded the follow-up
// decision for the parent first.
var ErrResendAlreadyDecided = errors.New("auto-resend already decided for campaign")

// IsNotFound reports whether err wraps ErrCampaignNotFound.
func IsNotFound(err error) bool {
    var nf *ErrCampaignNotFound
    return errors.As(err, &nf)
}

func IsInvalidTransition(err error) bool {
    var it *ErrInvalidTransition
    return errors.As(err, &it)
}

func IsValidation(err error) bool {
    var v *ErrValidation
    return errors.As(err, &v)
}
