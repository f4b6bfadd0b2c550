// Package mailer delivers rendered campaign emails through a configured
// provider.
package mailer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/outreach-dispatch/internal/config"
)

type Message struct {
	From     string
	FromName string
	To       string
	ToName   string
	ReplyTo  string
	Subject  string
	Body     string
}

// Result carries the provider's identifier for an accepted message.
type Result struct {
	ProviderID string
}

// Sender hands one message to the transport. A returned error means the
// message was not accepted.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// DryRunSender accepts everything without contacting a provider.
type DryRunSender struct{}

func (DryRunSender) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{ProviderID: "dryrun-" + uuid.NewString()}, nil
}

// NewFromConfig returns the Sender named by EMAIL_PROVIDER.
func NewFromConfig(cfg config.Config) (Sender, error) {
	switch cfg.EmailProvider {
	case "", "dryrun":
		return DryRunSender{}, nil
	case "smtp":
		return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword), nil
	case "brevo":
		return NewBrevoSender(cfg.BrevoBaseURL, cfg.BrevoAPIKey, &http.Client{Timeout: cfg.SendTimeout + 5*time.Second}), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}
}
