package mailer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// SMTPSender dials the SMTP server for every message.
type SMTPSender struct {
	dialer *gomail.Dialer
	domain string
}

func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		domain: host,
	}
}

var _ Sender = (*SMTPSender)(nil)

func (s *SMTPSender) buildMessage(msg Message, messageID string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", messageID, s.domain))
	m.SetAddressHeader("From", msg.From, msg.FromName)
	m.SetAddressHeader("To", msg.To, msg.ToName)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)
	return m
}

// Send returns when the server accepted the message or ctx is done. gomail has
// no context support, so an abandoned dial keeps running in the background.
func (s *SMTPSender) Send(ctx context.Context, msg Message) (Result, error) {
	id := uuid.NewString()
	m := s.buildMessage(msg, id)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return Result{}, fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return Result{ProviderID: id}, nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("smtp send to %s: %w", msg.To, ctx.Err())
	}
}
