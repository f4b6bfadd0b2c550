package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// BrevoSender posts to the Brevo transactional email API.
type BrevoSender struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewBrevoSender(baseURL, apiKey string, client *http.Client) *BrevoSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &BrevoSender{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

var _ Sender = (*BrevoSender)(nil)

type brevoAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoRequest struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	ReplyTo     *brevoAddress  `json:"replyTo,omitempty"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (s *BrevoSender) Send(ctx context.Context, msg Message) (Result, error) {
	payload := brevoRequest{
		Sender:      brevoAddress{Email: msg.From, Name: msg.FromName},
		To:          []brevoAddress{{Email: msg.To, Name: msg.ToName}},
		Subject:     msg.Subject,
		HTMLContent: msg.Body,
	}
	if msg.ReplyTo != "" {
		payload.ReplyTo = &brevoAddress{Email: msg.ReplyTo}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode brevo request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/smtp/email", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("brevo send to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read brevo response: %w", err)
	}
	var out brevoResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= 300 {
		if out.Message != "" {
			return Result{}, fmt.Errorf("brevo rejected %s: %d %s: %s", msg.To, resp.StatusCode, out.Code, out.Message)
		}
		return Result{}, fmt.Errorf("brevo rejected %s: status %d", msg.To, resp.StatusCode)
	}
	return Result{ProviderID: out.MessageID}, nil
}
