package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-dispatch/internal/config"
)

var testMessage = Message{
	From:     "team@example.com",
	FromName: "Team",
	To:       "ada@example.com",
	ToName:   "Ada",
	ReplyTo:  "replies@example.com",
	Subject:  "Hello Ada",
	Body:     "<p>Hi</p>",
}

func TestBrevoSender_Success(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	var got brevoRequest
	httpmock.RegisterResponder("POST", "https://brevo.test/v3/smtp/email",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "secret", req.Header.Get("api-key"))
			require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
			return httpmock.NewStringResponse(201, `{"messageId":"<abc@smtp-relay>"}`), nil
		})

	s := NewBrevoSender("https://brevo.test/v3/", "secret", client)
	res, err := s.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.Equal(t, "<abc@smtp-relay>", res.ProviderID)

	assert.Equal(t, "team@example.com", got.Sender.Email)
	require.Len(t, got.To, 1)
	assert.Equal(t, "ada@example.com", got.To[0].Email)
	require.NotNil(t, got.ReplyTo)
	assert.Equal(t, "replies@example.com", got.ReplyTo.Email)
	assert.Equal(t, "Hello Ada", got.Subject)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestBrevoSender_Rejected(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://brevo.test/v3/smtp/email",
		httpmock.NewStringResponder(400, `{"code":"invalid_parameter","message":"email is not valid"}`))

	s := NewBrevoSender("https://brevo.test/v3", "secret", client)
	_, err := s.Send(context.Background(), testMessage)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "email is not valid"), err.Error())
}

func TestSMTPSender_BuildMessage(t *testing.T) {
	s := NewSMTPSender("mail.example.com", 587, "u", "p")
	m := s.buildMessage(testMessage, "id-1")
	assert.Equal(t, []string{"<id-1@mail.example.com>"}, m.GetHeader("Message-ID"))
	assert.Equal(t, []string{"Hello Ada"}, m.GetHeader("Subject"))
	assert.Equal(t, []string{"replies@example.com"}, m.GetHeader("Reply-To"))
	require.Len(t, m.GetHeader("To"), 1)
	assert.Contains(t, m.GetHeader("To")[0], "ada@example.com")
}

func TestSMTPSender_ContextCancelled(t *testing.T) {
	// port 1 on localhost refuses or hangs; either way Send must return
	s := NewSMTPSender("127.0.0.1", 1, "", "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.Send(ctx, testMessage)
	assert.Error(t, err)
}

func TestDryRunSender(t *testing.T) {
	res, err := DryRunSender{}.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ProviderID, "dryrun-"))
}

func TestNewFromConfig(t *testing.T) {
	s, err := NewFromConfig(config.Config{EmailProvider: "dryrun"})
	require.NoError(t, err)
	assert.IsType(t, DryRunSender{}, s)

	s, err = NewFromConfig(config.Config{EmailProvider: "smtp", SMTPHost: "localhost", SMTPPort: 25})
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, s)

	s, err = NewFromConfig(config.Config{EmailProvider: "brevo", BrevoAPIKey: "k", BrevoBaseURL: "https://api.brevo.com/v3"})
	require.NoError(t, err)
	assert.IsType(t, &BrevoSender{}, s)

	_, err = NewFromConfig(config.Config{EmailProvider: "pigeon"})
	assert.Error(t, err)
}
