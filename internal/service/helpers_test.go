package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-dispatch/internal/eventlog"
	"github.com/unclebandit/outreach-dispatch/internal/logger"
	"github.com/unclebandit/outreach-dispatch/internal/mailer"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/queue"
	"github.com/unclebandit/outreach-dispatch/internal/render"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

// Monday morning, UTC.
var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[string]int
	fail map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeSender) Send(ctx context.Context, msg mailer.Message) (mailer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[msg.To] {
		return mailer.Result{}, errors.New("mailbox unavailable")
	}
	f.sent[msg.To]++
	return mailer.Result{ProviderID: "msg-" + msg.To}, nil
}

func (f *fakeSender) count(email string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[email]
}

func (f *fakeSender) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.sent {
		n += c
	}
	return n
}

// cancellingSender cancels the caller's context on every send and otherwise
// behaves like a provider that honours its context.
type cancellingSender struct {
	cancel context.CancelFunc
	inner  *fakeSender
}

func (s cancellingSender) Send(ctx context.Context, msg mailer.Message) (mailer.Result, error) {
	s.cancel()
	if err := ctx.Err(); err != nil {
		return mailer.Result{}, err
	}
	return s.inner.Send(ctx, msg)
}

type testEnv struct {
	store      *repository.MemoryStore
	clock      *fakeClock
	sender     *fakeSender
	book       *eventlog.Logbook
	campaigns  *service.CampaignService
	dispatcher *service.Dispatcher
	planner    *service.ResendPlanner
	streamer   *service.Streamer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	clock := &fakeClock{t: base}
	sender := newFakeSender()
	log := logger.Nop()

	book := eventlog.NewLogbook(store, queue.NewInMemoryQueue(log), log)
	book.Now = clock.Now

	dispatcher := &service.Dispatcher{
		Campaigns:   store,
		Recipients:  store,
		Logbook:     book,
		Renderer:    render.PlaceholderRenderer{},
		Sender:      sender,
		ClaimTTL:    10 * time.Minute,
		SendTimeout: time.Second,
		Now:         clock.Now,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		Log:         log,
	}
	planner := &service.ResendPlanner{
		Campaigns:      store,
		Recipients:     store,
		Logbook:        book,
		Dispatcher:     dispatcher,
		ChunkSize:      2,
		ChildBatchSize: 25,
		Log:            log,
	}
	return &testEnv{
		store:  store,
		clock:  clock,
		sender: sender,
		book:   book,
		campaigns: &service.CampaignService{
			CampaignRepo:  store,
			RecipientRepo: store,
			Logbook:       book,
			Now:           clock.Now,
			Log:           log,
		},
		dispatcher: dispatcher,
		planner:    planner,
		streamer: &service.Streamer{
			Campaigns:  store,
			Logbook:    book,
			Dispatcher: dispatcher,
			Planner:    planner,
			Now:        clock.Now,
		},
	}
}

func campaignInput(opts ...func(*service.CreateCampaignInput)) service.CreateCampaignInput {
	in := service.CreateCampaignInput{
		Name:         "Spring launch",
		Subject:      "Hello {first_name}",
		BodyTemplate: "<p>Hi {first_name} from {company}</p>",
		FromName:     "Team",
		FromEmail:    "team@example.com",
	}
	for _, o := range opts {
		o(&in)
	}
	return in
}

func recipients(n int) []service.RecipientInput {
	out := make([]service.RecipientInput, n)
	for i := range out {
		out[i] = service.RecipientInput{
			Email:           fmt.Sprintf("user%02d@example.com", i+1),
			Name:            fmt.Sprintf("User %02d", i+1),
			Company:         "Acme",
			Personalization: map[string]string{"plan": fmt.Sprintf("plan-%02d", i+1)},
		}
	}
	return out
}

// startedCampaign creates a campaign with n recipients and starts it.
func (e *testEnv) startedCampaign(t *testing.T, n int, opts ...func(*service.CreateCampaignInput)) *model.Campaign {
	t.Helper()
	ctx := context.Background()
	c, err := e.campaigns.CreateCampaign(ctx, campaignInput(opts...))
	require.NoError(t, err)
	inserted, err := e.campaigns.QueueRecipients(ctx, c.ID, recipients(n))
	require.NoError(t, err)
	require.Equal(t, n, inserted)
	status, err := e.campaigns.Start(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusSending, status)
	return c
}

func (e *testEnv) steps(t *testing.T, campaignID int64) []string {
	t.Helper()
	entries, err := e.store.ListLogsSince(context.Background(), campaignID, time.Time{}, 0)
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, le := range entries {
		out[i] = le.Step
	}
	return out
}

func (e *testEnv) campaign(t *testing.T, id int64) *model.Campaign {
	t.Helper()
	c, err := e.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (e *testEnv) recipientsOf(t *testing.T, id int64, statuses ...model.RecipientStatus) []*model.Recipient {
	t.Helper()
	rs, err := e.store.ListRecipientsByStatus(context.Background(), id, statuses...)
	require.NoError(t, err)
	return rs
}

func window(start, end string) func(*service.CreateCampaignInput) {
	return func(in *service.CreateCampaignInput) {
		in.WindowStart, in.WindowEnd = start, end
	}
}

func rate(n int) func(*service.CreateCampaignInput) {
	return func(in *service.CreateCampaignInput) { in.SendRate = n }
}

func autoResend(delayHours int) func(*service.CreateCampaignInput) {
	return func(in *service.CreateCampaignInput) {
		in.AutoResendEnabled = true
		in.ResendDelayHours = delayHours
		in.ResendSubject = "Did you miss this, {first_name}?"
	}
}
