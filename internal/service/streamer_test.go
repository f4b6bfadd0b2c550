package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

func collect(t *testing.T, events <-chan service.StreamEvent) []service.StreamEvent {
	t.Helper()
	var out []service.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
			return out
		}
	}
}

func logSteps(events []service.StreamEvent) []string {
	var steps []string
	for _, ev := range events {
		if ev.Type == service.EventLog {
			steps = append(steps, ev.Entry.Step)
		}
	}
	return steps
}

func TestStreamBatch_Dispatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.startedCampaign(t, 3)

	events, err := env.streamer.StreamBatch(ctx, c.ID, service.StreamDispatch, service.StreamOptions{MaxCount: 10})
	require.NoError(t, err)
	got := collect(t, events)
	require.NotEmpty(t, got)

	assert.Equal(t, []string{
		model.StepBatchStarted,
		model.StepEmailSent,
		model.StepEmailSent,
		model.StepEmailSent,
		model.StepCampaignCompleted,
	}, logSteps(got))

	last := got[len(got)-1]
	assert.Equal(t, service.EventComplete, last.Type)
	result, ok := last.Result.(service.BatchResult)
	require.True(t, ok)
	assert.Equal(t, 3, result.Sent)
	assert.True(t, result.Completed)
}

func TestStreamBatch_DispatchErrorIsTerminalEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.startedCampaign(t, 1)

	// settings that no longer parse make the batch fail
	broken := *c
	broken.Timezone = "Nowhere/Invalid"
	broken.Status = model.StatusSending
	require.NoError(t, env.store.Create(ctx, &broken))
	_, err := env.store.InsertRecipients(ctx, broken.ID, []*model.Recipient{{Email: "x@example.com"}}, 10)
	require.NoError(t, err)

	events, err := env.streamer.StreamBatch(ctx, broken.ID, service.StreamDispatch, service.StreamOptions{MaxCount: 10})
	require.NoError(t, err)
	got := collect(t, events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, service.EventError, last.Type)
	assert.Contains(t, last.Error, "timezone")
}

func TestStreamBatch_Resend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	parent := completedParent(t, env)
	env.clock.Set(base.Add(24 * time.Hour))

	events, err := env.streamer.StreamBatch(ctx, parent.ID, service.StreamResend, service.StreamOptions{})
	require.NoError(t, err)
	got := collect(t, events)

	assert.Contains(t, logSteps(got), model.StepResendCreated)
	last := got[len(got)-1]
	require.Equal(t, service.EventComplete, last.Type)
	pass, ok := last.Result.(service.PassResult)
	require.True(t, ok)
	require.Len(t, pass.Outcomes, 1)
	assert.Equal(t, service.OutcomeCreated, pass.Outcomes[0].Outcome)
}

func TestStreamBatch_Replay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.startedCampaign(t, 2)
	_, err := env.dispatcher.ProcessBatch(ctx, c.ID, 10)
	require.NoError(t, err)

	stored, err := env.store.ListLogsSince(ctx, c.ID, time.Time{}, 0)
	require.NoError(t, err)

	events, err := env.streamer.StreamBatch(ctx, c.ID, service.StreamReplay, service.StreamOptions{})
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, len(stored)+1)
	for i, e := range stored {
		assert.Equal(t, e.ID, got[i].Entry.ID)
	}
	assert.Equal(t, service.EventComplete, got[len(got)-1].Type)
	assert.Equal(t, map[string]int{"replayed": len(stored)}, got[len(got)-1].Result)
}

func TestStreamBatch_RejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.startedCampaign(t, 1)

	_, err := env.streamer.StreamBatch(ctx, c.ID, service.StreamMode("telepathy"), service.StreamOptions{})
	assert.True(t, appErrors.IsValidation(err))

	_, err = env.streamer.StreamBatch(ctx, c.ID, service.StreamDispatch, service.StreamOptions{})
	assert.True(t, appErrors.IsValidation(err))

	_, err = env.streamer.StreamBatch(ctx, 4040, service.StreamReplay, service.StreamOptions{})
	assert.True(t, appErrors.IsNotFound(err))
}

func TestStreamBatch_CancelledContextClosesStream(t *testing.T) {
	env := newTestEnv(t)
	c := env.startedCampaign(t, 1)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := env.streamer.StreamBatch(ctx, c.ID, service.StreamReplay, service.StreamOptions{})
	require.NoError(t, err)
	cancel()
	// drains to a close without blocking forever
	collect(t, events)
}

func TestStreamBatch_ClientLeavingDoesNotAbortDispatch(t *testing.T) {
	env := newTestEnv(t)
	c := env.startedCampaign(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.dispatcher.Sender = cancellingSender{cancel: cancel, inner: env.sender}

	events, err := env.streamer.StreamBatch(ctx, c.ID, service.StreamDispatch, service.StreamOptions{MaxCount: 10})
	require.NoError(t, err)
	collect(t, events)

	require.Eventually(t, func() bool {
		sent, err := env.store.ListRecipientsByStatus(context.Background(), c.ID, model.RecipientSent)
		return err == nil && len(sent) == 10
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, env.recipientsOf(t, c.ID, model.RecipientFailed))
	assert.Equal(t, 10, env.sender.total())
}
