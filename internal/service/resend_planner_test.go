package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-dispatch/internal/lock"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

// completedParent runs a six-recipient campaign to completion at base and then
// applies engagement: user01 sent, user02 delivered, user03 opened,
// user04 replied, user05 bounced, user06 failed at send time.
func completedParent(t *testing.T, env *testEnv) *model.Campaign {
	t.Helper()
	ctx := context.Background()
	env.sender.fail["user06@example.com"] = true
	c := env.startedCampaign(t, 6, autoResend(24), func(in *service.CreateCampaignInput) {
		in.SendRate = 50
	})
	res, err := env.dispatcher.ProcessBatch(ctx, c.ID, 10)
	require.NoError(t, err)
	require.True(t, res.Completed)
	delete(env.sender.fail, "user06@example.com")

	next := map[string]model.RecipientStatus{
		"user02@example.com": model.RecipientDelivered,
		"user03@example.com": model.RecipientOpened,
		"user04@example.com": model.RecipientReplied,
		"user05@example.com": model.RecipientBounced,
	}
	for _, r := range env.recipientsOf(t, c.ID) {
		if status, ok := next[r.Email]; ok {
			require.True(t, env.store.AdvanceRecipient(r.ID, status), r.Email)
		}
	}
	return env.campaign(t, c.ID)
}

func TestRunAutoResendPass_NotReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	parent := completedParent(t, env)

	result, err := env.planner.RunAutoResendPass(ctx, base.Add(23*time.Hour))
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, service.OutcomeNotReady, result.Outcomes[0].Outcome)

	stored := env.campaign(t, parent.ID)
	assert.Equal(t, model.ResendUndecided, stored.Resend.State)
	assert.Nil(t, stored.Resend.ChildID)
}

func TestRunAutoResendPass_CreatesFollowUpForNonOpeners(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	parent := completedParent(t, env)

	now := base.Add(24 * time.Hour)
	env.clock.Set(now)
	result, err := env.planner.RunAutoResendPass(ctx, now)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	outcome := result.Outcomes[0]
	assert.Equal(t, service.OutcomeCreated, outcome.Outcome)
	assert.Equal(t, 2, outcome.NonOpeners)
	require.NotNil(t, outcome.ChildID)

	stored := env.campaign(t, parent.ID)
	assert.Equal(t, model.ResendCreated, stored.Resend.State)
	require.NotNil(t, stored.Resend.ChildID)
	assert.Equal(t, *outcome.ChildID, *stored.Resend.ChildID)

	child := env.campaign(t, *outcome.ChildID)
	require.NotNil(t, child.ParentCampaignID)
	assert.Equal(t, parent.ID, *child.ParentCampaignID)
	assert.False(t, child.AutoResendEnabled)
	assert.Equal(t, "Did you miss this, {first_name}?", child.Subject)
	assert.Equal(t, parent.BodyTemplate, child.BodyTemplate)
	assert.Equal(t, parent.SendRate, child.SendRate)
	assert.Equal(t, 2, child.TotalRecipients)
	require.NotNil(t, child.StartedAt)
	assert.Equal(t, now, *child.StartedAt)

	seeded := env.recipientsOf(t, child.ID)
	require.Len(t, seeded, 2)
	assert.Equal(t, "user01@example.com", seeded[0].Email)
	assert.Equal(t, "user02@example.com", seeded[1].Email)
	assert.Equal(t, map[string]string{"plan": "plan-01"}, seeded[0].Personalization)
	assert.Equal(t, map[string]string{"plan": "plan-02"}, seeded[1].Personalization)
	assert.Equal(t, "User 01", seeded[0].Name)
	assert.Equal(t, "Acme", seeded[0].Company)

	// the same pass pushed the follow-up through the dispatcher
	require.Len(t, result.ChildBatches, 1)
	batch := result.ChildBatches[0]
	assert.Equal(t, child.ID, batch.CampaignID)
	assert.Empty(t, batch.Error)
	assert.Equal(t, 2, batch.Result.Sent)
	assert.True(t, batch.Result.Completed)
	assert.Equal(t, 2, env.sender.count("user01@example.com"))
	assert.Equal(t, 1, env.sender.count("user03@example.com"))

	assert.Contains(t, env.steps(t, parent.ID), model.StepResendCreated)
}

func TestRunAutoResendPass_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	completedParent(t, env)

	now := base.Add(25 * time.Hour)
	env.clock.Set(now)
	first, err := env.planner.RunAutoResendPass(ctx, now)
	require.NoError(t, err)
	require.Len(t, first.Outcomes, 1)
	require.Equal(t, service.OutcomeCreated, first.Outcomes[0].Outcome)

	second, err := env.planner.RunAutoResendPass(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, second.Outcomes, "a decided parent is never reconsidered")

	children := 0
	all, _, err := env.store.ListCampaigns(ctx, 0, 100, "")
	require.NoError(t, err)
	for _, c := range all {
		if c.ParentCampaignID != nil {
			children++
		}
	}
	assert.Equal(t, 1, children)
}

func TestRunAutoResendPass_SkipsWhenEveryoneEngaged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.startedCampaign(t, 2, autoResend(1))
	res, err := env.dispatcher.ProcessBatch(ctx, c.ID, 10)
	require.NoError(t, err)
	require.True(t, res.Completed)
	for _, r := range env.recipientsOf(t, c.ID) {
		require.True(t, env.store.AdvanceRecipient(r.ID, model.RecipientOpened))
	}

	result, err := env.planner.RunAutoResendPass(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, service.OutcomeSkipped, result.Outcomes[0].Outcome)
	assert.Nil(t, result.Outcomes[0].ChildID)

	stored := env.campaign(t, c.ID)
	assert.Equal(t, model.ResendSkipped, stored.Resend.State)
	assert.Nil(t, stored.Resend.ChildID)

	again, err := env.planner.RunAutoResendPass(ctx, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, again.Outcomes)
	assert.Contains(t, env.steps(t, c.ID), model.StepResendSkipped)
}

func TestRunAutoResendPass_IgnoresCampaignsWithoutAutoResend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.startedCampaign(t, 1)
	_, err := env.dispatcher.ProcessBatch(ctx, c.ID, 10)
	require.NoError(t, err)

	result, err := env.planner.RunAutoResendPass(ctx, base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, result.Outcomes)
	assert.Equal(t, model.ResendUndecided, env.campaign(t, c.ID).Resend.State)
}

// flakyRecipients fails the non-opener query.
type flakyRecipients struct {
	*repository.MemoryStore
}

func (f flakyRecipients) ListRecipientsByStatus(ctx context.Context, campaignID int64, statuses ...model.RecipientStatus) ([]*model.Recipient, error) {
	return nil, errors.New("connection reset")
}

func TestRunAutoResendPass_ErrorLeavesParentUndecided(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	parent := completedParent(t, env)
	now := base.Add(24 * time.Hour)
	env.clock.Set(now)

	env.planner.Recipients = flakyRecipients{env.store}
	result, err := env.planner.RunAutoResendPass(ctx, now)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, service.OutcomeError, result.Outcomes[0].Outcome)
	assert.Contains(t, result.Outcomes[0].Error, "connection reset")
	assert.Equal(t, model.ResendUndecided, env.campaign(t, parent.ID).Resend.State)
	assert.Contains(t, env.steps(t, parent.ID), model.StepResendFailed)

	env.planner.Recipients = env.store
	result, err = env.planner.RunAutoResendPass(ctx, now)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, service.OutcomeCreated, result.Outcomes[0].Outcome)
}

// racingRecipients records a decision for the parent while the planner is
// still reading, as a concurrent pass would.
type racingRecipients struct {
	*repository.MemoryStore
}

func (r racingRecipients) ListRecipientsByStatus(ctx context.Context, campaignID int64, statuses ...model.RecipientStatus) ([]*model.Recipient, error) {
	if _, err := r.MarkResendSkipped(ctx, campaignID, base); err != nil {
		return nil, err
	}
	return r.MemoryStore.ListRecipientsByStatus(ctx, campaignID, statuses...)
}

func TestRunAutoResendPass_LosingRaceReportsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	parent := completedParent(t, env)
	now := base.Add(24 * time.Hour)

	env.planner.Recipients = racingRecipients{env.store}
	result, err := env.planner.RunAutoResendPass(ctx, now)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, service.OutcomeSkipped, result.Outcomes[0].Outcome)
	assert.Empty(t, result.ChildBatches)

	stored := env.campaign(t, parent.ID)
	assert.Equal(t, model.ResendSkipped, stored.Resend.State)

	all, total, err := env.store.ListCampaigns(ctx, 0, 100, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total, "no orphan follow-up campaign")
	assert.Len(t, all, 1)
}

func TestRunAutoResendPass_ConcurrentPassIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	locker := lock.NewMemoryLocker()
	env.planner.Locker = locker

	unlock, ok, err := locker.TryLock(ctx, lock.ResendPassKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	result, err := env.planner.RunAutoResendPass(ctx, base)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, result.Outcomes)
}

// chunkRecorder records how the planner asks for follow-up records to be written.
type chunkRecorder struct {
	*repository.MemoryStore
	chunkSizes []int
	seeded     int
}

func (c *chunkRecorder) CreateResendChild(ctx context.Context, parentID int64, child *model.Campaign, recipients []*model.Recipient, chunkSize int) error {
	c.chunkSizes = append(c.chunkSizes, chunkSize)
	c.seeded += len(recipients)
	return c.MemoryStore.CreateResendChild(ctx, parentID, child, recipients, chunkSize)
}

func TestRunAutoResendPass_SeedsFollowUpInConfiguredChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	parent := completedParent(t, env)
	now := base.Add(24 * time.Hour)
	env.clock.Set(now)

	rec := &chunkRecorder{MemoryStore: env.store}
	env.planner.Campaigns = rec
	env.planner.ChunkSize = 1

	result, err := env.planner.RunAutoResendPass(ctx, now)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, service.OutcomeCreated, result.Outcomes[0].Outcome)
	assert.Equal(t, []int{1}, rec.chunkSizes)
	assert.Equal(t, 2, rec.seeded)

	child := env.campaign(t, *result.Outcomes[0].ChildID)
	assert.Equal(t, 2, child.TotalRecipients)
	assert.Equal(t, model.ResendCreated, env.campaign(t, parent.ID).Resend.State)
}
