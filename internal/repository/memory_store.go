package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
)

// MemoryStore is a process-local implementation of all repository interfaces.
// It backs dry runs without a database and the service tests.
type MemoryStore struct {
	mu         sync.Mutex
	campaigns  map[int64]*model.Campaign
	recipients map[int64]*model.Recipient
	logs       []*model.LogEntry
	nextID     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns:  make(map[int64]*model.Campaign),
		recipients: make(map[int64]*model.Recipient),
	}
}

var (
	_ CampaignRepositoryInterface  = (*MemoryStore)(nil)
	_ RecipientRepositoryInterface = (*MemoryStore)(nil)
	_ LogRepositoryInterface       = (*MemoryStore)(nil)
)

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func copyCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	return &cp
}

func copyRecipient(r *model.Recipient) *model.Recipient {
	cp := *r
	if r.Personalization != nil {
		cp.Personalization = make(map[string]string, len(r.Personalization))
		for k, v := range r.Personalization {
			cp.Personalization[k] = v
		}
	}
	return &cp
}

// ====================== Campaigns ======================

func (m *MemoryStore) Create(ctx context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createLocked(c, time.Now())
	return nil
}

func (m *MemoryStore) createLocked(c *model.Campaign, now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	if c.Resend.State == "" {
		c.Resend.State = model.ResendUndecided
	}
	c.ID = m.id()
	m.campaigns[c.ID] = copyCampaign(c)
}

func (m *MemoryStore) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return copyCampaign(c), nil
}

func (m *MemoryStore) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*model.Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		if status != "" && string(c.Status) != status {
			continue
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]*model.Campaign, 0, end-offset)
	for _, c := range all[offset:end] {
		page = append(page, copyCampaign(c))
	}
	return page, total, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterLocked(func(c *model.Campaign) bool { return c.Status == status }), nil
}

func (m *MemoryStore) filterLocked(keep func(*model.Campaign) bool) []*model.Campaign {
	out := []*model.Campaign{}
	for _, c := range m.campaigns {
		if keep(c) {
			out = append(out, copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) Transition(ctx context.Context, id int64, t model.Transition, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return false, appErrors.NewCampaignNotFound(id)
	}
	if !t.Allows(c.Status) {
		return false, nil
	}
	c.Status = t.To
	switch t.To {
	case model.StatusSending:
		if c.StartedAt == nil {
			started := at
			c.StartedAt = &started
		}
	case model.StatusCompleted:
		completed := at
		c.CompletedAt = &completed
	}
	updated := at
	c.UpdatedAt = &updated
	return true, nil
}

func (m *MemoryStore) ListResendCandidates(ctx context.Context) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterLocked(func(c *model.Campaign) bool { return c.ResendEligible() }), nil
}

func (m *MemoryStore) MarkResendSkipped(ctx context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return false, appErrors.NewCampaignNotFound(id)
	}
	if c.Resend.Decided() {
		return false, nil
	}
	c.Resend = model.SkippedResend()
	updated := at
	c.UpdatedAt = &updated
	return true, nil
}

func (m *MemoryStore) CreateResendChild(ctx context.Context, parentID int64, child *model.Campaign, recipients []*model.Recipient, chunkSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.campaigns[parentID]
	if !ok {
		return appErrors.NewCampaignNotFound(parentID)
	}
	if parent.Resend.Decided() {
		return appErrors.ErrResendAlreadyDecided
	}
	now := child.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	m.createLocked(child, now)
	for _, chunk := range Chunk(recipients, chunkSize) {
		m.insertLocked(child.ID, chunk, now)
	}
	m.campaigns[child.ID].TotalRecipients = m.countLocked(child.ID)
	child.TotalRecipients = m.campaigns[child.ID].TotalRecipients
	parent.Resend = model.CreatedResend(child.ID)
	updated := now
	parent.UpdatedAt = &updated
	return nil
}

// ====================== Recipients ======================

func (m *MemoryStore) InsertRecipients(ctx context.Context, campaignID int64, recipients []*model.Recipient, chunkSize int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return 0, appErrors.NewCampaignNotFound(campaignID)
	}
	inserted := 0
	now := time.Now()
	for _, chunk := range Chunk(recipients, chunkSize) {
		inserted += m.insertLocked(campaignID, chunk, now)
	}
	c.TotalRecipients = m.countLocked(campaignID)
	return inserted, nil
}

// insertLocked skips emails already queued for the campaign.
func (m *MemoryStore) insertLocked(campaignID int64, recipients []*model.Recipient, now time.Time) int {
	seen := make(map[string]bool)
	for _, r := range m.recipients {
		if r.CampaignID == campaignID {
			seen[r.Email] = true
		}
	}
	inserted := 0
	for _, r := range recipients {
		if seen[r.Email] {
			continue
		}
		seen[r.Email] = true
		r.ID = m.id()
		r.CampaignID = campaignID
		if r.Status == "" {
			r.Status = model.RecipientPending
		}
		r.CreatedAt, r.UpdatedAt = now, now
		m.recipients[r.ID] = copyRecipient(r)
		inserted++
	}
	return inserted
}

func (m *MemoryStore) countLocked(campaignID int64) int {
	n := 0
	for _, r := range m.recipients {
		if r.CampaignID == campaignID {
			n++
		}
	}
	return n
}

func (m *MemoryStore) ClaimPending(ctx context.Context, campaignID int64, n int, quota ClaimQuota, at time.Time) ([]*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if quota.PerHour > 0 {
		if left := quota.PerHour - m.countSentSinceLocked(campaignID, quota.Since); left < n {
			n = left
		}
	}
	if n <= 0 {
		return nil, nil
	}
	pending := []*model.Recipient{}
	for _, r := range m.recipients {
		if r.CampaignID == campaignID && r.Status == model.RecipientPending {
			pending = append(pending, r)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if len(pending) > n {
		pending = pending[:n]
	}
	claimed := make([]*model.Recipient, 0, len(pending))
	for _, r := range pending {
		claimedAt := at
		r.Status = model.RecipientSending
		r.ClaimedAt = &claimedAt
		r.UpdatedAt = at
		claimed = append(claimed, copyRecipient(r))
	}
	return claimed, nil
}

func (m *MemoryStore) MarkSent(ctx context.Context, id int64, providerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok || r.Status != model.RecipientSending {
		return ErrClaimLost
	}
	sentAt := at
	r.Status = model.RecipientSent
	r.ProviderID = providerID
	r.LastError = ""
	r.SentAt = &sentAt
	r.UpdatedAt = at
	return nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok || r.Status != model.RecipientSending {
		return ErrClaimLost
	}
	r.Status = model.RecipientFailed
	r.LastError = reason
	r.UpdatedAt = at
	return nil
}

func (m *MemoryStore) ExpireStaleClaims(ctx context.Context, campaignID int64, cutoff, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.recipients {
		if r.CampaignID != campaignID || r.Status != model.RecipientSending || r.ClaimedAt == nil {
			continue
		}
		if r.ClaimedAt.Before(cutoff) {
			r.Status = model.RecipientFailed
			r.LastError = "claim expired before a send result was recorded"
			r.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

// CountSentSince counts sends recorded at or after since plus in-flight claims.
func (m *MemoryStore) CountSentSince(ctx context.Context, campaignID int64, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countSentSinceLocked(campaignID, since), nil
}

func (m *MemoryStore) countSentSinceLocked(campaignID int64, since time.Time) int {
	n := 0
	for _, r := range m.recipients {
		if r.CampaignID != campaignID {
			continue
		}
		if r.Status == model.RecipientSending || (r.SentAt != nil && !r.SentAt.Before(since)) {
			n++
		}
	}
	return n
}

func (m *MemoryStore) CountByStatus(ctx context.Context, campaignID int64) (map[model.RecipientStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make(map[model.RecipientStatus]int, len(model.AllRecipientStatuses))
	for _, s := range model.AllRecipientStatuses {
		stats[s] = 0
	}
	for _, r := range m.recipients {
		if r.CampaignID == campaignID {
			stats[r.Status]++
		}
	}
	return stats, nil
}

func (m *MemoryStore) ListRecipientsByStatus(ctx context.Context, campaignID int64, statuses ...model.RecipientStatus) ([]*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[model.RecipientStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	out := []*model.Recipient{}
	for _, r := range m.recipients {
		if r.CampaignID == campaignID && (len(want) == 0 || want[r.Status]) {
			out = append(out, copyRecipient(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AdvanceRecipient applies an inbound delivery event (delivered, opened, ...)
// respecting forward-only progression. It reports whether the status changed.
func (m *MemoryStore) AdvanceRecipient(id int64, next model.RecipientStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok || !r.Status.CanAdvanceTo(next) {
		return false
	}
	r.Status = next
	r.UpdatedAt = time.Now()
	return true
}

// ====================== Logs ======================

func (m *MemoryStore) AppendLog(ctx context.Context, e *model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.ID = m.id()
	cp := *e
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *MemoryStore) ListLogsSince(ctx context.Context, campaignID int64, since time.Time, limit int) ([]*model.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.LogEntry{}
	for _, e := range m.logs {
		if e.CampaignID != campaignID || !e.CreatedAt.After(since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteLogs(ctx context.Context, campaignID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	var deleted int64
	for _, e := range m.logs {
		if e.CampaignID == campaignID {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.logs = kept
	return deleted, nil
}
