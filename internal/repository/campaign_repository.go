package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/model"
)

type CampaignRepository struct {
	DB *sql.DB
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

const campaignColumns = `id, name, subject, body_template, template_id, segment, from_name, from_email, reply_to,
	send_rate, send_delay_ms, send_window_start, send_window_end, timezone, is_dry_run,
	status, total_recipients, started_at, completed_at,
	parent_campaign_id, resend_state, resend_campaign_id, auto_resend_enabled, resend_delay_hours, resend_subject,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.BodyTemplate, &c.TemplateID, &c.Segment, &c.FromName, &c.FromEmail, &c.ReplyTo,
		&c.SendRate, &c.SendDelayMs, &c.WindowStart, &c.WindowEnd, &c.Timezone, &c.IsDryRun,
		&c.Status, &c.TotalRecipients, &c.StartedAt, &c.CompletedAt,
		&c.ParentCampaignID, &c.Resend.State, &c.Resend.ChildID, &c.AutoResendEnabled, &c.ResendDelayHours, &c.ResendSubject,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	return insertCampaign(ctx, r.DB, c, time.Now())
}

func insertCampaign(ctx context.Context, db execer, c *model.Campaign, now time.Time) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	if c.Resend.State == "" {
		c.Resend.State = model.ResendUndecided
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	query := `
        INSERT INTO campaigns (name, subject, body_template, template_id, segment, from_name, from_email, reply_to,
            send_rate, send_delay_ms, send_window_start, send_window_end, timezone, is_dry_run,
            status, total_recipients, started_at, completed_at,
            parent_campaign_id, resend_state, resend_campaign_id, auto_resend_enabled, resend_delay_hours, resend_subject,
            created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
        RETURNING id
    `
	return db.QueryRowContext(ctx, query,
		c.Name, c.Subject, c.BodyTemplate, c.TemplateID, c.Segment, c.FromName, c.FromEmail, c.ReplyTo,
		c.SendRate, c.SendDelayMs, c.WindowStart, c.WindowEnd, c.Timezone, c.IsDryRun,
		c.Status, c.TotalRecipients, c.StartedAt, c.CompletedAt,
		c.ParentCampaignID, c.Resend.State, c.Resend.ChildID, c.AutoResendEnabled, c.ResendDelayHours, c.ResendSubject,
		c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("get campaign %d: %w", id, err)
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE ($1 = '' OR status = $1) ORDER BY id DESC LIMIT $2 OFFSET $3`
	campaigns, err := r.queryCampaigns(ctx, query, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}
	return campaigns, total, nil
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	return r.queryCampaigns(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY id`, status)
}

func (r *CampaignRepository) queryCampaigns(ctx context.Context, query string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ====================== Lifecycle ======================

func (r *CampaignRepository) Transition(ctx context.Context, id int64, t model.Transition, at time.Time) (bool, error) {
	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}
	query := `
        UPDATE campaigns
        SET status = $1,
            started_at = CASE WHEN $1 = 'sending' THEN COALESCE(started_at, $2) ELSE started_at END,
            completed_at = CASE WHEN $1 = 'completed' THEN $2 ELSE completed_at END,
            updated_at = $2
        WHERE id = $3 AND status = ANY($4)
    `
	res, err := r.DB.ExecContext(ctx, query, t.To, at, id, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("transition campaign %d to %s: %w", id, t.To, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// distinguish a lost race from a missing row
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ====================== Auto-resend ======================

func (r *CampaignRepository) ListResendCandidates(ctx context.Context) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE status = 'completed' AND auto_resend_enabled AND resend_state = 'undecided'
        ORDER BY id`
	return r.queryCampaigns(ctx, query)
}

func (r *CampaignRepository) MarkResendSkipped(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET resend_state = 'skipped', updated_at = $1 WHERE id = $2 AND resend_state = 'undecided'`,
		at, id)
	if err != nil {
		return false, fmt.Errorf("mark resend skipped for campaign %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CreateResendChild inserts the child campaign, seeds its recipients and
// records the parent's decision in a single transaction, so a parent is never
// marked as resent without a committed child.
func (r *CampaignRepository) CreateResendChild(ctx context.Context, parentID int64, child *model.Campaign, recipients []*model.Recipient, chunkSize int) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resend transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := child.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	if err := insertCampaign(ctx, tx, child, now); err != nil {
		return fmt.Errorf("insert follow-up campaign: %w", err)
	}
	for _, chunk := range Chunk(recipients, chunkSize) {
		if _, err := insertRecipientChunk(ctx, tx, child.ID, chunk, now); err != nil {
			return fmt.Errorf("seed follow-up recipients: %w", err)
		}
	}
	if err := tx.QueryRowContext(ctx,
		`UPDATE campaigns SET total_recipients = (SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1)
         WHERE id = $1 RETURNING total_recipients`, child.ID).Scan(&child.TotalRecipients); err != nil {
		return fmt.Errorf("count follow-up recipients: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET resend_state = 'created', resend_campaign_id = $1, updated_at = $2
         WHERE id = $3 AND resend_state = 'undecided'`,
		child.ID, now, parentID)
	if err != nil {
		return fmt.Errorf("record resend decision: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return appErrors.ErrResendAlreadyDecided
	}
	return tx.Commit()
}
