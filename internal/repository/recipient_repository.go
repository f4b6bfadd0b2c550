package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/outreach-dispatch/internal/model"
)

type RecipientRepository struct {
	DB *sql.DB
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)

const recipientColumns = `id, campaign_id, email, name, company, customer_id, personalization, status,
	provider_id, last_error, claimed_at, sent_at, created_at, updated_at`

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	var (
		r    model.Recipient
		data []byte
	)
	if err := row.Scan(&r.ID, &r.CampaignID, &r.Email, &r.Name, &r.Company, &r.CustomerID, &data, &r.Status,
		&r.ProviderID, &r.LastError, &r.ClaimedAt, &r.SentAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.Personalization); err != nil {
			return nil, fmt.Errorf("decode personalization for recipient %d: %w", r.ID, err)
		}
	}
	return &r, nil
}

func (r *RecipientRepository) InsertRecipients(ctx context.Context, campaignID int64, recipients []*model.Recipient, chunkSize int) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin recipient insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	inserted := 0
	for _, chunk := range Chunk(recipients, chunkSize) {
		n, err := insertRecipientChunk(ctx, tx, campaignID, chunk, now)
		if err != nil {
			return 0, err
		}
		inserted += n
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET total_recipients = (SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1), updated_at = $2
         WHERE id = $1`, campaignID, now); err != nil {
		return 0, fmt.Errorf("update total recipients: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit recipient insert: %w", err)
	}
	return inserted, nil
}

// insertRecipientChunk writes one multi-row INSERT. Duplicate emails within a
// campaign are ignored.
func insertRecipientChunk(ctx context.Context, db execer, campaignID int64, chunk []*model.Recipient, now time.Time) (int, error) {
	if len(chunk) == 0 {
		return 0, nil
	}
	const cols = 9
	values := make([]string, 0, len(chunk))
	args := make([]any, 0, len(chunk)*cols)
	for i, rec := range chunk {
		data, err := json.Marshal(rec.Personalization)
		if err != nil {
			return 0, fmt.Errorf("encode personalization for %s: %w", rec.Email, err)
		}
		status := rec.Status
		if status == "" {
			status = model.RecipientPending
		}
		base := i * cols
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))
		args = append(args, campaignID, rec.Email, rec.Name, rec.Company, rec.CustomerID, string(data), status, now, now)
	}
	query := `INSERT INTO campaign_recipients
        (campaign_id, email, name, company, customer_id, personalization, status, created_at, updated_at)
        VALUES ` + strings.Join(values, ", ") + `
        ON CONFLICT (campaign_id, email) DO NOTHING`
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert recipients: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// countRecentSQL counts sends recorded since $2 plus records still in flight.
const countRecentSQL = `SELECT COUNT(*) FROM campaign_recipients
         WHERE campaign_id = $1 AND (status = 'sending' OR sent_at >= $2)`

// ClaimPending moves up to n pending records to the in-flight status. A
// transaction-scoped advisory lock on the campaign serialises the quota count
// with the claim, so overlapping batches in different processes cannot both
// spend the same hourly quota. Rows are still taken with SKIP LOCKED.
func (r *RecipientRepository) ClaimPending(ctx context.Context, campaignID int64, n int, quota ClaimQuota, at time.Time) ([]*model.Recipient, error) {
	if n <= 0 {
		return nil, nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, campaignID); err != nil {
		return nil, fmt.Errorf("lock campaign %d for claim: %w", campaignID, err)
	}
	if quota.PerHour > 0 {
		var used int
		if err := tx.QueryRowContext(ctx, countRecentSQL, campaignID, quota.Since).Scan(&used); err != nil {
			return nil, fmt.Errorf("count recent sends: %w", err)
		}
		if left := quota.PerHour - used; left < n {
			n = left
		}
		if n <= 0 {
			return nil, tx.Commit()
		}
	}

	query := `
        UPDATE campaign_recipients
        SET status = 'sending', claimed_at = $3, updated_at = $3
        WHERE status = 'pending' AND id IN (
            SELECT id FROM campaign_recipients
            WHERE campaign_id = $1 AND status = 'pending'
            ORDER BY id
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + recipientColumns
	rows, err := tx.QueryContext(ctx, query, campaignID, n, at)
	if err != nil {
		return nil, fmt.Errorf("claim pending recipients: %w", err)
	}
	claimed := []*model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].ID < claimed[j].ID })
	return claimed, nil
}

func (r *RecipientRepository) MarkSent(ctx context.Context, id int64, providerID string, at time.Time) error {
	return r.resolveClaim(ctx,
		`UPDATE campaign_recipients SET status = 'sent', provider_id = $1, last_error = '', sent_at = $2, updated_at = $2
         WHERE id = $3 AND status = 'sending'`,
		providerID, at, id)
}

func (r *RecipientRepository) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	return r.resolveClaim(ctx,
		`UPDATE campaign_recipients SET status = 'failed', last_error = $1, updated_at = $2
         WHERE id = $3 AND status = 'sending'`,
		reason, at, id)
}

func (r *RecipientRepository) resolveClaim(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update recipient status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

func (r *RecipientRepository) ExpireStaleClaims(ctx context.Context, campaignID int64, cutoff, at time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE campaign_recipients
         SET status = 'failed', last_error = 'claim expired before a send result was recorded', updated_at = $1
         WHERE campaign_id = $2 AND status = 'sending' AND claimed_at < $3`,
		at, campaignID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale claims: %w", err)
	}
	return res.RowsAffected()
}

func (r *RecipientRepository) CountSentSince(ctx context.Context, campaignID int64, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, countRecentSQL, campaignID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent sends: %w", err)
	}
	return n, nil
}

func (r *RecipientRepository) CountByStatus(ctx context.Context, campaignID int64) (map[model.RecipientStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM campaign_recipients WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count recipients by status: %w", err)
	}
	defer rows.Close()

	stats := make(map[model.RecipientStatus]int, len(model.AllRecipientStatuses))
	for _, s := range model.AllRecipientStatuses {
		stats[s] = 0
	}
	for rows.Next() {
		var (
			status model.RecipientStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (r *RecipientRepository) ListRecipientsByStatus(ctx context.Context, campaignID int64, statuses ...model.RecipientStatus) ([]*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM campaign_recipients
        WHERE campaign_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
        ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, campaignID, pq.Array(statusStrings(statuses)))
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	out := []*model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
