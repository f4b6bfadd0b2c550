package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/unclebandit/outreach-dispatch/internal/model"
)

type LogRepository struct {
	DB *sql.DB
}

var _ LogRepositoryInterface = (*LogRepository)(nil)

func (r *LogRepository) AppendLog(ctx context.Context, e *model.LogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	// jsonb parameters go over the wire as text
	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode log details: %w", err)
		}
		details = string(b)
	}
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO campaign_logs (campaign_id, recipient_id, level, step, message, details, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		e.CampaignID, e.RecipientID, e.Level, e.Step, e.Message, details, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("append campaign log: %w", err)
	}
	return nil
}

func (r *LogRepository) ListLogsSince(ctx context.Context, campaignID int64, since time.Time, limit int) ([]*model.LogEntry, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, campaign_id, recipient_id, level, step, message, details, created_at
         FROM campaign_logs
         WHERE campaign_id = $1 AND created_at > $2
         ORDER BY created_at, id
         LIMIT $3`,
		campaignID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list campaign logs: %w", err)
	}
	defer rows.Close()

	entries := []*model.LogEntry{}
	for rows.Next() {
		var (
			e       model.LogEntry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.RecipientID, &e.Level, &e.Step, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode log details %d: %w", e.ID, err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (r *LogRepository) DeleteLogs(ctx context.Context, campaignID int64) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaign_logs WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("clear campaign logs: %w", err)
	}
	return res.RowsAffected()
}
