// Package eventlog records campaign dispatch activity and fans it out to live
// subscribers.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-dispatch/internal/metrics"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/queue"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// Topic is the queue topic carrying a campaign's log entries.
func Topic(campaignID int64) string {
	return fmt.Sprintf("campaign_logs.%d", campaignID)
}

// Logbook persists log entries and publishes each one after it is stored.
type Logbook struct {
	Repo  repository.LogRepositoryInterface
	Queue queue.Queue
	// Mirror optionally receives a copy of every entry (e.g. a RabbitMQ exchange).
	Mirror queue.Publisher
	Now    func() time.Time

	log zerolog.Logger
}

func NewLogbook(repo repository.LogRepositoryInterface, q queue.Queue, log zerolog.Logger) *Logbook {
	return &Logbook{Repo: repo, Queue: q, Now: time.Now, log: log}
}

func (b *Logbook) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

// Append stores e and publishes it. Publishing failures are logged, not returned:
// the stored entry stays the source of truth for polling.
func (b *Logbook) Append(ctx context.Context, e *model.LogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = b.now()
	}
	if err := b.Repo.AppendLog(ctx, e); err != nil {
		return err
	}

	topic := Topic(e.CampaignID)
	if b.Queue != nil {
		if err := b.Queue.Publish(ctx, topic, e); err != nil {
			b.log.Warn().Err(err).Int64("campaign_id", e.CampaignID).Msg("publish log entry")
		}
	}
	if b.Mirror != nil {
		if err := b.Mirror.Publish(ctx, topic, e); err != nil {
			b.log.Warn().Err(err).Int64("campaign_id", e.CampaignID).Msg("mirror log entry")
		}
	}
	return nil
}

func (b *Logbook) write(ctx context.Context, campaignID int64, recipientID *int64, level model.LogLevel, step, msg string, details map[string]any) error {
	return b.Append(ctx, &model.LogEntry{
		CampaignID:  campaignID,
		RecipientID: recipientID,
		Level:       level,
		Step:        step,
		Message:     msg,
		Details:     details,
	})
}

func (b *Logbook) Info(ctx context.Context, campaignID int64, step, msg string, details map[string]any) error {
	return b.write(ctx, campaignID, nil, model.LevelInfo, step, msg, details)
}

func (b *Logbook) Success(ctx context.Context, campaignID int64, recipientID *int64, step, msg string, details map[string]any) error {
	return b.write(ctx, campaignID, recipientID, model.LevelSuccess, step, msg, details)
}

func (b *Logbook) Warning(ctx context.Context, campaignID int64, step, msg string, details map[string]any) error {
	return b.write(ctx, campaignID, nil, model.LevelWarning, step, msg, details)
}

func (b *Logbook) Error(ctx context.Context, campaignID int64, recipientID *int64, step, msg string, details map[string]any) error {
	return b.write(ctx, campaignID, recipientID, model.LevelError, step, msg, details)
}

// Subscribe follows new entries for a campaign. Calling stop ends the
// subscription; entries already published are still delivered before the
// channel closes. Cancelling ctx closes the channel without draining.
func (b *Logbook) Subscribe(ctx context.Context, campaignID int64) (<-chan *model.LogEntry, func()) {
	out := make(chan *model.LogEntry, queue.DefaultBuffer)
	if b.Queue == nil {
		close(out)
		return out, func() {}
	}
	raw, unsubscribe := b.Queue.Subscribe(Topic(campaignID), queue.DefaultBuffer)
	metrics.AddStreamSubscribers(1)
	go func() {
		defer close(out)
		defer metrics.AddStreamSubscribers(-1)
		defer unsubscribe()
		for payload := range raw {
			e, ok := payload.(*model.LogEntry)
			if !ok {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, unsubscribe
}

// ListSince returns entries created after since in ascending order.
func (b *Logbook) ListSince(ctx context.Context, campaignID int64, since time.Time, limit int) ([]*model.LogEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return b.Repo.ListLogsSince(ctx, campaignID, since, limit)
}

func (b *Logbook) Clear(ctx context.Context, campaignID int64) (int64, error) {
	return b.Repo.DeleteLogs(ctx, campaignID)
}
