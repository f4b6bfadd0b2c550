package service

import (
	"context"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/eventlog"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
)

type StreamMode string

const (
	StreamDispatch StreamMode = "dispatch"
	StreamResend   StreamMode = "resend"
	StreamReplay   StreamMode = "replay"
)

// Stream event types.
const (
	EventLog      = "log"
	EventComplete = "complete"
	EventError    = "error"
)

// StreamEvent is one item of a push stream: a log entry, then exactly one
// terminal complete or error event.
type StreamEvent struct {
	Type   string          `json:"type"`
	Entry  *model.LogEntry `json:"entry,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type StreamOptions struct {
	MaxCount int       // dispatch batch size
	Since    time.Time // replay start
	Limit    int       // replay page size
}

// Streamer runs an operation and streams the log entries it writes as they
// happen, or replays stored entries.
type Streamer struct {
	Campaigns  repository.CampaignRepositoryInterface
	Logbook    *eventlog.Logbook
	Dispatcher *Dispatcher
	Planner    *ResendPlanner
	Now        func() time.Time
}

func (s *Streamer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// StreamBatch validates the request synchronously and returns a channel that
// is closed after the terminal event. Cancelling ctx stops the stream early;
// a dispatch or resend job already started still runs to completion.
func (s *Streamer) StreamBatch(ctx context.Context, campaignID int64, mode StreamMode, opts StreamOptions) (<-chan StreamEvent, error) {
	if _, err := s.Campaigns.GetByID(ctx, campaignID); err != nil {
		return nil, err
	}

	switch mode {
	case StreamDispatch:
		if opts.MaxCount <= 0 {
			return nil, appErrors.NewValidation("max", "must be positive")
		}
		return s.live(ctx, campaignID, func(ctx context.Context) (any, error) {
			return s.Dispatcher.ProcessBatch(ctx, campaignID, opts.MaxCount)
		}), nil
	case StreamResend:
		return s.live(ctx, campaignID, func(ctx context.Context) (any, error) {
			return s.Planner.RunAutoResendPass(ctx, s.now())
		}), nil
	case StreamReplay:
		entries, err := s.Logbook.ListSince(ctx, campaignID, opts.Since, opts.Limit)
		if err != nil {
			return nil, err
		}
		return s.replay(ctx, entries), nil
	default:
		return nil, appErrors.NewValidation("mode", fmt.Sprintf("unknown stream mode %q", mode))
	}
}

func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Streamer) live(ctx context.Context, campaignID int64, job func(context.Context) (any, error)) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)
	entries, stop := s.Logbook.Subscribe(ctx, campaignID)

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	// a client leaving stops forwarding, never the job
	go func() {
		res, err := job(context.WithoutCancel(ctx))
		done <- outcome{res, err}
	}()

	go func() {
		defer close(events)
		defer stop()

		var finished outcome
	wait:
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					entries = nil
					continue
				}
				if !send(ctx, events, StreamEvent{Type: EventLog, Entry: e}) {
					return
				}
			case finished = <-done:
				break wait
			}
		}

		// everything the job logged is already queued; flush it
		stop()
		if entries != nil {
			for e := range entries {
				if !send(ctx, events, StreamEvent{Type: EventLog, Entry: e}) {
					return
				}
			}
		}

		if finished.err != nil {
			send(ctx, events, StreamEvent{Type: EventError, Error: finished.err.Error()})
			return
		}
		send(ctx, events, StreamEvent{Type: EventComplete, Result: finished.result})
	}()
	return events
}

func (s *Streamer) replay(ctx context.Context, entries []*model.LogEntry) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		for _, e := range entries {
			if !send(ctx, events, StreamEvent{Type: EventLog, Entry: e}) {
				return
			}
		}
		send(ctx, events, StreamEvent{Type: EventComplete, Result: map[string]int{"replayed": len(entries)}})
	}()
	return events
}
