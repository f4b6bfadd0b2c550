// internal/handler/log_handler.go
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-dispatch/internal/controller"
	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

// LogHandler serves the campaign log: polling, clearing and the SSE stream.
type LogHandler struct {
	Service          *service.CampaignService
	Streamer         *service.Streamer
	DefaultBatchSize int
	Log              zerolog.Logger
}

func parseSince(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, appErrors.NewValidation("since", "must be an RFC 3339 timestamp")
	}
	return t, nil
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appErrors.NewValidation(name, "must be an integer")
	}
	return n, nil
}

// ListLogs returns entries newer than ?since, oldest first.
func (h *LogHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	id, err := controller.CampaignID(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	since, err := parseSince(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}

	entries, err := h.Service.ListLogs(r.Context(), id, since, limit)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": id,
		"data":        entries,
	})
}

func (h *LogHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	id, err := controller.CampaignID(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	deleted, err := h.Service.ClearLogs(r.Context(), id)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": id,
		"deleted":     deleted,
	})
}

// Stream runs ?mode=dispatch|resend|replay and pushes every event as
// Server-Sent Events until the terminal complete or error event.
func (h *LogHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := controller.CampaignID(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		controller.WriteError(w, h.Log, fmt.Errorf("streaming unsupported"))
		return
	}

	mode := service.StreamMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = service.StreamReplay
	}
	since, err := parseSince(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	maxCount, err := parseIntParam(r, "max", h.DefaultBatchSize)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}

	events, err := h.Streamer.StreamBatch(r.Context(), id, mode, service.StreamOptions{
		MaxCount: maxCount,
		Since:    since,
		Limit:    limit,
	})
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			h.Log.Error().Err(err).Int64("campaign_id", id).Msg("encode stream event")
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			// client went away; the request context cancels the stream
			return
		}
		flusher.Flush()
	}
}
