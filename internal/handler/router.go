package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-dispatch/internal/controller"
	"github.com/unclebandit/outreach-dispatch/internal/metrics"
	"github.com/unclebandit/outreach-dispatch/internal/model"
)

// NewRouter wires every HTTP route of the dispatch service.
func NewRouter(campaigns *controller.CampaignController, logs *LogHandler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		controller.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	// Campaign routes
	r.Post("/campaigns", campaigns.CreateCampaign)
	r.Get("/campaigns", campaigns.ListCampaigns)
	r.Get("/campaigns/{id}", campaigns.GetCampaignDetails)
	r.Post("/campaigns/{id}/recipients", campaigns.QueueRecipients)
	r.Post("/campaigns/{id}/schedule", campaigns.Transition(model.ActionSchedule))
	r.Post("/campaigns/{id}/start", campaigns.Transition(model.ActionStart))
	r.Post("/campaigns/{id}/pause", campaigns.Transition(model.ActionPause))
	r.Post("/campaigns/{id}/resume", campaigns.Transition(model.ActionResume))
	r.Post("/campaigns/{id}/cancel", campaigns.Transition(model.ActionCancel))
	r.Post("/campaigns/{id}/process-batch", campaigns.ProcessBatch)
	r.Post("/auto-resend/run", campaigns.RunAutoResend)

	// Log routes
	r.Get("/campaigns/{id}/logs", logs.ListLogs)
	r.Delete("/campaigns/{id}/logs", logs.ClearLogs)
	r.Get("/campaigns/{id}/stream", logs.Stream)

	return r
}
