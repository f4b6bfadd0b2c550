package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error  string              `json:"error"`
	Field  string              `json:"field,omitempty"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// NewValidator returns the request validator shared by the controllers.
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case appErrors.IsInvalidTransition(err):
		return http.StatusConflict
	case appErrors.IsValidation(err), errors.As(err, &verrs):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err with the status StatusFor picks. Internal errors are
// logged and hidden from the client.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := StatusFor(err)
	body := ErrorBody{Error: err.Error()}

	var verrs validator.ValidationErrors
	var v *appErrors.ErrValidation
	switch {
	case errors.As(err, &verrs):
		body.Error = "validation_failed"
		body.Fields = map[string][]string{}
		for _, fe := range verrs {
			field := strings.ToLower(fe.Field())
			body.Fields[field] = append(body.Fields[field], fe.Tag())
		}
	case errors.As(err, &v):
		body.Error = v.Reason
		body.Field = v.Field
	case status == http.StatusInternalServerError:
		log.Error().Err(err).Msg("request failed")
		body.Error = "internal error"
	}
	WriteJSON(w, status, body)
}

// CampaignID reads the {id} URL parameter.
func CampaignID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.NewValidation("id", "invalid campaign id")
	}
	return id, nil
}

// queryInt returns def when the parameter is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
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

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return appErrors.NewValidation("body", "invalid body: "+err.Error())
	}
	return nil
}
