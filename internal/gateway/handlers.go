package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/factotum-ai/factotum/internal/events"
	"github.com/factotum-ai/factotum/internal/match"
	"github.com/factotum-ai/factotum/internal/tasks"
)

type askRequest struct {
	UserID  string `json:"user_id"`
	Request string `json:"request"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	outcome, err := s.flow.Handle(r.Context(), req.UserID, req.Request)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

type webhookRequest struct {
	UserID string `json:"user_id"`
	match.NormalizedEvent
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	s.bus.Publish(events.NewTypedEventWithUser(events.SourceGateway, events.WebhookReceivedPayload{
		Category: category,
		ThreadID: req.ThreadID,
		From:     req.From,
		Subject:  req.Subject,
	}, req.UserID))

	outcomes, err := s.matcher.HandleEvent(r.Context(), req.UserID, category, &req.NormalizedEvent)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"matched":  len(outcomes),
		"outcomes": outcomes,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := tasks.ListFilter{
		UserID: r.URL.Query().Get("user_id"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		st := tasks.TaskStatus(status)
		if !tasks.ValidStatus(st) {
			http.Error(w, "unknown status: "+status, http.StatusBadRequest)
			return
		}
		filter.Status = st
	}

	list, err := s.lifecycle.Store().List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.lifecycle.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	activity, err := s.lifecycle.Store().LoadActivity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"task":     t,
		"activity": activity,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Reason == "" {
		body.Reason = "cancelled via API"
	}

	if err := s.lifecycle.Cancel(r.Context(), id, body.Reason); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.lifecycle.Retry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var ve *tasks.ValidationError
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &ve):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tasks.ErrInvalidTransition),
		errors.Is(err, tasks.ErrNotWaiting),
		errors.Is(err, tasks.ErrNotFailed),
		errors.Is(err, tasks.ErrRetryExhausted),
		errors.Is(err, tasks.ErrVersionConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
