package handler

import (
	"net/http"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/event"
)

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := event.ListAll(r.Context(), h.engine)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respondList(w, r, "/v1/events", exportAll(events))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := event.Retrieve(r.Context(), h.engine, r.PathValue("id"))
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, e.Export())
}

// DeleteEvent always refuses: the event log is append-only.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	h.ErrorResponse(w, r, domain.MethodNotAllowed("event.delete", "Events cannot be deleted."))
}

// RegisterWebhook upserts a webhook endpoint under the id in the path.
func (h *Handler) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var params struct {
		URL    string   `json:"url"`
		Secret string   `json:"secret"`
		Events []string `json:"events"`
	}
	if err := decode(r, &params); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	if params.URL == "" {
		h.ErrorResponse(w, r, domain.Invalid("webhook.register", "Missing required param: url."))
		return
	}
	if params.Secret == "" {
		h.ErrorResponse(w, r, domain.Invalid("webhook.register", "Missing required param: secret."))
		return
	}
	ep := event.Endpoint{
		ID:     r.PathValue("id"),
		URL:    params.URL,
		Secret: params.Secret,
		Events: params.Events,
	}
	if err := h.events.RegisterEndpoint(r.Context(), ep); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{
		"id":     ep.ID,
		"url":    ep.URL,
		"events": ep.Events,
	})
}

func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.events.RemoveEndpoint(r.Context(), id); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, deletedResponse("webhook_endpoint", id))
}

// FlushData wipes every stored object. The test harness calls this
// between scenarios to start from a clean slate.
func (h *Handler) FlushData(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Store().Flush(r.Context()); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.logger.Info("all data flushed")
	h.respond(w, http.StatusOK, map[string]any{"deleted": true})
}
