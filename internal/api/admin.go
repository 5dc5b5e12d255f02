package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rajasatyajit/stripemirror/internal/logger"
)

// POST /v1/admin/sync[?table=]
func (h *Handler) adminSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if table := r.URL.Query().Get("table"); table != "" {
		res, err := h.deps.Orchestrator.RunOne(ctx, h.deps.Config, table)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSONResponse(w, http.StatusOK, res)
		return
	}

	report := h.deps.Orchestrator.RunAll(ctx, h.deps.Config)
	status := http.StatusOK
	if len(report.Failed) > 0 {
		logger.WithContext(ctx).Warn("Full sync finished with failures", "failed", report.Errors())
		status = http.StatusMultiStatus
	}
	h.writeJSONResponse(w, status, map[string]any{
		"succeeded": report.Succeeded,
		"failed":    report.Errors(),
		"results":   report.Results,
	})
}

// POST /v1/admin/webhook-endpoint
func (h *Handler) adminWebhookEndpoint(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Orchestrator.EnsureWebhookEndpoint(r.Context(), h.deps.Config)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	h.writeJSONResponse(w, status, res)
}

// POST /v1/admin/portal-configuration
func (h *Handler) adminPortalConfiguration(w http.ResponseWriter, r *http.Request) {
	id, created, err := h.deps.Orchestrator.EnsurePortalConfiguration(r.Context(), h.deps.Config)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSONResponse(w, status, map[string]any{"id": id, "created": created})
}

// POST /v1/admin/entities/{entity_id}/keys
func (h *Handler) adminCreateKey(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entity_id")
	raw, id, err := h.deps.Keys.Create(r.Context(), entityID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, map[string]any{"api_key": raw, "key_id": id, "entity_id": entityID})
}

// POST /v1/admin/keys/{key_id}/revoke
func (h *Handler) adminRevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key_id")
	if err := h.deps.Keys.Revoke(r.Context(), keyID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]any{"status": "revoked", "key_id": keyID})
}
