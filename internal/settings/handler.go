package settings

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// ValueRequest is the body of PUT /api/v1/settings/{key}.
type ValueRequest struct {
	Value string `json:"value"`
}

// Handler provides HTTP handlers for settings endpoints.
type Handler struct {
	settings Repository
	logger   *zap.Logger
}

// NewHandler creates a settings Handler.
func NewHandler(settings Repository, logger *zap.Logger) *Handler {
	return &Handler{settings: settings, logger: logger}
}

// RegisterRoutes registers settings routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/settings", h.handleList)
	mux.HandleFunc("GET /api/v1/settings/{key}", h.handleGet)
	mux.HandleFunc("PUT /api/v1/settings/{key}", h.handleSet)
	mux.HandleFunc("DELETE /api/v1/settings/{key}", h.handleDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.All(r.Context())
	if err != nil {
		h.logger.Error("failed to list settings", zap.Error(err))
		writeSettingsError(w, http.StatusInternalServerError, "failed to list settings")
		return
	}
	if all == nil {
		all = []Setting{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	s, err := h.settings.Get(r.Context(), key)
	if errors.Is(err, ErrNotFound) {
		writeSettingsError(w, http.StatusNotFound, "setting not found: "+key)
		return
	}
	if err != nil {
		h.logger.Error("failed to get setting", zap.String("key", key), zap.Error(err))
		writeSettingsError(w, http.StatusInternalServerError, "failed to get setting")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req ValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSettingsError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.settings.Set(r.Context(), key, req.Value); err != nil {
		h.logger.Error("failed to set setting", zap.String("key", key), zap.Error(err))
		writeSettingsError(w, http.StatusInternalServerError, "failed to save setting")
		return
	}
	s, err := h.settings.Get(r.Context(), key)
	if err != nil {
		writeSettingsError(w, http.StatusInternalServerError, "failed to read back setting")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.settings.Delete(r.Context(), key); err != nil {
		h.logger.Error("failed to delete setting", zap.String("key", key), zap.Error(err))
		writeSettingsError(w, http.StatusInternalServerError, "failed to delete setting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSettingsError writes an RFC 7807 problem response.
func writeSettingsError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://stbemu.dev/problems/settings-error",
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
