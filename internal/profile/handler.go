package profile

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"go.uber.org/zap"
)

// CreateRequest is the body of POST /api/v1/profiles.
type CreateRequest struct {
	ClassID   string `json:"class_id"`
	Submodel  string `json:"submodel"`
	Name      string `json:"name"`
	Overwrite bool   `json:"overwrite"`
}

// NavigationResponse is returned by the back and main endpoints.
type NavigationResponse struct {
	Active  *Info  `json:"active"`
	Moved   bool   `json:"moved"`
	Stack   []Info `json:"stack"`
	CanBack bool   `json:"can_go_back"`
}

// Handler provides HTTP handlers for profile endpoints.
type Handler struct {
	store    *Store
	switcher *Switcher
	logger   *zap.Logger
}

// NewHandler creates a profile Handler.
func NewHandler(store *Store, switcher *Switcher, logger *zap.Logger) *Handler {
	return &Handler{store: store, switcher: switcher, logger: logger}
}

// RegisterRoutes registers profile routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/profiles", h.handleList)
	mux.HandleFunc("POST /api/v1/profiles", h.handleCreate)
	mux.HandleFunc("GET /api/v1/profiles/classes", h.handleClasses)
	mux.HandleFunc("GET /api/v1/profiles/active", h.handleActive)
	mux.HandleFunc("POST /api/v1/profiles/back", h.handleBack)
	mux.HandleFunc("POST /api/v1/profiles/main", h.handleMain)
	mux.HandleFunc("DELETE /api/v1/profiles/{id}", h.handleRemove)
	mux.HandleFunc("POST /api/v1/profiles/{id}/activate", h.handleActivate)
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	active := h.switcher.Active()
	all := h.store.Profiles()
	out := make([]Info, 0, len(all))
	for _, p := range all {
		out = append(out, p.Info(p == active))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClassID == "" {
		writeError(w, http.StatusBadRequest, "class_id is required")
		return
	}
	p, err := h.store.Create(r.Context(), req.ClassID, req.Submodel, req.Name, req.Overwrite)
	if errors.Is(err, plugin.ErrUnknownProfileClass) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to create profile", zap.String("class", req.ClassID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create profile")
		return
	}
	writeJSON(w, http.StatusCreated, p.Info(false))
}

func (h *Handler) handleClasses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Classes())
}

func (h *Handler) handleActive(w http.ResponseWriter, _ *http.Request) {
	p := h.switcher.Active()
	if p == nil {
		writeError(w, http.StatusNotFound, "no active profile")
		return
	}
	writeJSON(w, http.StatusOK, p.Info(true))
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := h.store.FindByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "profile not found: "+id)
		return
	}
	if err := h.switcher.SetActive(r.Context(), p); err != nil {
		// The profile can vanish between lookup and switch.
		if errors.Is(err, plugin.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to activate profile")
		return
	}
	writeJSON(w, http.StatusOK, p.Info(true))
}

func (h *Handler) handleBack(w http.ResponseWriter, r *http.Request) {
	_, moved := h.switcher.BackToPrevious(r.Context())
	writeJSON(w, http.StatusOK, h.navigation(moved))
}

func (h *Handler) handleMain(w http.ResponseWriter, r *http.Request) {
	if err := h.switcher.BackToMain(r.Context()); err != nil {
		h.logger.Warn("failed to return to main profile", zap.Error(err))
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.navigation(true))
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := h.store.FindByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "profile not found: "+id)
		return
	}
	err := h.switcher.Delete(r.Context(), p)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, plugin.ErrProfileActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, plugin.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "profile not found: "+id)
	default:
		h.logger.Error("failed to remove profile", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to remove profile")
	}
}

func (h *Handler) navigation(moved bool) NavigationResponse {
	resp := NavigationResponse{Moved: moved, Stack: []Info{}, CanBack: h.switcher.CanGoBack()}
	active := h.switcher.Active()
	if active != nil {
		info := active.Info(true)
		resp.Active = &info
	}
	for _, p := range h.switcher.Stack() {
		resp.Stack = append(resp.Stack, p.Info(p == active))
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an RFC 7807 problem detail response.
func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://stbemu.dev/problems/profile-error",
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
