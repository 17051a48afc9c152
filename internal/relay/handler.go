package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc     Service
	name    string
	version string
}

func NewHandler(svc Service, name, version string) *Handler {
	return &Handler{svc: svc, name: name, version: version}
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	health := h.svc.Health(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   h.name,
		"version":   h.version,
		"status":    "running",
		"platforms": health.Platforms,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.svc.Health(r.Context())
	status := http.StatusOK
	if !health.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Platform != "" && !req.Platform.Valid() {
		http.Error(w, "unknown platform", http.StatusBadRequest)
		return
	}

	resp, err := h.svc.Chat(r.Context(), req)
	if errors.Is(err, ErrInvalidRequest) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, h.svc.SessionSummary(r.Context(), id))
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existed, err := h.svc.ClearSession(r.Context(), id)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if !existed {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "cleared": true})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.ListSessions(r.Context())
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids, "count": len(ids)})
}

func (h *Handler) CountSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.ListSessions(r.Context())
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_sessions": len(ids)})
}

func (h *Handler) PlatformStatus(w http.ResponseWriter, r *http.Request) {
	p := Platform(chi.URLParam(r, "platform"))
	health := h.svc.Health(r.Context())
	st, ok := health.Platforms[p]
	if !ok {
		http.Error(w, "platform not configured", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
