package relay

import "github.com/go-chi/chi/v5"

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/", h.Root)
	r.Get("/ping", h.Ping)
	r.Get("/health", h.Health)

	r.Post("/chat", h.Chat)

	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/count", h.CountSessions)
	r.Get("/session/{id}", h.GetSession)
	r.Delete("/session/{id}", h.DeleteSession)

	r.Get("/platforms/{platform}/status", h.PlatformStatus)
}
