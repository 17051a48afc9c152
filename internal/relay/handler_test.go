package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vovarama1992/relay-ai-bridge/internal/ai"
)

func newTestRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t, Options{})
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(f.svc, "relay-ai-bridge", "1.0.0"))
	return r, f
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestHandlerRootPingHealth(t *testing.T) {
	h, f := newTestRouter(t)
	f.svc.RegisterStatus(PlatformDiscord, func() map[string]any { return map[string]any{"running": true} })

	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode(t, rec)
	assert.Equal(t, "relay-ai-bridge", root["service"])
	assert.Equal(t, "running", root["status"])
	assert.Contains(t, root["platforms"], "discord")

	rec = do(t, h, http.MethodGet, "/ping", "")
	assert.Equal(t, "pong", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	f.store.pingErr = errors.New("down")
	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestHandlerChat(t *testing.T) {
	h, f := newTestRouter(t)
	f.ai.reply = func(context.Context, []ai.Message) (string, error) { return "pong", nil }

	rec := do(t, h, http.MethodPost, "/chat", `{"message":"ping","session_id":"web-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "pong", resp["response"])
	assert.Equal(t, "web-1", resp["session_id"])
	assert.Equal(t, true, resp["success"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/chat", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/chat", `{"message":"x","session_id":"s","platform":"irc"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/chat", `{"message":"","session_id":"s"}`).Code)

	f.ai.reply = func(context.Context, []ai.Message) (string, error) { return "", errors.New("boom") }
	rec = do(t, h, http.MethodPost, "/chat", `{"message":"ping","session_id":"web-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestHandlerSessions(t *testing.T) {
	h, f := newTestRouter(t)
	require.NoError(t, f.store.Append(context.Background(), "telegram:direct:1:2",
		Turn{Role: RoleUser, Content: "hi", Platform: PlatformTelegram},
		Turn{Role: RoleAssistant, Content: "hello", Platform: PlatformTelegram},
	))

	rec := do(t, h, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.Equal(t, []any{"telegram:direct:1:2"}, list["sessions"])
	assert.Equal(t, float64(1), list["count"])

	rec = do(t, h, http.MethodGet, "/sessions/count", "")
	assert.Equal(t, float64(1), decode(t, rec)["active_sessions"])

	rec = do(t, h, http.MethodGet, "/session/telegram:direct:1:2", "")
	sum := decode(t, rec)
	assert.Equal(t, true, sum["exists"])
	assert.Equal(t, float64(2), sum["message_count"])

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/session/telegram:direct:1:2", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/session/telegram:direct:1:2", "").Code)

	rec = do(t, h, http.MethodGet, "/session/telegram:direct:1:2", "")
	assert.Equal(t, false, decode(t, rec)["exists"])
}

func TestHandlerStoreFailures(t *testing.T) {
	h, f := newTestRouter(t)
	f.store.listErr = errors.New("down")
	f.store.clearErr = errors.New("down")

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/sessions", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/sessions/count", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodDelete, "/session/x", "").Code)
}

func TestHandlerPlatformStatus(t *testing.T) {
	h, f := newTestRouter(t)
	f.svc.RegisterStatus(PlatformWhatsAppWeb, func() map[string]any {
		return map[string]any{"platform": "whatsapp_web", "polls": 3}
	})

	rec := do(t, h, http.MethodGet, "/platforms/whatsapp_web/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["polls"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/platforms/discord/status", "").Code)
}
