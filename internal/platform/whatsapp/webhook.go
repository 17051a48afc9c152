package whatsapp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

// Webhook receives Cloud API callbacks. The GET handshake echoes
// hub.challenge when hub.verify_token matches.
type Webhook struct {
	client      *Client
	policy      *relay.Policy
	dispatcher  *relay.Dispatcher
	normalizer  Normalizer
	verifyToken string
	logger      *zap.Logger

	mu       sync.Mutex
	phone    string
	verified bool
	received int64
}

func NewWebhook(client *Client, policy *relay.Policy, dispatcher *relay.Dispatcher, verifyToken string, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		client:      client,
		policy:      policy,
		dispatcher:  dispatcher,
		verifyToken: verifyToken,
		logger:      logger,
	}
}

// Identify resolves the business number so replies to the bot are
// recognised in group chats.
func (h *Webhook) Identify(ctx context.Context) error {
	phone, err := h.client.PhoneNumber(ctx)
	if err != nil {
		return err
	}
	h.setPhone(phone)
	return nil
}

func (h *Webhook) setPhone(phone string) {
	d := digits(phone)
	if d == "" {
		return
	}
	h.mu.Lock()
	changed := h.phone != d
	h.phone = d
	h.mu.Unlock()
	if changed {
		h.policy.SetIdentity(relay.PlatformWhatsAppAPI, relay.Identity{ID: d, Username: d})
		h.logger.Info("whatsapp identity resolved", zap.String("phone", d))
	}
}

func (h *Webhook) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	if q.Get("hub.mode") != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	h.mu.Lock()
	h.verified = true
	h.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

func (h *Webhook) Receive(w http.ResponseWriter, r *http.Request) {
	var p Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.logger.Warn("webhook payload rejected", zap.Error(&relay.IngestError{Platform: relay.PlatformWhatsAppAPI, Err: err}))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	for _, in := range p.Inbound() {
		h.setPhone(in.Metadata.DisplayPhoneNumber)
		h.mu.Lock()
		h.received++
		h.mu.Unlock()
		relay.Ingest[Inbound](r.Context(), h.dispatcher, h.normalizer, in)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func RegisterRoutes(r chi.Router, h *Webhook) {
	r.Get("/webhook/whatsapp", h.Verify)
	r.Post("/webhook/whatsapp", h.Receive)
}

func (h *Webhook) Status() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]any{
		"platform":          string(relay.PlatformWhatsAppAPI),
		"running":           true,
		"phone_number":      h.phone,
		"webhook_verified":  h.verified,
		"messages_received": h.received,
	}
}
