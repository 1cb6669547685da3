package api

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ironlayer/ironlayer/pkg/billing"
	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/repository"
	"github.com/ironlayer/ironlayer/pkg/tiers"
)

// handleBillingPlans serves the static tier catalog.
func (s *Server) handleBillingPlans(w http.ResponseWriter, r *http.Request) {
	catalog := make([]tiers.Tier, 0, len(tiers.AllTiers))
	for _, id := range []tiers.TierID{tiers.TierCommunity, tiers.TierTeam, tiers.TierEnterprise} {
		catalog = append(catalog, tiers.AllTiers[id])
	}
	WriteJSON(w, http.StatusOK, map[string]any{"plans": catalog})
}

// BillingStore adapts the repository layer to the billing processor.
// Webhook events arrive before any tenant is known, so resolution runs
// over the bare handle; writes bind to the resolved tenant.
type BillingStore struct {
	DB      *sql.DB
	Dialect repository.Dialect
}

// ResolveTenant maps a Stripe customer ID to a tenant.
func (b *BillingStore) ResolveTenant(ctx context.Context, stripeCustomerID string) (string, error) {
	return repository.TenantByStripeCustomer(ctx, b.DB, b.Dialect, stripeCustomerID)
}

// SaveCustomer upserts the tenant's billing linkage.
func (b *BillingStore) SaveCustomer(ctx context.Context, c *contracts.BillingCustomer) error {
	repos, err := repository.New(b.DB, b.Dialect, c.TenantID)
	if err != nil {
		return err
	}
	return repos.Tenants.SaveBillingCustomer(ctx, c)
}

// WebhookHandler verifies and processes Stripe webhooks. It bypasses
// bearer auth; authenticity comes from the signature header.
type WebhookHandler struct {
	processor *billing.Processor
	secret    string
	logger    *slog.Logger
	now       func() time.Time
}

// NewWebhookHandler builds the webhook endpoint handler.
func NewWebhookHandler(processor *billing.Processor, secret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{processor: processor, secret: secret, logger: logger, now: time.Now}
}

// WithWebhookClock overrides the signature tolerance clock.
func (h *WebhookHandler) WithWebhookClock(now func() time.Time) *WebhookHandler {
	h.now = now
	return h
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		WriteBadRequest(w, "Unreadable payload")
		return
	}
	if err := billing.VerifySignature(payload, r.Header.Get("Stripe-Signature"), h.secret, h.now()); err != nil {
		if errors.Is(err, billing.ErrSignatureExpired) {
			WriteBadRequest(w, "Webhook signature timestamp outside tolerance")
			return
		}
		WriteBadRequest(w, "Invalid webhook signature")
		return
	}
	event, err := billing.ParseEvent(payload)
	if err != nil {
		WriteBadRequest(w, "Malformed webhook event")
		return
	}
	result, err := h.processor.Process(r.Context(), event)
	if err != nil {
		// Processing errors return 500 so Stripe retries; unknown
		// tenants and unhandled event types come back as "ignored"
		// with a nil error and must be acknowledged.
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
