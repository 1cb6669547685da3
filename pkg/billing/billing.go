// Package billing handles inbound Stripe webhook events. There is no
// outbound Stripe client here: checkout and portal sessions are created
// elsewhere, and this package only keeps the tenant's BillingCustomer
// row in sync with subscription lifecycle events.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

var (
	// ErrBadPayload is returned for webhook bodies that do not parse.
	ErrBadPayload = errors.New("billing: malformed webhook payload")
	// ErrUnknownTenant is returned internally when no tenant can be
	// resolved; handlers acknowledge it with 200 to stop retry storms.
	ErrUnknownTenant = errors.New("billing: tenant not resolved")
)

// Handled event types. Everything else is acknowledged and ignored.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// Result is the webhook processing outcome, serialized back to Stripe.
type Result struct {
	Status string `json:"status"` // processed | ignored
	Detail string `json:"detail,omitempty"`
}

// Event is one parsed webhook event.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// subscriptionObject is the slice of a Stripe subscription we consume.
type subscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

// invoiceObject is the slice of a Stripe invoice we consume.
type invoiceObject struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Total    int64             `json:"total"` // cents
	Metadata map[string]string `json:"metadata"`
}

// Store is the persistence surface the webhook processor needs. The
// resolver runs before any tenant binding exists, so it is keyed by
// Stripe customer ID.
type Store interface {
	ResolveTenant(ctx context.Context, stripeCustomerID string) (string, error)
	SaveCustomer(ctx context.Context, c *contracts.BillingCustomer) error
}

// Processor applies webhook events to billing state.
type Processor struct {
	store  Store
	logger *slog.Logger
}

// NewProcessor creates a webhook processor.
func NewProcessor(store Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, logger: logger}
}

// Process applies one event. Unknown event types and unresolvable
// tenants both return an "ignored" result with a nil error: Stripe must
// receive 200 in those cases or it retries forever.
func (p *Processor) Process(ctx context.Context, event *Event) (Result, error) {
	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return p.applySubscription(ctx, event)
	case EventSubscriptionDeleted:
		return p.removeSubscription(ctx, event)
	case EventInvoicePaid, EventInvoiceFailed:
		return p.recordInvoice(ctx, event)
	default:
		return Result{Status: "ignored"}, nil
	}
}

func (p *Processor) applySubscription(ctx context.Context, event *Event) (Result, error) {
	var sub subscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	tenantID, err := p.resolveTenant(ctx, sub.Customer, sub.Metadata)
	if err != nil {
		p.logger.Warn("billing: tenant not resolved, acknowledging",
			"event_id", event.ID, "event_type", event.Type, "customer", sub.Customer)
		return Result{Status: "ignored", Detail: "unknown tenant"}, nil
	}

	customer := &contracts.BillingCustomer{
		TenantID:             tenantID,
		StripeCustomerID:     sub.Customer,
		StripeSubscriptionID: sub.ID,
		PlanTier:             tierFromMetadata(sub.Metadata),
		PeriodStart:          time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		PeriodEnd:            time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	if err := p.store.SaveCustomer(ctx, customer); err != nil {
		return Result{}, fmt.Errorf("billing: save customer: %w", err)
	}
	p.logger.Info("billing: subscription applied",
		"tenant_id", tenantID, "tier", customer.PlanTier, "subscription", sub.ID)
	return Result{Status: "processed"}, nil
}

func (p *Processor) removeSubscription(ctx context.Context, event *Event) (Result, error) {
	var sub subscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	tenantID, err := p.resolveTenant(ctx, sub.Customer, sub.Metadata)
	if err != nil {
		p.logger.Warn("billing: tenant not resolved, acknowledging",
			"event_id", event.ID, "event_type", event.Type, "customer", sub.Customer)
		return Result{Status: "ignored", Detail: "unknown tenant"}, nil
	}

	// Cancellation drops the tenant back to community. The customer
	// linkage is retained so a later resubscription reuses it.
	customer := &contracts.BillingCustomer{
		TenantID:         tenantID,
		StripeCustomerID: sub.Customer,
		PlanTier:         contracts.TierCommunity,
	}
	if err := p.store.SaveCustomer(ctx, customer); err != nil {
		return Result{}, fmt.Errorf("billing: save customer: %w", err)
	}
	p.logger.Info("billing: subscription cancelled, tenant downgraded",
		"tenant_id", tenantID, "subscription", sub.ID)
	return Result{Status: "processed"}, nil
}

func (p *Processor) recordInvoice(ctx context.Context, event *Event) (Result, error) {
	var inv invoiceObject
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	tenantID, err := p.resolveTenant(ctx, inv.Customer, inv.Metadata)
	if err != nil {
		p.logger.Warn("billing: tenant not resolved, acknowledging",
			"event_id", event.ID, "event_type", event.Type, "customer", inv.Customer)
		return Result{Status: "ignored", Detail: "unknown tenant"}, nil
	}

	if event.Type == EventInvoiceFailed {
		p.logger.Warn("billing: invoice payment failed",
			"tenant_id", tenantID, "invoice", inv.ID, "total_cents", inv.Total)
	} else {
		p.logger.Info("billing: invoice paid",
			"tenant_id", tenantID, "invoice", inv.ID, "total_cents", inv.Total)
	}
	return Result{Status: "processed"}, nil
}

// resolveTenant tries the BillingCustomer linkage first, then the
// metadata fallback stamped at checkout creation.
func (p *Processor) resolveTenant(ctx context.Context, stripeCustomerID string, metadata map[string]string) (string, error) {
	if stripeCustomerID != "" {
		if tenantID, err := p.store.ResolveTenant(ctx, stripeCustomerID); err == nil && tenantID != "" {
			return tenantID, nil
		}
	}
	if tenantID := metadata["ironlayer_tenant_id"]; tenantID != "" {
		return tenantID, nil
	}
	return "", ErrUnknownTenant
}

func tierFromMetadata(metadata map[string]string) contracts.PlanTier {
	switch contracts.PlanTier(metadata["ironlayer_tier"]) {
	case contracts.TierTeam:
		return contracts.TierTeam
	case contracts.TierEnterprise:
		return contracts.TierEnterprise
	default:
		return contracts.TierTeam
	}
}

// ParseEvent decodes a webhook body.
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrBadPayload)
	}
	return &event, nil
}
