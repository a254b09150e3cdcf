// This file implements the Stripe webhook handler that keeps quota limits in
// step with subscription changes.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v79"

	"github.com/DukeRupert/quotagate/internal/billing"
	"github.com/DukeRupert/quotagate/internal/domain"
	"github.com/DukeRupert/quotagate/internal/metrics"
)

// maxWebhookBody limits the webhook payload size.
const maxWebhookBody = 65536

// SubscriptionUpdater stores a subscription against the account that owns
// a Stripe customer and returns that account's id.
type SubscriptionUpdater interface {
	UpdateSubscriptionByCustomer(ctx context.Context, customerID, subscriptionID string, sub domain.Subscription) (string, error)
}

// AccountSyncer re-synchronizes an account's quota record.
type AccountSyncer interface {
	Sync(ctx context.Context, accountID string) (*domain.Snapshot, error)
}

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing   billing.Service
	directory SubscriptionUpdater
	quotas    AccountSyncer
	logger    *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, directory SubscriptionUpdater, quotas AccountSyncer, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:   billingService,
		directory: directory,
		quotas:    quotas,
		logger:    logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are public; Stripe authenticates with the signature header.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
//
// Subscription lifecycle events update the account directory and re-sync the
// account's quota record. A failure to apply the change returns 500 so that
// Stripe redelivers the event.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Verify signature
	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		metrics.WebhookReceived("unknown", "rejected")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	eventType := string(event.Type)
	h.logger.Info("stripe webhook received", "type", eventType, "id", event.ID)

	// Route to event-specific handler
	switch eventType {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		err = h.processSubscriptionEvent(r.Context(), event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", eventType)
		metrics.WebhookReceived(eventType, "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err != nil {
		metrics.WebhookReceived(eventType, "failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	metrics.WebhookReceived(eventType, "processed")
	w.WriteHeader(http.StatusOK)
}

// processSubscriptionEvent applies a subscription change. Events for unknown
// customers are acknowledged and dropped.
func (h *WebhookHandler) processSubscriptionEvent(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if event.Data == nil {
		h.logger.Warn("subscription event has no data", "event_id", event.ID)
		return nil
	}
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err, "event_id", event.ID)
		return nil
	}

	if sub.Customer == nil {
		h.logger.Warn("subscription event missing customer", "subscription_id", sub.ID)
		return nil
	}

	mapped := billing.SubscriptionFromStripe(&sub, h.billing.PlanForPriceID)
	accountID, err := h.directory.UpdateSubscriptionByCustomer(ctx, sub.Customer.ID, sub.ID, mapped)
	if domain.IsNotFound(err) {
		h.logger.Warn("account not found for subscription event",
			"customer_id", sub.Customer.ID, "subscription_id", sub.ID)
		return nil
	}
	if err != nil {
		h.logger.Error("failed to update subscription",
			"error", err, "customer_id", sub.Customer.ID, "subscription_id", sub.ID)
		return err
	}

	snap, err := h.quotas.Sync(ctx, accountID)
	if err != nil {
		h.logger.Error("failed to sync quota after subscription change",
			"error", err, "account_id", accountID)
		return err
	}

	h.logger.Info("subscription event processed",
		"account_id", accountID,
		"status", sub.Status,
		"plan", snap.Plan,
		"blocked", snap.Blocked,
	)
	return nil
}
