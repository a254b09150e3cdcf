// Package billing provides the Stripe integration that feeds subscription
// state into quota synchronization.
package billing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/DukeRupert/quotagate/internal/domain"
)

// Metadata keys on a Stripe subscription that carry per-account overrides.
const (
	MetadataDailyTokenLimit  = "daily_token_limit"
	MetadataMonthlyCallLimit = "monthly_call_limit"
	MetadataMaxEmailsPerDay  = "max_emails_per_day"
)

// Service defines the interface for billing operations.
type Service interface {
	// GetSubscription retrieves a Stripe subscription by ID.
	GetSubscription(subscriptionID string) (*stripe.Subscription, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// PlanForPriceID returns the quota plan for a Stripe price ID, or "" if
	// the price is not mapped.
	PlanForPriceID(priceID string) domain.PlanID
}

// PriceConfig holds the Stripe price IDs for each paid plan.
type PriceConfig struct {
	BasicMonthlyPriceID      string
	BasicYearlyPriceID       string
	PremiumMonthlyPriceID    string
	PremiumYearlyPriceID     string
	EnterpriseMonthlyPriceID string
	EnterpriseYearlyPriceID  string
}

// planByPrice builds the price -> plan lookup, skipping unset prices.
func (p PriceConfig) planByPrice() map[string]domain.PlanID {
	m := make(map[string]domain.PlanID)
	add := func(priceID string, plan domain.PlanID) {
		if priceID != "" {
			m[priceID] = plan
		}
	}
	add(p.BasicMonthlyPriceID, domain.PlanBasic)
	add(p.BasicYearlyPriceID, domain.PlanBasic)
	add(p.PremiumMonthlyPriceID, domain.PlanPremium)
	add(p.PremiumYearlyPriceID, domain.PlanPremium)
	add(p.EnterpriseMonthlyPriceID, domain.PlanEnterprise)
	add(p.EnterpriseYearlyPriceID, domain.PlanEnterprise)
	return m
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	priceToPlan   map[string]domain.PlanID
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The webhookSecret is used to verify incoming webhook signatures.
// The prices configure which Stripe price IDs map to which plans.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	return &stripeService{
		webhookSecret: webhookSecret,
		priceToPlan:   prices.planByPrice(),
	}
}

func (s *stripeService) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}
	return sub, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) PlanForPriceID(priceID string) domain.PlanID {
	return s.priceToPlan[priceID]
}

// =============================================================================
// Subscription mapping
// =============================================================================

// SubscriptionFromStripe converts a Stripe subscription into the structured
// subscription shape. planFor maps price IDs to plans; the first mapped item
// wins. A subscription with no mapped price resolves to the free plan.
func SubscriptionFromStripe(sub *stripe.Subscription, planFor func(string) domain.PlanID) domain.Subscription {
	rec := domain.SubscriptionRecord{
		Plan:     planFromItems(sub, planFor),
		IsActive: domain.BoolPtr(isActiveStatus(sub.Status)),
	}

	switch {
	case sub.CancelAt > 0:
		end := time.Unix(sub.CancelAt, 0).UTC()
		rec.EndDate = &end
	case sub.EndedAt > 0:
		end := time.Unix(sub.EndedAt, 0).UTC()
		rec.EndDate = &end
	}

	if quotas := customQuotasFromMetadata(sub.Metadata); quotas != nil {
		rec.CustomQuotas = quotas
	}
	return domain.StructuredSubscription(rec)
}

func planFromItems(sub *stripe.Subscription, planFor func(string) domain.PlanID) domain.PlanID {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if plan := planFor(item.Price.ID); plan != "" {
			return plan
		}
	}
	return ""
}

func isActiveStatus(status stripe.SubscriptionStatus) bool {
	return status == stripe.SubscriptionStatusActive || status == stripe.SubscriptionStatusTrialing
}

// customQuotasFromMetadata reads override limits. Values that do not parse
// as integers are ignored.
func customQuotasFromMetadata(md map[string]string) *domain.CustomQuotas {
	var q domain.CustomQuotas
	found := false
	read := func(key string, dst **int64) {
		raw, ok := md[key]
		if !ok {
			return
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return
		}
		*dst = &v
		found = true
	}
	read(MetadataDailyTokenLimit, &q.DailyTokenLimit)
	read(MetadataMonthlyCallLimit, &q.MonthlyCallLimit)
	read(MetadataMaxEmailsPerDay, &q.MaxEmailsPerDay)
	if !found {
		return nil
	}
	return &q
}

// =============================================================================
// StripeDirectory
// =============================================================================

// SubscriptionResolver finds the Stripe subscription linked to an account.
// It returns "" when the account exists without a subscription.
type SubscriptionResolver interface {
	SubscriptionID(ctx context.Context, accountID string) (string, error)
}

// StripeDirectory is an account directory that reads subscription state
// live from Stripe.
type StripeDirectory struct {
	billing  Service
	accounts SubscriptionResolver
}

// NewStripeDirectory creates a StripeDirectory.
func NewStripeDirectory(billing Service, accounts SubscriptionResolver) *StripeDirectory {
	return &StripeDirectory{billing: billing, accounts: accounts}
}

// GetSubscription returns the account's current Stripe subscription.
// Accounts without a subscription report absent data.
func (d *StripeDirectory) GetSubscription(ctx context.Context, accountID string) (domain.Subscription, error) {
	const op = "stripe_directory.get_subscription"

	subID, err := d.accounts.SubscriptionID(ctx, accountID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if subID == "" {
		return domain.Subscription{}, nil
	}

	sub, err := d.billing.GetSubscription(subID)
	if err != nil {
		return domain.Subscription{}, domain.Unavailable(err, op, "failed to fetch subscription from Stripe")
	}
	return SubscriptionFromStripe(sub, d.billing.PlanForPriceID), nil
}
