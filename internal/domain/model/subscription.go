package model

import "time"

type SubscriptionTier string

const (
	TierFree     SubscriptionTier = "free"
	TierMessages SubscriptionTier = "messages"
	TierPro      SubscriptionTier = "pro"
)

func (t SubscriptionTier) Valid() bool {
	return t == TierFree || t == TierMessages || t == TierPro
}

type SubscriptionStatus string

const (
	SubscriptionStatusNone      SubscriptionStatus = ""
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// BillingInterval is the plan a subscription price id maps to.
type BillingInterval string

const (
	PlanMonthly   BillingInterval = "monthly"
	PlanQuarterly BillingInterval = "quarterly"
	PlanYearly    BillingInterval = "yearly"
)

// SubscriptionState is the recurring-billing state embedded in a user.
// EndDate is always the end of the current paid period; CancelAtPeriodEnd
// only records the request, Tier flips when the gateway deletes the subscription.
type SubscriptionState struct {
	StripeSubscriptionID string
	StripeCustomerID     string
	Tier                 SubscriptionTier
	Status               SubscriptionStatus
	Plan                 BillingInterval
	StartDate            *time.Time
	EndDate              *time.Time
	CancelAtPeriodEnd    bool
}

func FreeSubscription() SubscriptionState {
	return SubscriptionState{Tier: TierFree}
}

// PriceCatalog maps configured gateway price ids to billing intervals.
type PriceCatalog struct {
	Monthly   string
	Quarterly string
	Yearly    string
}

// PlanFor returns the interval for priceID. Unknown prices fall back to
// monthly, which is the default plan.
func (c PriceCatalog) PlanFor(priceID string) BillingInterval {
	switch {
	case priceID != "" && priceID == c.Quarterly:
		return PlanQuarterly
	case priceID != "" && priceID == c.Yearly:
		return PlanYearly
	default:
		return PlanMonthly
	}
}

// Known reports whether priceID is one of the configured prices.
func (c PriceCatalog) Known(priceID string) bool {
	if priceID == "" {
		return false
	}
	return priceID == c.Monthly || priceID == c.Quarterly || priceID == c.Yearly
}
