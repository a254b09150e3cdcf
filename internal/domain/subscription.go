package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SubscriptionKind tags which shape a subscription payload arrived in.
type SubscriptionKind int

const (
	// SubscriptionAbsent means the account has no subscription data.
	SubscriptionAbsent SubscriptionKind = iota
	// SubscriptionLegacyPlan is the bare plan identifier shape, e.g. "premium".
	SubscriptionLegacyPlan
	// SubscriptionStructured is the {plan, isActive, endDate, customQuotas} shape.
	SubscriptionStructured
)

func (k SubscriptionKind) String() string {
	switch k {
	case SubscriptionAbsent:
		return "absent"
	case SubscriptionLegacyPlan:
		return "legacy_plan"
	case SubscriptionStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// CustomQuotas holds per-account overrides. A nil or zero field means
// "use the plan default"; -1 is an explicit unlimited override.
type CustomQuotas struct {
	DailyTokenLimit  *int64 `json:"dailyTokenLimit,omitempty"`
	MonthlyCallLimit *int64 `json:"monthlyCallLimit,omitempty"`
	MaxEmailsPerDay  *int64 `json:"maxEmailsPerDay,omitempty"`
}

// SubscriptionRecord is the structured subscription shape.
// IsActive is optional; only an explicit false marks the account inactive.
type SubscriptionRecord struct {
	Plan         PlanID        `json:"plan"`
	IsActive     *bool         `json:"isActive,omitempty"`
	EndDate      *time.Time    `json:"endDate,omitempty"`
	CustomQuotas *CustomQuotas `json:"customQuotas,omitempty"`
}

// Subscription is the subscription data of an account in whichever shape the
// account directory holds it. Use Resolve to obtain the canonical form.
type Subscription struct {
	Kind   SubscriptionKind
	Plan   PlanID              // set for SubscriptionLegacyPlan
	Record *SubscriptionRecord // set for SubscriptionStructured
}

// ResolvedSubscription is the canonical internal shape of a subscription.
type ResolvedSubscription struct {
	Plan         PlanID
	IsActive     bool
	EndDate      *time.Time
	CustomQuotas CustomQuotas
}

// LegacySubscription wraps a bare plan identifier.
func LegacySubscription(plan PlanID) Subscription {
	return Subscription{Kind: SubscriptionLegacyPlan, Plan: plan}
}

// StructuredSubscription wraps a structured subscription record.
func StructuredSubscription(rec SubscriptionRecord) Subscription {
	return Subscription{Kind: SubscriptionStructured, Record: &rec}
}

// ParseSubscription decodes a raw JSON subscription payload. It accepts a JSON
// string (legacy plan identifier), a JSON object (structured record), or
// null/empty input (absent).
func ParseSubscription(raw []byte) (Subscription, error) {
	const op = "subscription.parse"

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Subscription{Kind: SubscriptionAbsent}, nil
	}

	switch raw[0] {
	case '"':
		var plan string
		if err := json.Unmarshal(raw, &plan); err != nil {
			return Subscription{}, Wrap(err, EINVALID, op, "malformed legacy plan identifier")
		}
		plan = strings.TrimSpace(plan)
		if plan == "" {
			return Subscription{Kind: SubscriptionAbsent}, nil
		}
		return LegacySubscription(PlanID(plan)), nil
	case '{':
		var rec SubscriptionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Subscription{}, Wrap(err, EINVALID, op, "malformed subscription record")
		}
		return StructuredSubscription(rec), nil
	default:
		return Subscription{}, Invalid(op, fmt.Sprintf("unsupported subscription payload starting with %q", raw[0]))
	}
}

// Resolve converts any subscription shape into the canonical form.
// Absent data and empty plan identifiers resolve to an active free plan.
func (s Subscription) Resolve() ResolvedSubscription {
	resolved := ResolvedSubscription{Plan: PlanFree, IsActive: true}

	switch s.Kind {
	case SubscriptionLegacyPlan:
		if s.Plan != "" {
			resolved.Plan = s.Plan
		}
	case SubscriptionStructured:
		if s.Record == nil {
			break
		}
		if s.Record.Plan != "" {
			resolved.Plan = s.Record.Plan
		}
		if s.Record.IsActive != nil {
			resolved.IsActive = *s.Record.IsActive
		}
		resolved.EndDate = s.Record.EndDate
		if s.Record.CustomQuotas != nil {
			resolved.CustomQuotas = *s.Record.CustomQuotas
		}
	}
	return resolved
}

// Expired reports whether the subscription is inactive or past its end date.
func (r ResolvedSubscription) Expired(now time.Time) bool {
	if !r.IsActive {
		return true
	}
	return r.EndDate != nil && r.EndDate.Before(now)
}

// MarshalJSON encodes the subscription back into the shape it was read in.
func (s Subscription) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case SubscriptionLegacyPlan:
		return json.Marshal(string(s.Plan))
	case SubscriptionStructured:
		return json.Marshal(s.Record)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts either legacy shape.
func (s *Subscription) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSubscription(data)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }
