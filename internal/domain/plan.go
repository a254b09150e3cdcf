// Package domain contains core business types and interfaces.
//
// This file defines the plan catalog: the static table mapping a plan
// identifier to its default limits.
package domain

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// PlanID identifies a subscription plan.
type PlanID string

const (
	PlanFree       PlanID = "free"
	PlanBasic      PlanID = "basic"
	PlanPremium    PlanID = "premium"
	PlanEnterprise PlanID = "enterprise"
)

// Unlimited is the sentinel used for a limit or remaining count with no cap.
const Unlimited int64 = -1

// Plan holds the default limits of a plan.
type Plan struct {
	ID               PlanID `json:"id" yaml:"id"`
	DisplayName      string `json:"displayName" yaml:"display_name"`
	DailyTokenLimit  int64  `json:"dailyTokenLimit" yaml:"daily_token_limit"`
	MonthlyCallLimit int64  `json:"monthlyCallLimit" yaml:"monthly_call_limit"`
	MaxEmailsPerDay  int64  `json:"maxEmailsPerDay" yaml:"max_emails_per_day"`
}

// PlanCatalog is an immutable lookup table of plans.
// It is safe for concurrent reads.
type PlanCatalog struct {
	plans map[PlanID]Plan
}

// defaultPlans is the built-in catalog.
var defaultPlans = []Plan{
	{ID: PlanFree, DisplayName: "Free", DailyTokenLimit: 10000, MonthlyCallLimit: 100, MaxEmailsPerDay: 20},
	{ID: PlanBasic, DisplayName: "Basic", DailyTokenLimit: 50000, MonthlyCallLimit: 1000, MaxEmailsPerDay: 100},
	{ID: PlanPremium, DisplayName: "Premium", DailyTokenLimit: 200000, MonthlyCallLimit: 10000, MaxEmailsPerDay: 500},
	{ID: PlanEnterprise, DisplayName: "Enterprise", DailyTokenLimit: 1000000, MonthlyCallLimit: Unlimited, MaxEmailsPerDay: Unlimited},
}

// DefaultPlanCatalog returns the built-in plan catalog.
func DefaultPlanCatalog() *PlanCatalog {
	c, err := NewPlanCatalog(defaultPlans)
	if err != nil {
		panic(fmt.Sprintf("domain: invalid built-in plan catalog: %v", err))
	}
	return c
}

// NewPlanCatalog validates plans and builds a catalog.
// The catalog must contain the free plan, which is the fallback for unknown ids.
func NewPlanCatalog(plans []Plan) (*PlanCatalog, error) {
	const op = "plan.new_catalog"

	titler := cases.Title(language.English)
	m := make(map[PlanID]Plan, len(plans))
	for i, p := range plans {
		if p.ID == "" {
			return nil, Invalid(op, fmt.Sprintf("plans[%d]: id is required", i))
		}
		if _, dup := m[p.ID]; dup {
			return nil, Invalid(op, fmt.Sprintf("duplicate plan id %q", p.ID))
		}
		for name, v := range map[string]int64{
			"daily_token_limit":  p.DailyTokenLimit,
			"monthly_call_limit": p.MonthlyCallLimit,
			"max_emails_per_day": p.MaxEmailsPerDay,
		} {
			if v < Unlimited {
				return nil, Invalid(op, fmt.Sprintf("plan %q: %s must be >= -1, got %d", p.ID, name, v))
			}
		}
		if p.DisplayName == "" {
			p.DisplayName = titler.String(string(p.ID))
		}
		m[p.ID] = p
	}
	if _, ok := m[PlanFree]; !ok {
		return nil, Invalid(op, "catalog must define the free plan")
	}
	return &PlanCatalog{plans: m}, nil
}

// planFile is the on-disk layout of a plan catalog override.
type planFile struct {
	Plans []Plan `yaml:"plans"`
}

// LoadPlanCatalog reads a YAML plan catalog.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadPlanCatalog(path string) (*PlanCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}

	var f planFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	return NewPlanCatalog(f.Plans)
}

// Resolve returns the plan for id, falling back to the free plan for unknown ids.
func (c *PlanCatalog) Resolve(id PlanID) Plan {
	if p, ok := c.plans[id]; ok {
		return p
	}
	return c.plans[PlanFree]
}

// Lookup returns the plan for id and whether it exists.
func (c *PlanCatalog) Lookup(id PlanID) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// Plans returns a copy of all plans ordered by daily token limit, then id.
func (c *PlanCatalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DailyTokenLimit != out[j].DailyTokenLimit {
			return out[i].DailyTokenLimit < out[j].DailyTokenLimit
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IsUnlimitedTier reports whether the plan bypasses every limit.
func (id PlanID) IsUnlimitedTier() bool {
	return id == PlanEnterprise
}
