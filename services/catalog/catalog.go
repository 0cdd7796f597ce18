// Package catalog holds the process-wide registries every rule is validated
// against. A Catalog is immutable once built.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type EarningDomain string

const (
	DomainSpend        EarningDomain = "SPEND"
	DomainVisit        EarningDomain = "VISIT"
	DomainReferral     EarningDomain = "REFERRAL"
	DomainSubscription EarningDomain = "SUBSCRIPTION"
	DomainRetention    EarningDomain = "RETENTION"
	DomainEngagement   EarningDomain = "ENGAGEMENT"
	DomainPartner      EarningDomain = "PARTNER"
)

type ConflictGroup string

const (
	GroupBaseEarn       ConflictGroup = "BASE_EARN"
	GroupPromoBonus     ConflictGroup = "PROMO_BONUS"
	GroupTierMultiplier ConflictGroup = "TIER_MULTIPLIER"
	GroupCampaign       ConflictGroup = "CAMPAIGN"
	GroupReferral       ConflictGroup = "REFERRAL"
	GroupPartner        ConflictGroup = "PARTNER"
)

type StackPolicy string

const (
	StackPolicyStack     StackPolicy = "STACK"
	StackPolicyExclusive StackPolicy = "EXCLUSIVE"
	StackPolicyBestOf    StackPolicy = "BEST_OF"
	StackPolicyPriority  StackPolicy = "PRIORITY"
)

var (
	ErrUnknownEarningDomain = errors.New("unknown_earning_domain")
	ErrUnknownConflictGroup = errors.New("unknown_conflict_group")
	ErrUnknownStackPolicy   = errors.New("unknown_stack_policy")
)

type Catalog struct {
	domains  map[EarningDomain]struct{}
	groups   map[ConflictGroup]struct{}
	policies map[StackPolicy]struct{}
}

var defaultCatalog = New(
	[]EarningDomain{DomainSpend, DomainVisit, DomainReferral, DomainSubscription, DomainRetention, DomainEngagement, DomainPartner},
	[]ConflictGroup{GroupBaseEarn, GroupPromoBonus, GroupTierMultiplier, GroupCampaign, GroupReferral, GroupPartner},
)

// Default returns the built-in catalog.
func Default() *Catalog {
	return defaultCatalog
}

// New builds a catalog from operator-supplied domains and groups. Stack
// policies are fixed because the resolver implements exactly these four.
func New(domains []EarningDomain, groups []ConflictGroup) *Catalog {
	c := &Catalog{
		domains:  make(map[EarningDomain]struct{}, len(domains)),
		groups:   make(map[ConflictGroup]struct{}, len(groups)),
		policies: make(map[StackPolicy]struct{}, 4),
	}
	for _, d := range domains {
		c.domains[EarningDomain(strings.ToUpper(string(d)))] = struct{}{}
	}
	for _, g := range groups {
		c.groups[ConflictGroup(strings.ToUpper(string(g)))] = struct{}{}
	}
	for _, p := range []StackPolicy{StackPolicyStack, StackPolicyExclusive, StackPolicyBestOf, StackPolicyPriority} {
		c.policies[p] = struct{}{}
	}
	return c
}

func (c *Catalog) ValidateEarningDomain(d EarningDomain) error {
	if _, ok := c.domains[d]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEarningDomain, d)
	}
	return nil
}

func (c *Catalog) ValidateConflictGroup(g ConflictGroup) error {
	if _, ok := c.groups[g]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownConflictGroup, g)
	}
	return nil
}

func (c *Catalog) ValidateStackPolicy(p StackPolicy) error {
	if _, ok := c.policies[p]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStackPolicy, p)
	}
	return nil
}

func (c *Catalog) EarningDomains() []EarningDomain {
	out := make([]EarningDomain, 0, len(c.domains))
	for d := range c.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Catalog) ConflictGroups() []ConflictGroup {
	out := make([]ConflictGroup, 0, len(c.groups))
	for g := range c.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SelectsSingle reports whether the policy keeps at most one candidate per group.
func (p StackPolicy) SelectsSingle() bool {
	return p == StackPolicyExclusive || p == StackPolicyBestOf || p == StackPolicyPriority
}
