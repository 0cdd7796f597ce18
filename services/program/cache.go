package program

import (
	"context"
	"sort"
	"sync"
	"time"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/services/event"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "rule_cache_hits_total"})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "rule_cache_miss_total"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMiss)
}

// Source is the read side the evaluation engine depends on.
type Source interface {
	Snapshot(ctx context.Context, tenantID string, trigger event.Trigger) (*RuleSet, error)
}

type RuleSetKey struct {
	TenantID string
	Trigger  event.Trigger
}

// RuleSet holds the active rules for one trigger, ordered by priority
// descending then rule id, and the tenant's active programs by program id.
type RuleSet struct {
	Rules     []*RewardRule
	Programs  map[string]*LoyaltyProgram
	UpdatedAt time.Time
}

func (s *RuleSet) Program(programID string) (*LoyaltyProgram, bool) {
	p, ok := s.Programs[programID]
	return p, ok
}

// CachedSource is a TTL cache over Repository. Concurrent misses for the same
// key share a single load.
type CachedSource struct {
	repo Repository

	mu    sync.RWMutex
	items map[RuleSetKey]*RuleSet
	ttl   time.Duration
	group singleflight.Group
}

type SourceParams struct {
	fx.In

	Repository Repository
	Config     *config.Config `optional:"true"`
}

func NewCachedSource(p SourceParams) *CachedSource {
	ttl := 30 * time.Second
	if p.Config != nil && p.Config.Loyalty.RuleCacheTTL > 0 {
		ttl = p.Config.Loyalty.RuleCacheTTL
	}
	return &CachedSource{
		repo:  p.Repository,
		items: make(map[RuleSetKey]*RuleSet),
		ttl:   ttl,
	}
}

func (c *CachedSource) Snapshot(ctx context.Context, tenantID string, trigger event.Trigger) (*RuleSet, error) {
	key := RuleSetKey{TenantID: tenantID, Trigger: trigger}
	if set, ok := c.get(key); ok {
		cacheHits.Inc()
		return set, nil
	}
	cacheMiss.Inc()

	v, err, _ := c.group.Do(tenantID+"|"+string(trigger), func() (any, error) {
		set, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		c.set(key, set)
		return set, nil
	})
	if err != nil {
		zap.L().Error("failed to load rule set",
			zap.String("tenant_id", tenantID),
			zap.String("trigger", string(trigger)),
			zap.Error(err))
		return nil, err
	}
	return v.(*RuleSet), nil
}

func (c *CachedSource) load(ctx context.Context, key RuleSetKey) (*RuleSet, error) {
	rules, err := c.repo.ActiveRules(ctx, key.TenantID, key.Trigger)
	if err != nil {
		return nil, err
	}
	programs, err := c.repo.ActivePrograms(ctx, key.TenantID)
	if err != nil {
		return nil, err
	}

	SortRules(rules)

	byID := make(map[string]*LoyaltyProgram, len(programs))
	for _, p := range programs {
		if cur, ok := byID[p.ProgramID]; !ok || p.Version > cur.Version {
			byID[p.ProgramID] = p
		}
	}

	return &RuleSet{Rules: rules, Programs: byID, UpdatedAt: time.Now()}, nil
}

// SortRules orders rules by conflict priority descending, then rule id.
func SortRules(rules []*RewardRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		pi, pj := rules[i].ConflictSettings().PriorityRank, rules[j].ConflictSettings().PriorityRank
		if pi != pj {
			return pi > pj
		}
		return rules[i].RuleID < rules[j].RuleID
	})
}

func (c *CachedSource) get(key RuleSetKey) (*RuleSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	if !ok || (c.ttl > 0 && time.Since(v.UpdatedAt) > c.ttl) {
		return nil, false
	}
	return v, true
}

func (c *CachedSource) set(key RuleSetKey, v *RuleSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = v
}

// Invalidate drops every cached rule set of the tenant.
func (c *CachedSource) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if k.TenantID == tenantID {
			delete(c.items, k)
		}
	}
}

// StaticSource serves a fixed rule set. Used by offline simulation.
type StaticSource struct {
	Rules    []*RewardRule
	Programs []*LoyaltyProgram
}

func (s StaticSource) Snapshot(_ context.Context, tenantID string, trigger event.Trigger) (*RuleSet, error) {
	set := &RuleSet{Programs: map[string]*LoyaltyProgram{}, UpdatedAt: time.Now()}
	for _, r := range s.Rules {
		if r.TenantID == tenantID && r.Trigger == trigger && r.Status == StatusActive {
			set.Rules = append(set.Rules, r)
		}
	}
	for _, p := range s.Programs {
		if p.TenantID == tenantID && p.Status == StatusActive {
			set.Programs[p.ProgramID] = p
		}
	}
	SortRules(set.Rules)
	return set, nil
}
