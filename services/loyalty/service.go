package loyalty

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/featureflags"
	"smallbiznis-loyalty/pkg/lock"
	"smallbiznis-loyalty/services/catalog"
	"smallbiznis-loyalty/services/conflict"
	"smallbiznis-loyalty/services/eligibility"
	"smallbiznis-loyalty/services/event"
	"smallbiznis-loyalty/services/formula"
	"smallbiznis-loyalty/services/idempotency"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/program"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrIntegrity marks a stored rule that violates a construction-time
// invariant. It is never retried.
var ErrIntegrity = errors.New("rule_integrity_violation")

var tracer = otel.Tracer("smallbiznis-loyalty/services/loyalty")

// Ledger is the part of the points ledger the engine reads and writes.
type Ledger interface {
	FindByIdempotencyKeys(ctx context.Context, tenantID string, keys []string) (map[string]*ledger.PointsTransaction, error)
	EarningsInPeriod(ctx context.Context, q ledger.EarningsQuery) ([]*ledger.PointsTransaction, error)
	AppendBatch(ctx context.Context, txs []*ledger.PointsTransaction) ([]ledger.AppendResult, error)
}

type Engine struct {
	source   program.Source
	ledger   Ledger
	catalog  *catalog.Catalog
	locker   lock.Locker
	flags    featureflags.FeatureFlag
	filter   eligibility.Filter
	tieBreak conflict.TieBreak
}

type EngineParams struct {
	fx.In

	Source  program.Source
	Ledger  Ledger
	Catalog *catalog.Catalog
	Config  *config.Config           `optional:"true"`
	Locker  lock.Locker              `optional:"true"`
	Flags   featureflags.FeatureFlag `optional:"true"`
}

func NewEngine(p EngineParams) *Engine {
	tb := conflict.TieBreakLowestRuleID
	if p.Config != nil {
		parsed, err := conflict.ParseTieBreak(p.Config.Loyalty.TieBreak)
		if err != nil {
			zap.L().Warn("invalid tie-break, using default", zap.String("tie_break", p.Config.Loyalty.TieBreak), zap.Error(err))
		} else {
			tb = parsed
		}
	}
	c := p.Catalog
	if c == nil {
		c = catalog.Default()
	}
	return &Engine{
		source:   p.Source,
		ledger:   p.Ledger,
		catalog:  c,
		locker:   p.Locker,
		flags:    p.Flags,
		tieBreak: tb,
	}
}

func integrity(rule *program.RewardRule, err error) error {
	return errutil.Internal("rule integrity violation",
		fmt.Errorf("%w: rule %s v%d: %v", ErrIntegrity, rule.RuleID, rule.Version, err))
}

// candidate carries the rule behind a conflict.Candidate through resolution.
type candidate struct {
	rule    *program.RewardRule
	program *program.LoyaltyProgram
	conflict.Candidate
}

// ProcessEvent evaluates ev against the tenant's active rules and appends the
// surviving awards. Replaying the same event derives the same keys and
// returns the same totals without writing new rows.
func (e *Engine) ProcessEvent(ctx context.Context, ev event.Event) (*Result, error) {
	ctx, span := tracer.Start(ctx, "loyalty.ProcessEvent", trace.WithAttributes(
		attribute.String("tenant_id", ev.TenantID),
		attribute.String("source_event_id", ev.SourceEventID),
		attribute.String("event_type", string(ev.EventType)),
	))
	defer span.End()

	started := time.Now()
	defer func() { evaluationSeconds.Observe(time.Since(started).Seconds()) }()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", ev.TenantID),
		zap.String("membership_id", ev.MembershipID),
		zap.String("source_event_id", ev.SourceEventID),
	)

	if err := ev.Validate(); err != nil {
		eventsProcessed.WithLabelValues("rejected").Inc()
		return nil, err
	}
	ev.OccurredAt = ev.OccurredAt.UTC()

	if e.locker != nil {
		unlock, err := e.locker.Acquire(ctx, ev.TenantID, ev.MembershipID)
		if err != nil {
			zapLog.Warn("failed to acquire membership lock", zap.Error(err))
			return nil, errutil.ServiceUnavailable("membership is busy, retry later", err)
		}
		defer func() { _ = unlock(context.WithoutCancel(ctx)) }()
	}

	res, err := e.process(ctx, ev)
	if err != nil {
		span.RecordError(err)
		outcome := "failed"
		if errors.Is(err, ErrIntegrity) {
			outcome = "integrity"
			zapLog.Error("rule integrity violation", zap.Error(err))
		} else {
			zapLog.Error("failed to process event", zap.Error(err))
		}
		eventsProcessed.WithLabelValues(outcome).Inc()
		return nil, err
	}

	eventsProcessed.WithLabelValues("processed").Inc()
	zapLog.Info("event processed",
		zap.Int("transactions_created", len(res.TransactionsCreated)),
		zap.Int64("total_points", res.TotalPointsAwarded),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

func (e *Engine) process(ctx context.Context, ev event.Event) (*Result, error) {
	res := &Result{
		EventID:             ev.SourceEventID,
		MembershipID:        ev.MembershipID,
		ProgramsProcessed:   []string{},
		TransactionsCreated: []*ledger.PointsTransaction{},
		Evaluations:         []Evaluation{},
		Skipped:             []Skip{},
		Warnings:            []string{},
	}

	set, err := e.source.Snapshot(ctx, ev.TenantID, ev.EventType)
	if err != nil {
		return nil, err
	}

	cands, err := e.candidates(ev, set, res)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return res, nil
	}

	cands, err = e.markPersisted(ctx, ev, cands, res)
	if err != nil {
		return nil, err
	}
	cands, err = e.applyHistory(ctx, ev, cands, res)
	if err != nil {
		return nil, err
	}

	outcome := conflict.Resolver{TieBreak: e.tieBreakFor(ctx, ev.TenantID)}.Resolve(conflictCandidates(cands))
	res.Warnings = append(res.Warnings, outcome.Warnings...)

	byKey := make(map[string]*candidate, len(cands))
	for _, c := range cands {
		byKey[c.Key] = c
	}

	awards, excluded := limitPrograms(outcome.Awards, byKey)
	for _, r := range outcome.Rejected {
		c := byKey[r.Key]
		res.evaluate(c, r.Points, r.Reason)
		res.skip(r.Reason, c.rule.RuleID, c.rule.ProgramID)
		ruleSkips.WithLabelValues(r.Reason).Inc()
	}
	for _, a := range excluded {
		c := byKey[a.Key]
		res.evaluate(c, a.Points, ReasonProgramStacking)
		res.skip(ReasonProgramStacking, c.rule.RuleID, c.rule.ProgramID)
		ruleSkips.WithLabelValues(ReasonProgramStacking).Inc()
	}

	return res, e.commit(ctx, ev, awards, byKey, res)
}

// candidates runs every rule through domain, eligibility, formula and key
// derivation. Rules that fail a check are recorded as skipped.
func (e *Engine) candidates(ev event.Event, set *program.RuleSet, res *Result) ([]*candidate, error) {
	processed := map[string]bool{}
	claimed := map[string]string{}
	var out []*candidate

	for _, rule := range set.Rules {
		settings := rule.ConflictSettings()
		if err := e.checkCatalog(rule, settings); err != nil {
			return nil, err
		}

		prog, ok := set.Program(rule.ProgramID)
		if !ok || !prog.IsActive(ev.OccurredAt) {
			e.skipRule(res, rule, ReasonProgramInactive)
			continue
		}
		processed[prog.ProgramID] = true

		if ev.EarningDomain != "" && rule.EarningDomain != ev.EarningDomain {
			e.skipRule(res, rule, ReasonDomainMismatch)
			continue
		}
		if !prog.Allows(rule.EarningDomain) {
			e.skipRule(res, rule, ReasonDomainNotAllowed)
			continue
		}

		if d := e.filter.Check(rule, ev, ev.OccurredAt); !d.Match {
			e.skipRule(res, rule, d.Reason)
			continue
		}

		f := rule.PointsFormula()
		if f == nil {
			return nil, integrity(rule, formula.ErrInvalidFormula)
		}
		calc := formula.Evaluate(f, ev)
		for _, w := range calc.Warnings {
			res.Warnings = append(res.Warnings, fmt.Sprintf("rule %s: %s", rule.RuleID, w))
		}
		if calc.Points <= 0 {
			e.skipRule(res, rule, ReasonZeroPoints)
			continue
		}

		key, err := idempotency.Derive(idempotency.Input{
			TenantID:      ev.TenantID,
			MembershipID:  ev.MembershipID,
			ProgramID:     rule.ProgramID,
			RuleID:        rule.RuleID,
			SourceEventID: ev.SourceEventID,
			OccurredAt:    ev.OccurredAt,
		}, rule.IdempotencyScope())
		if err != nil {
			return nil, integrity(rule, err)
		}

		c := &candidate{
			rule:    rule,
			program: prog,
			Candidate: conflict.Candidate{
				Key:               key,
				RuleID:            rule.RuleID,
				ProgramID:         rule.ProgramID,
				ConflictGroup:     settings.ConflictGroup,
				StackPolicy:       settings.StackPolicy,
				PriorityRank:      settings.PriorityRank,
				Points:            calc.Points,
				PerEventCap:       rule.RuleLimits().PerEventCap,
				MaxAwardsPerEvent: settings.MaxAwardsPerEvent,
			},
		}

		// rules arrive priority first, so the first claimant of a shared
		// per-event key keeps it
		if owner, dup := claimed[key]; dup {
			res.evaluate(c, calc.Points, ReasonDuplicateKey)
			res.skip(ReasonDuplicateKey, rule.RuleID, rule.ProgramID)
			ruleSkips.WithLabelValues(ReasonDuplicateKey).Inc()
			zap.L().Debug("idempotency key shared", zap.String("rule_id", rule.RuleID), zap.String("owner", owner))
			continue
		}
		claimed[key] = rule.RuleID
		out = append(out, c)
	}

	for id := range processed {
		res.ProgramsProcessed = append(res.ProgramsProcessed, id)
	}
	sort.Strings(res.ProgramsProcessed)
	return out, nil
}

func (e *Engine) checkCatalog(rule *program.RewardRule, s program.ConflictSettings) error {
	if err := e.catalog.ValidateEarningDomain(rule.EarningDomain); err != nil {
		return integrity(rule, err)
	}
	if err := e.catalog.ValidateConflictGroup(s.ConflictGroup); err != nil {
		return integrity(rule, err)
	}
	if err := e.catalog.ValidateStackPolicy(s.StackPolicy); err != nil {
		return integrity(rule, err)
	}
	if s.PriorityRank < 0 {
		return integrity(rule, program.ErrNegativePriority)
	}
	return nil
}

func (e *Engine) skipRule(res *Result, rule *program.RewardRule, reason string) {
	settings := rule.ConflictSettings()
	res.Evaluations = append(res.Evaluations, Evaluation{
		RuleID:        rule.RuleID,
		ProgramID:     rule.ProgramID,
		ConflictGroup: settings.ConflictGroup,
		StackPolicy:   settings.StackPolicy,
		PriorityRank:  settings.PriorityRank,
		EarningDomain: rule.EarningDomain,
		ReasonCode:    reason,
	})
	res.skip(reason, rule.RuleID, rule.ProgramID)
	ruleSkips.WithLabelValues(reason).Inc()
}

func (r *Result) evaluate(c *candidate, points int64, reason string) {
	r.Evaluations = append(r.Evaluations, Evaluation{
		RuleID:         c.rule.RuleID,
		ProgramID:      c.rule.ProgramID,
		ConflictGroup:  c.ConflictGroup,
		StackPolicy:    c.StackPolicy,
		PriorityRank:   c.PriorityRank,
		Points:         points,
		EarningDomain:  c.rule.EarningDomain,
		IdempotencyKey: c.Key,
		ReasonCode:     reason,
	})
}

// markPersisted flags candidates whose key already has a ledger row written
// for this same event; the recorded amount replaces the computed one. A row
// from another event means the rule already paid out in this key's bucket
// (per-day or per-period scope), and a row owned by a different rule means
// another rule claimed the per-event key. Both drop out before resolution.
func (e *Engine) markPersisted(ctx context.Context, ev event.Event, cands []*candidate, res *Result) ([]*candidate, error) {
	keys := make([]string, 0, len(cands))
	for _, c := range cands {
		keys = append(keys, c.Key)
	}
	existing, err := e.ledger.FindByIdempotencyKeys(ctx, ev.TenantID, keys)
	if err != nil {
		return nil, err
	}

	out := cands[:0]
	for _, c := range cands {
		row, ok := existing[c.Key]
		if !ok {
			out = append(out, c)
			continue
		}
		if row.SourceEventID != ev.SourceEventID {
			e.reject(res, c, ReasonBucketClaimed)
			continue
		}
		if row.RewardRuleID != c.RuleID || row.ProgramID != c.ProgramID {
			e.reject(res, c, ReasonDuplicateKey)
			continue
		}
		c.Persisted = true
		c.Points = row.PointsDelta
		out = append(out, c)
	}
	return out, nil
}

func (e *Engine) tieBreakFor(ctx context.Context, tenantID string) conflict.TieBreak {
	if e.flags == nil {
		return e.tieBreak
	}
	v, ok := e.flags.StringValue(ctx, tenantID, featureflags.FlagTieBreak)
	if !ok {
		return e.tieBreak
	}
	tb, err := conflict.ParseTieBreak(v)
	if err != nil {
		zap.L().Warn("ignoring tie-break flag", zap.String("tenant_id", tenantID), zap.String("value", v))
		return e.tieBreak
	}
	return tb
}

func conflictCandidates(cands []*candidate) []conflict.Candidate {
	out := make([]conflict.Candidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Candidate)
	}
	return out
}

// commit appends the new awards as EARNING rows and fills in the result.
// Totals come from the stored rows, so a row written concurrently by another
// worker is reported with its own amount.
func (e *Engine) commit(ctx context.Context, ev event.Event, awards []conflict.Award, byKey map[string]*candidate, res *Result) error {
	var rows []*ledger.PointsTransaction
	for _, a := range awards {
		if !a.Persisted {
			rows = append(rows, e.earningRow(ev, byKey[a.Key], a.Awarded))
		}
	}

	var appended []ledger.AppendResult
	if len(rows) > 0 {
		var err error
		appended, err = e.ledger.AppendBatch(ctx, rows)
		if err != nil {
			return err
		}
	}

	next := 0
	for _, a := range awards {
		c := byKey[a.Key]
		if a.Persisted {
			res.TotalPointsAwarded += a.Awarded
			res.evaluate(c, a.Awarded, ReasonReplayed)
			continue
		}

		r := appended[next]
		next++
		switch {
		case r.Created:
			res.TotalPointsAwarded += r.Transaction.PointsDelta
			res.evaluate(c, r.Transaction.PointsDelta, ReasonAwarded)
			res.TransactionsCreated = append(res.TransactionsCreated, r.Transaction)
			pointsAwarded.Add(float64(r.Transaction.PointsDelta))
		case r.Transaction.SourceEventID != ev.SourceEventID:
			e.reject(res, c, ReasonBucketClaimed)
		default:
			res.TotalPointsAwarded += r.Transaction.PointsDelta
			res.evaluate(c, r.Transaction.PointsDelta, ReasonReplayed)
		}
	}
	return nil
}

func (e *Engine) earningRow(ev event.Event, c *candidate, points int64) *ledger.PointsTransaction {
	return &ledger.PointsTransaction{
		TenantID:       ev.TenantID,
		MembershipID:   ev.MembershipID,
		Type:           ledger.TypeEarning,
		PointsDelta:    points,
		IdempotencyKey: c.Key,
		SourceEventID:  ev.SourceEventID,
		CorrelationID:  ev.CorrelationID,
		ProgramID:      c.rule.ProgramID,
		RewardRuleID:   c.rule.RuleID,
		OccurredAt:     ev.OccurredAt,
		ExpiresAt:      c.program.Expiration.Data().ExpiresAt(ev.OccurredAt),
		Metadata: jsonMeta(map[string]any{
			"ruleVersion":    c.rule.Version,
			"programVersion": c.program.Version,
			"conflictGroup":  c.ConflictGroup,
			"stackPolicy":    c.StackPolicy,
			"computedPoints": c.Points,
			"earningDomain":  c.rule.EarningDomain,
		}),
	}
}
