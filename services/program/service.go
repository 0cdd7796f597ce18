package program

import (
	"context"
	"errors"
	"strings"

	"smallbiznis-loyalty/pkg/clock"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/sequence"
	"smallbiznis-loyalty/services/catalog"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service owns program and rule authoring. Content changes always go through
// a new version; existing rows only change status.
type Service struct {
	db      *gorm.DB
	repo    Repository
	node    *snowflake.Node
	seq     sequence.Generator
	catalog *catalog.Catalog
	clock   clock.Clock
	cache   *CachedSource
}

type ServiceParams struct {
	fx.In

	DB         *gorm.DB
	Repository Repository
	Node       *snowflake.Node
	Catalog    *catalog.Catalog
	Clock      clock.Clock
	Sequence   sequence.Generator `optional:"true"`
	Cache      *CachedSource      `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	if p.Repository == nil {
		panic("program service requires repository dependency")
	}
	return &Service{
		db:      p.DB,
		repo:    p.Repository,
		node:    p.Node,
		seq:     p.Sequence,
		catalog: p.Catalog,
		clock:   p.Clock,
		cache:   p.Cache,
	}
}

func logger(ctx context.Context, tenantID string) *zap.Logger {
	span := trace.SpanFromContext(ctx)
	return zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", tenantID),
	)
}

func (s *Service) CreateProgram(ctx context.Context, in ProgramInput) (*LoyaltyProgram, error) {
	p, err := NewProgram(s.catalog, in)
	if err != nil {
		return nil, err
	}

	if p.ProgramID == "" {
		p.ProgramID = s.node.Generate().String()
	}
	if p.Code, err = s.programCode(ctx, in); err != nil {
		return nil, err
	}
	p.ID = s.node.Generate().String()

	if err := s.repo.CreateProgram(ctx, p); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("program already exists", err)
		}
		logger(ctx, in.TenantID).Error("failed to create program", zap.Error(err))
		return nil, err
	}
	return p, nil
}

func (s *Service) programCode(ctx context.Context, in ProgramInput) (string, error) {
	if code := slug.Make(in.Code); code != "" {
		return code, nil
	}
	if code := slug.Make(in.Name); code != "" {
		return code, nil
	}
	if s.seq == nil {
		return "", errutil.BadRequest("program code could not be derived", nil)
	}
	return s.seq.NextProgramCode(ctx, in.TenantID)
}

func (s *Service) CreateRule(ctx context.Context, in RuleInput) (*RewardRule, error) {
	r, err := NewRule(s.catalog, in)
	if err != nil {
		return nil, err
	}

	prog, err := s.repo.LatestProgram(ctx, in.TenantID, in.ProgramID)
	if err != nil {
		return nil, err
	}
	if prog == nil {
		return nil, errutil.NotFound("program not found", nil)
	}
	if !prog.Allows(r.EarningDomain) {
		return nil, errutil.ValidationFailed("invalid reward rule", ErrNoEarningDomain, errutil.WithDetails(errutil.Detail{
			Field:   "earningDomain",
			Message: "program " + prog.ProgramID + " does not declare earning domain " + string(r.EarningDomain),
		}))
	}

	if r.RuleID == "" {
		if r.RuleID, err = s.ruleID(ctx, in.TenantID); err != nil {
			return nil, err
		}
	}
	r.ID = s.node.Generate().String()

	if err := s.repo.CreateRule(ctx, r); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("rule already exists", err)
		}
		logger(ctx, in.TenantID).Error("failed to create rule", zap.Error(err))
		return nil, err
	}
	return r, nil
}

func (s *Service) ruleID(ctx context.Context, tenantID string) (string, error) {
	if s.seq != nil {
		return s.seq.NextRuleCode(ctx, tenantID)
	}
	return s.node.Generate().String(), nil
}

// ActivateProgram activates one program version and deactivates every other
// active version of the same program. A tenant may only have one active BASE
// program.
func (s *Service) ActivateProgram(ctx context.Context, tenantID, id string) (*LoyaltyProgram, error) {
	var out *LoyaltyProgram
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		p, err := repo.GetProgram(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if p == nil {
			return errutil.NotFound("program not found", nil)
		}

		active, err := repo.ActivePrograms(ctx, tenantID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		for _, other := range active {
			if other.ID == p.ID {
				continue
			}
			if other.ProgramID == p.ProgramID {
				if err := other.Deactivate(now); err != nil {
					return err
				}
				if err := repo.SaveProgramStatus(ctx, other); err != nil {
					return err
				}
				continue
			}
			if p.Type == ProgramTypeBase && other.Type == ProgramTypeBase {
				return errutil.Conflict("another BASE program is already active", nil, errutil.WithDetails(errutil.Detail{
					Field:   "programId",
					Message: other.ProgramID,
				}))
			}
		}

		if err := p.Activate(now); err != nil {
			return errutil.Conflict("program version is already active", err)
		}
		if err := repo.SaveProgramStatus(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(tenantID)
	logger(ctx, tenantID).Info("program activated",
		zap.String("program_id", out.ProgramID),
		zap.Int("version", out.Version))
	return out, nil
}

func (s *Service) DeactivateProgram(ctx context.Context, tenantID, id string) (*LoyaltyProgram, error) {
	p, err := s.repo.GetProgram(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("program not found", nil)
	}
	if err := p.Deactivate(s.clock.Now()); err != nil {
		return nil, errutil.Conflict("program version is not active", err)
	}
	if err := s.repo.SaveProgramStatus(ctx, p); err != nil {
		return nil, err
	}
	s.invalidate(tenantID)
	return p, nil
}

// NewProgramVersion writes in as a draft version after the latest one.
func (s *Service) NewProgramVersion(ctx context.Context, programID string, in ProgramInput) (*LoyaltyProgram, error) {
	latest, err := s.repo.LatestProgram(ctx, in.TenantID, programID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, errutil.NotFound("program not found", nil)
	}

	in.ProgramID = programID
	edited, err := NewProgram(s.catalog, in)
	if err != nil {
		return nil, err
	}

	next := latest.CreateNewVersion()
	next.ID = s.node.Generate().String()
	next.Name = edited.Name
	next.Type = edited.Type
	next.EarningDomains = edited.EarningDomains
	next.PriorityRank = edited.PriorityRank
	next.Stacking = edited.Stacking
	next.Expiration = edited.Expiration
	next.ActiveFrom, next.ActiveTo = edited.ActiveFrom, edited.ActiveTo
	if c := slug.Make(in.Code); c != "" {
		next.Code = c
	}

	if err := s.repo.CreateProgram(ctx, next); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("program version already exists", err)
		}
		return nil, err
	}
	return next, nil
}

func (s *Service) ActivateRule(ctx context.Context, tenantID, id string) (*RewardRule, error) {
	var out *RewardRule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		r, err := repo.GetRule(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if r == nil {
			return errutil.NotFound("rule not found", nil)
		}

		now := s.clock.Now()
		versions, err := repo.ListRules(ctx, tenantID, ListParams{Status: StatusActive})
		if err != nil {
			return err
		}
		for _, other := range versions {
			if other.RuleID != r.RuleID || other.ID == r.ID {
				continue
			}
			if err := other.Deactivate(now); err != nil {
				return err
			}
			if err := repo.SaveRuleStatus(ctx, other); err != nil {
				return err
			}
		}

		if err := r.Activate(now); err != nil {
			return errutil.Conflict("rule version is already active", err)
		}
		if err := repo.SaveRuleStatus(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(tenantID)
	return out, nil
}

func (s *Service) DeactivateRule(ctx context.Context, tenantID, id string) (*RewardRule, error) {
	r, err := s.repo.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errutil.NotFound("rule not found", nil)
	}
	if err := r.Deactivate(s.clock.Now()); err != nil {
		return nil, errutil.Conflict("rule version is not active", err)
	}
	if err := s.repo.SaveRuleStatus(ctx, r); err != nil {
		return nil, err
	}
	s.invalidate(tenantID)
	return r, nil
}

func (s *Service) NewRuleVersion(ctx context.Context, ruleID string, in RuleInput) (*RewardRule, error) {
	latest, err := s.repo.LatestRule(ctx, in.TenantID, ruleID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, errutil.NotFound("rule not found", nil)
	}
	if strings.TrimSpace(in.ProgramID) == "" {
		in.ProgramID = latest.ProgramID
	}

	in.RuleID = ruleID
	edited, err := NewRule(s.catalog, in)
	if err != nil {
		return nil, err
	}

	next := latest.CreateNewVersion()
	next.ID = s.node.Generate().String()
	next.ProgramID = edited.ProgramID
	next.Name = edited.Name
	next.Trigger = edited.Trigger
	next.EarningDomain = edited.EarningDomain
	next.Scope = edited.Scope
	next.Eligibility = edited.Eligibility
	next.Formula = edited.Formula
	next.Limits = edited.Limits
	next.Conflict = edited.Conflict
	next.Idempotency = edited.Idempotency
	next.ActiveFrom, next.ActiveTo = edited.ActiveFrom, edited.ActiveTo

	if err := s.repo.CreateRule(ctx, next); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("rule version already exists", err)
		}
		return nil, err
	}
	return next, nil
}

func (s *Service) GetProgram(ctx context.Context, tenantID, id string) (*LoyaltyProgram, error) {
	p, err := s.repo.GetProgram(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("program not found", nil)
	}
	return p, nil
}

func (s *Service) GetRule(ctx context.Context, tenantID, id string) (*RewardRule, error) {
	r, err := s.repo.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errutil.NotFound("rule not found", nil)
	}
	return r, nil
}

func (s *Service) ListPrograms(ctx context.Context, tenantID string, params ListParams) ([]*LoyaltyProgram, error) {
	return s.repo.ListPrograms(ctx, tenantID, params)
}

func (s *Service) ListRules(ctx context.Context, tenantID string, params ListParams) ([]*RewardRule, error) {
	return s.repo.ListRules(ctx, tenantID, params)
}

func (s *Service) invalidate(tenantID string) {
	if s.cache != nil {
		s.cache.Invalidate(tenantID)
	}
}
