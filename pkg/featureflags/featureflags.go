package featureflags

import (
	"context"
	"fmt"

	"smallbiznis-loyalty/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// Flag names read by the engine.
const (
	FlagTieBreak = "loyalty_tie_break"
)

type FeatureFlag interface {
	// StringValue returns the identity-scoped value of a flag, or ok=false when
	// the flag is absent, disabled or the provider is not configured.
	StringValue(ctx context.Context, identifier, name string) (value string, ok bool)
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) StringValue(ctx context.Context, identifier, name string) (string, bool) {
	if s.client == nil {
		return "", false
	}

	flags, err := s.client.GetIdentityFlags(identifier, nil)
	if err != nil {
		zap.L().Debug("feature flags unavailable", zap.String("identifier", identifier), zap.Error(err))
		return "", false
	}

	enabled, err := flags.IsFeatureEnabled(name)
	if err != nil || !enabled {
		return "", false
	}

	v, err := flags.GetFeatureValue(name)
	if err != nil || v == nil {
		return "", false
	}

	return fmt.Sprint(v), true
}

// Static serves fixed values, used where no flag provider is wired.
type Static map[string]string

func (s Static) StringValue(_ context.Context, _ string, name string) (string, bool) {
	v, ok := s[name]
	return v, ok
}
