package program

import (
	"smallbiznis-loyalty/pkg/db"
	"smallbiznis-loyalty/pkg/httpapi"

	"go.uber.org/fx"
)

var Module = fx.Module("program.service",
	fx.Provide(
		db.AsModel(&LoyaltyProgram{}),
		db.AsModel(&RewardRule{}),
		NewRepository,
		NewCachedSource,
		func(c *CachedSource) Source { return c },
		NewService,
		httpapi.AsRoute(NewHandler),
	),
)
