package loyalty

import (
	"smallbiznis-loyalty/pkg/httpapi"
	"smallbiznis-loyalty/services/ledger"

	"go.uber.org/fx"
)

var Module = fx.Module("loyalty.engine",
	fx.Provide(
		func(s *ledger.Service) Ledger { return s },
		NewEngine,
		httpapi.AsRoute(NewHandler),
	),
)
