package event

import (
	"smallbiznis-loyalty/pkg/db"

	"go.uber.org/fx"
)

var Module = fx.Module("event.service",
	fx.Provide(
		db.AsModel(&Record{}),
		NewService,
	),
)
