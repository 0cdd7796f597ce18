package outbox

import (
	"smallbiznis-loyalty/pkg/db"

	"go.uber.org/fx"
)

var Module = fx.Module("outbox.relay",
	fx.Provide(
		db.AsModel(&Message{}),
		NewKafkaPublisher,
		NewRelay,
	),
	fx.Invoke(runRelay),
)
