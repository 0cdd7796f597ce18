package expiry

import (
	"smallbiznis-loyalty/pkg/db"
	"smallbiznis-loyalty/pkg/taskname"
	"smallbiznis-loyalty/services/ledger"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("expiry.service",
	fx.Provide(
		db.AsModel(&Job{}),
		func(s *ledger.Service) Ledger { return s },
		NewService,
	),
)

// SchedulerModule runs the daily trigger. Only the task process includes it.
var SchedulerModule = fx.Module("expiry.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)

var TaskModule = fx.Module("task.expiry",
	fx.Invoke(registerTaskHandlers),
)

func registerTaskHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.LoyaltyExpiryRun, s.HandleRunTask)
	mux.HandleFunc(taskname.LoyaltyExpiryTenant, s.HandleTenantTask)
}
