package redemption

import (
	"smallbiznis-loyalty/pkg/httpapi"
	"smallbiznis-loyalty/pkg/workflow"
	"smallbiznis-loyalty/services/ledger"

	"go.temporal.io/sdk/worker"
	wf "go.temporal.io/sdk/workflow"
	"go.uber.org/fx"
)

var Module = fx.Module("redemption",
	fx.Provide(
		NewService,
		httpapi.AsRoute(NewHandler),
	),
)

// WorkerModule runs the workflow and its activities on the redemption queue.
var WorkerModule = fx.Module("redemption.worker",
	fx.Provide(func(s *ledger.Service) *Activities {
		return &Activities{Ledger: s}
	}),
	fx.Provide(fx.Annotate(registration, fx.ResultTags(`group:"temporal.registrations"`))),
)

func registration(a *Activities) workflow.Registration {
	return workflow.Registration{
		Queue: workflow.REDEMPTION_TASK_QUEUE,
		Register: func(w worker.Worker) {
			w.RegisterWorkflowWithOptions(RedemptionWorkflow, wf.RegisterOptions{Name: WorkflowName})
			w.RegisterActivity(a)
		},
	}
}
