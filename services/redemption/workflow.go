package redemption

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// RedemptionWorkflow holds the points, waits for a fulfilment decision and
// then either captures the hold as a REDEEM or releases it. No decision
// before the hold timeout releases the points.
func RedemptionWorkflow(ctx workflow.Context, req Request) (*State, error) {
	logger := workflow.GetLogger(ctx)
	state := &State{WorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID, Status: StatusPending}
	if err := workflow.SetQueryHandler(ctx, QueryState, func() (*State, error) {
		return state, nil
	}); err != nil {
		return nil, err
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    5,
		},
	})

	var a *Activities
	if err := workflow.ExecuteActivity(ctx, a.PlaceHold, req).Get(ctx, &state.HoldID); err != nil {
		state.Status = StatusFailed
		state.Reason = reason(err)
		logger.Warn("hold rejected", "error", err)
		return state, err
	}
	state.Status = StatusHeld

	timeout := req.HoldTimeout
	if timeout <= 0 {
		timeout = DefaultHoldTimeout
	}

	var decision Decision
	timedOut := false
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(workflow.GetSignalChannel(ctx, SignalDecision), func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(ctx, &decision)
	})
	sel.AddFuture(workflow.NewTimer(timerCtx, timeout), func(workflow.Future) {
		timedOut = true
	})
	sel.Select(ctx)
	cancelTimer()

	if !timedOut && decision.Confirm {
		err := workflow.ExecuteActivity(ctx, a.CaptureHold, CaptureInput{Request: req, HoldID: state.HoldID}).Get(ctx, &state.RedeemID)
		if err == nil {
			state.Status = StatusRedeemed
			return state, nil
		}
		// the hold stays open if capture failed for good; give the points back
		logger.Error("capture failed, releasing hold", "error", err)
		state.Reason = reason(err)
	}

	if err := workflow.ExecuteActivity(ctx, a.ReleaseHold, ReleaseInput{TenantID: req.TenantID, HoldID: state.HoldID}).Get(ctx, &state.ReleaseID); err != nil {
		state.Status = StatusFailed
		state.Reason = reason(err)
		return state, err
	}

	switch {
	case timedOut:
		state.Status = StatusExpired
		state.Reason = "hold timed out"
	case state.Reason == "":
		state.Status = StatusReleased
		state.Reason = decision.Reason
	default:
		state.Status = StatusReleased
	}
	return state, nil
}

func reason(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}
