package redemption

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/services/ledger"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type WorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env *testsuite.TestWorkflowEnvironment
	a   *Activities
}

func (s *WorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.a = &Activities{}
	s.env.RegisterActivity(s.a)
}

func (s *WorkflowTestSuite) AfterTest(_, _ string) {
	s.env.AssertExpectations(s.T())
}

func request() Request {
	return Request{
		TenantID:       "t1",
		MembershipID:   "m1",
		RewardID:       "coffee",
		Points:         100,
		IdempotencyKey: "r-1",
		HoldTimeout:    10 * time.Minute,
	}
}

func (s *WorkflowTestSuite) result() *State {
	s.True(s.env.IsWorkflowCompleted())
	var st State
	s.NoError(s.env.GetWorkflowResult(&st))
	return &st
}

func (s *WorkflowTestSuite) Test_ConfirmCapturesHold() {
	s.env.OnActivity(s.a.PlaceHold, mock.Anything, request()).Return("hold-1", nil)
	s.env.OnActivity(s.a.CaptureHold, mock.Anything, CaptureInput{Request: request(), HoldID: "hold-1"}).Return("redeem-1", nil)

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalDecision, Decision{Confirm: true})
	}, time.Minute)
	s.env.ExecuteWorkflow(RedemptionWorkflow, request())

	st := s.result()
	s.Equal(StatusRedeemed, st.Status)
	s.Equal("hold-1", st.HoldID)
	s.Equal("redeem-1", st.RedeemID)
}

func (s *WorkflowTestSuite) Test_TimeoutReleasesHold() {
	s.env.OnActivity(s.a.PlaceHold, mock.Anything, request()).Return("hold-1", nil)
	s.env.OnActivity(s.a.ReleaseHold, mock.Anything, ReleaseInput{TenantID: "t1", HoldID: "hold-1"}).Return("release-1", nil)

	s.env.ExecuteWorkflow(RedemptionWorkflow, request())

	st := s.result()
	s.Equal(StatusExpired, st.Status)
	s.Equal("release-1", st.ReleaseID)
}

func (s *WorkflowTestSuite) Test_CancelReleasesHold() {
	s.env.OnActivity(s.a.PlaceHold, mock.Anything, request()).Return("hold-1", nil)
	s.env.OnActivity(s.a.ReleaseHold, mock.Anything, mock.Anything).Return("release-1", nil)

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalDecision, Decision{Reason: "out of stock"})
	}, time.Minute)
	s.env.ExecuteWorkflow(RedemptionWorkflow, request())

	st := s.result()
	s.Equal(StatusReleased, st.Status)
	s.Equal("out of stock", st.Reason)
}

func (s *WorkflowTestSuite) Test_HoldRejected() {
	s.env.OnActivity(s.a.PlaceHold, mock.Anything, mock.Anything).
		Return("", temporal.NewNonRetryableApplicationError("insufficient points", string(errutil.StatusUnprocessableEntity), nil))

	s.env.ExecuteWorkflow(RedemptionWorkflow, request())

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *WorkflowTestSuite) Test_QueryReportsHeld() {
	s.env.OnActivity(s.a.PlaceHold, mock.Anything, mock.Anything).Return("hold-1", nil)
	s.env.OnActivity(s.a.ReleaseHold, mock.Anything, mock.Anything).Return("release-1", nil)

	s.env.RegisterDelayedCallback(func() {
		v, err := s.env.QueryWorkflow(QueryState)
		s.NoError(err)
		var st State
		s.NoError(v.Get(&st))
		s.Equal(StatusHeld, st.Status)
		s.Equal("hold-1", st.HoldID)
	}, time.Minute)
	s.env.ExecuteWorkflow(RedemptionWorkflow, request())

	s.Equal(StatusExpired, s.result().Status)
}

func TestWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(WorkflowTestSuite))
}

type ledgerMock struct {
	HoldFn    func(ctx context.Context, req ledger.HoldRequest) (*ledger.PointsTransaction, error)
	ReleaseFn func(ctx context.Context, tenantID, holdID string) (*ledger.PointsTransaction, error)
	RedeemFn  func(ctx context.Context, req ledger.RedeemRequest) (*ledger.PointsTransaction, error)
}

func (m *ledgerMock) Hold(ctx context.Context, req ledger.HoldRequest) (*ledger.PointsTransaction, error) {
	return m.HoldFn(ctx, req)
}

func (m *ledgerMock) Release(ctx context.Context, tenantID, holdID string) (*ledger.PointsTransaction, error) {
	return m.ReleaseFn(ctx, tenantID, holdID)
}

func (m *ledgerMock) Redeem(ctx context.Context, req ledger.RedeemRequest) (*ledger.PointsTransaction, error) {
	return m.RedeemFn(ctx, req)
}

func TestActivitiesUseDerivedKeys(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()

	var holdReq ledger.HoldRequest
	var redeemReq ledger.RedeemRequest
	a := &Activities{Ledger: &ledgerMock{
		HoldFn: func(_ context.Context, req ledger.HoldRequest) (*ledger.PointsTransaction, error) {
			holdReq = req
			return &ledger.PointsTransaction{ID: "hold-1"}, nil
		},
		RedeemFn: func(_ context.Context, req ledger.RedeemRequest) (*ledger.PointsTransaction, error) {
			redeemReq = req
			return &ledger.PointsTransaction{ID: "redeem-1"}, nil
		},
	}}
	env.RegisterActivity(a)

	v, err := env.ExecuteActivity(a.PlaceHold, request())
	require.NoError(t, err)
	var id string
	require.NoError(t, v.Get(&id))
	require.Equal(t, "hold-1", id)
	require.Equal(t, "hold:r-1", holdReq.IdempotencyKey)
	require.Equal(t, int64(100), holdReq.Points)

	v, err = env.ExecuteActivity(a.CaptureHold, CaptureInput{Request: request(), HoldID: "hold-1"})
	require.NoError(t, err)
	require.NoError(t, v.Get(&id))
	require.Equal(t, "redeem-1", id)
	require.Equal(t, "redeem:r-1", redeemReq.IdempotencyKey)
	require.Equal(t, "hold-1", redeemReq.HoldID)
}

func TestActivitiesNonRetryable(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()

	a := &Activities{Ledger: &ledgerMock{
		ReleaseFn: func(context.Context, string, string) (*ledger.PointsTransaction, error) {
			return nil, errutil.NotFound("transaction not found", nil)
		},
	}}
	env.RegisterActivity(a)

	_, err := env.ExecuteActivity(a.ReleaseHold, ReleaseInput{TenantID: "t1", HoldID: "missing"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "transaction not found")
}
