package workflow

import (
	"errors"
	"testing"

	"smallbiznis-loyalty/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestNewClientGivesUpAfterRetries(t *testing.T) {
	origDial, origDelay := dial, retryDelay
	defer func() { dial, retryDelay = origDial, origDelay }()

	cfg := &config.Config{AppName: "loyalty-task"}
	cfg.Temporal.Addr = "temporal:7233"
	cfg.Temporal.Namespace = "loyalty"

	attempts := 0
	retryDelay = 0
	dial = func(opts client.Options) (client.Client, error) {
		attempts++
		assert.Equal(t, "temporal:7233", opts.HostPort)
		assert.Equal(t, "loyalty", opts.Namespace)
		assert.Equal(t, "loyalty-task", opts.Identity)
		assert.IsType(t, &Logger{}, opts.Logger)
		return nil, errors.New("connection refused")
	}

	c, err := NewClient(cfg)
	require.Error(t, err)
	require.Nil(t, c)
	require.Equal(t, 3, attempts)
	require.Contains(t, err.Error(), "temporal:7233")
}

func TestLoggerKeyvals(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(zap.New(core)).With("Namespace", "loyalty")

	l.Info("workflow started", "WorkflowID", "tenant-1:redeem-1")
	l.Error("activity failed", "Attempt", 2)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "workflow started", entries[0].Message)
	assert.Equal(t, map[string]interface{}{"Namespace": "loyalty", "WorkflowID": "tenant-1:redeem-1"}, entries[0].ContextMap())
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, int64(2), entries[1].ContextMap()["Attempt"])
}

func TestTaskNameString(t *testing.T) {
	assert.Equal(t, "REDEMPTION_TASK_QUEUE", REDEMPTION_TASK_QUEUE.String())
	assert.Equal(t, "", TaskName("OTHER").String())
}
