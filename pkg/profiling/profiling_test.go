package profiling

import (
	"testing"

	"smallbiznis-loyalty/pkg/config"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestNewConfig(t *testing.T) {
	cfg := &config.Config{AppName: "loyalty", AppEnv: "staging", AppVersion: "1.4.0"}
	cfg.Pyroscope.Addr = "http://pyroscope:4040"

	pc := NewConfig(cfg)
	require.Equal(t, "loyalty", pc.ApplicationName)
	require.Equal(t, "http://pyroscope:4040", pc.ServerAddress)
	require.Equal(t, "staging", pc.Tags["env"])
	require.Equal(t, "1.4.0", pc.Tags["version"])
	require.Contains(t, pc.ProfileTypes, pyroscope.ProfileMutexDuration)
	require.NotNil(t, pc.Logger)
}

func TestProvideProfilingDisabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	ProvideProfiling(lc, &config.Config{})
	lc.RequireStart().RequireStop()
}
