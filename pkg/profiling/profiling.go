package profiling

import (
	"context"
	"fmt"
	"runtime"

	"smallbiznis-loyalty/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("profiling", fx.Invoke(ProvideProfiling))

// mutexProfileRate samples one in N contention events. Evaluation runs under
// a per-membership lock, so mutex profiles are kept on.
const mutexProfileRate = 5

func NewConfig(c *config.Config) pyroscope.Config {
	return pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Pyroscope.Addr,
		Logger:          zap.L().Named("pyroscope").Sugar(),
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
		},
		Tags: map[string]string{
			"service_name": c.AppName,
			"env":          c.AppEnv,
			"version":      c.AppVersion,
		},
	}
}

// ProvideProfiling starts continuous profiling with the app. It is a no-op
// without PYROSCOPE.ADDR.
func ProvideProfiling(lc fx.Lifecycle, c *config.Config) {
	if c.Pyroscope.Addr == "" {
		return
	}

	var profiler *pyroscope.Profiler
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("starting pyroscope", zap.String("app_name", c.AppName), zap.String("pyroscope_addr", c.Pyroscope.Addr))
			runtime.SetMutexProfileFraction(mutexProfileRate)

			var err error
			profiler, err = pyroscope.Start(NewConfig(c))
			if err != nil {
				return fmt.Errorf("pyroscope: %w", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if profiler == nil {
				return nil
			}
			zap.L().Info("stopping pyroscope")
			return profiler.Stop()
		},
	})
}
