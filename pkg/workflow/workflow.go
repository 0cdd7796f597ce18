package workflow

import (
	"context"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/config"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var ProvideClient = fx.Module("temporal",
	fx.Provide(NewClient),
	fx.Invoke(Close),
)

// Worker starts one Temporal worker per task queue named by the
// registrations in the "temporal.registrations" group.
var Worker = fx.Module("temporal.worker",
	fx.Invoke(fx.Annotate(runWorkers, fx.ParamTags(``, ``, `group:"temporal.registrations"`))),
)

type TaskName string

var (
	REDEMPTION_TASK_QUEUE TaskName = "REDEMPTION_TASK_QUEUE"
)

func (t TaskName) String() string {
	switch t {
	case REDEMPTION_TASK_QUEUE:
		return string(t)
	default:
		return ""
	}
}

// Registration adds workflows and activities to the worker of Queue.
type Registration struct {
	Queue    TaskName
	Register func(w worker.Worker)
}

// Swapped in tests.
var (
	dial       = client.Dial
	retryDelay = 2 * time.Second
)

func clientOptions(cfg *config.Config, logger *zap.Logger) client.Options {
	return client.Options{
		HostPort:  cfg.Temporal.Addr,
		Namespace: cfg.Temporal.Namespace,
		Identity:  cfg.AppName,
		ConnectionOptions: client.ConnectionOptions{
			KeepAliveTime:    30 * time.Second,
			KeepAliveTimeout: 30 * time.Second,
			DialOptions: []grpc.DialOption{
				grpc.WithTransportCredentials(
					insecure.NewCredentials(),
				),
			},
		},
		Logger: NewLogger(logger.Named("temporal")),
	}
}

func NewClient(cfg *config.Config) (client.Client, error) {
	opts := clientOptions(cfg, zap.L())

	var (
		c   client.Client
		err error
	)
	for i := 1; i <= 3; i++ {
		c, err = dial(opts)
		if err == nil {
			break
		}
		zap.L().Warn("retrying Temporal client connection", zap.Int("attempt", i), zap.Error(err))
		time.Sleep(retryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("temporal: dial %s: %w", opts.HostPort, err)
	}

	zap.L().Info("Connected to Temporal server", zap.String("addr", opts.HostPort), zap.String("namespace", opts.Namespace))
	return c, nil
}

func Close(lc fx.Lifecycle, c client.Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			c.Close()
			return nil
		},
	})
}

func runWorkers(lc fx.Lifecycle, c client.Client, regs []Registration) {
	byQueue := map[TaskName][]Registration{}
	for _, r := range regs {
		byQueue[r.Queue] = append(byQueue[r.Queue], r)
	}

	for queue, rs := range byQueue {
		w := worker.New(c, queue.String(), worker.Options{})
		for _, r := range rs {
			r.Register(w)
		}

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				zap.L().Info("starting Temporal worker", zap.String("task_queue", queue.String()))
				return w.Start()
			},
			OnStop: func(ctx context.Context) error {
				w.Stop()
				return nil
			},
		})
	}
}
