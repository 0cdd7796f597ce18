package expiry

import (
	"context"
	"time"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/task"
	"smallbiznis-loyalty/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler enqueues the daily expiry run. The run task id carries the date,
// so several scheduler replicas still produce a single run per day.
type Scheduler struct {
	enqueuer task.Enqueuer
	hour     int
}

type SchedulerParams struct {
	fx.In
	Enqueuer task.Enqueuer
	Config   *config.Config
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{enqueuer: p.Enqueuer, hour: p.Config.Loyalty.ExpiryHour}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started loyalty expiry scheduler", zap.Int("hour", s.hour))

	for {
		now := time.Now().UTC()
		next := nextRunTime(now, s.hour, 0)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runDaily(ctx, next)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, at time.Time) {
	t := asynq.NewTask(taskname.LoyaltyExpiryRun, nil,
		asynq.TaskID("expiry-run:"+at.Format("20060102")),
		asynq.Queue("low"),
	)
	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil && !task.IsDuplicate(err) {
		zap.L().Error("[Scheduler] failed enqueue daily expiry run", zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] enqueued daily expiry run", zap.Time("at", at))
}

// nextRunTime returns the next instant at hour:minute, strictly after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
