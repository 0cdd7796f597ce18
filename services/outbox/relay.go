package outbox

import (
	"context"
	"sync"
	"time"

	"smallbiznis-loyalty/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// Relay polls unpublished messages in creation order and hands them to a
// Publisher. Delivery is at-least-once; consumers dedupe on the message id.
type Relay struct {
	db        *gorm.DB
	publisher Publisher
	interval  time.Duration
	batchSize int

	stop chan struct{}
	wg   sync.WaitGroup
}

type RelayParams struct {
	fx.In

	DB        *gorm.DB
	Publisher Publisher
	Config    *config.Config
}

func NewRelay(p RelayParams) *Relay {
	interval := p.Config.Outbox.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	batch := p.Config.Outbox.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		db:        p.DB,
		publisher: p.Publisher,
		interval:  interval,
		batchSize: batch,
		stop:      make(chan struct{}),
	}
}

// RunOnce publishes one batch and returns how many messages were delivered.
// It stops at the first failure so ordering per key is preserved.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var msgs []*Message
	if err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("created_at ASC").Order("id ASC").
		Limit(r.batchSize).
		Find(&msgs).Error; err != nil {
		return 0, err
	}

	sent := 0
	for _, m := range msgs {
		if err := r.publisher.Publish(ctx, m); err != nil {
			r.db.WithContext(ctx).Model(&Message{}).Where("id = ?", m.ID).Updates(map[string]any{
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": err.Error(),
			})
			return sent, err
		}

		now := time.Now().UTC()
		if err := r.db.WithContext(ctx).Model(&Message{}).Where("id = ?", m.ID).Updates(map[string]any{
			"published_at": now,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   "",
		}).Error; err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (r *Relay) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.interval*5)
				n, err := r.RunOnce(ctx)
				cancel()
				if err != nil {
					zap.L().Warn("outbox relay failed", zap.Int("published", n), zap.Error(err))
				} else if n > 0 {
					zap.L().Debug("outbox relay published", zap.Int("published", n))
				}
			}
		}
	}()
}

func (r *Relay) Stop() {
	close(r.stop)
	r.wg.Wait()
}

func runRelay(lc fx.Lifecycle, r *Relay) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("starting outbox relay", zap.Duration("interval", r.interval))
			r.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			r.Stop()
			return nil
		},
	})
}
