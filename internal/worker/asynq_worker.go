package worker

import (
	"context"
	"time"

	"github.com/dujiao-next/cart-core/internal/logger"
	"github.com/dujiao-next/cart-core/internal/provider"
	"github.com/dujiao-next/cart-core/internal/queue"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskReservationExpire, c.handleReservationExpire)
}

func (c *Consumer) handleReservationExpire(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.Container == nil || c.ReservationLedger == nil {
		logger.Debugw("worker_reservation_expire_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParseReservationExpirePayload(task.Payload())
	if err != nil {
		logger.Warnw("worker_reservation_expire_unmarshal_failed", "error", err)
		return err
	}
	if payload.Cutoff.IsZero() {
		payload.Cutoff = c.reservationCutoff(time.Now())
	}
	if payload.Cutoff.IsZero() {
		logger.Debugw("worker_reservation_expire_skip_ttl_disabled")
		return nil
	}
	_, err = c.SweepOnce(ctx, payload.Cutoff)
	return err
}

// SweepOnce 释放早于 cutoff 的预占并清理过期结算快照
func (c *Consumer) SweepOnce(ctx context.Context, cutoff time.Time) (int64, error) {
	released, err := c.ReservationLedger.ExpireOlderThan(ctx, cutoff)
	if err != nil {
		logger.Warnw("worker_reservation_expire_failed", "cutoff", cutoff, "error", err)
		return 0, err
	}
	if c.DBCheckoutStore != nil {
		purged, err := c.DBCheckoutStore.PurgeExpired(ctx)
		if err != nil {
			logger.Warnw("worker_checkout_session_purge_failed", "error", err)
		} else if purged > 0 {
			logger.Debugw("worker_checkout_session_purged", "purged", purged)
		}
	}
	logger.Infow("reservation_sweep_done", "cutoff", cutoff, "released", released)
	return released, nil
}

// reservationCutoff 按配置的有效期计算过期截止时间，有效期未配置时返回零值
func (c *Consumer) reservationCutoff(now time.Time) time.Time {
	if c == nil || c.Container == nil || c.Config == nil {
		return time.Time{}
	}
	ttl := c.Config.Cart.ReservationTTL()
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(-ttl)
}
