package worker

import (
	"context"
	"errors"
	"time"

	"github.com/dujiao-next/cart-core/internal/config"
	"github.com/dujiao-next/cart-core/internal/logger"
	"github.com/dujiao-next/cart-core/internal/queue"

	"github.com/hibiken/asynq"
)

// Service 异步队列服务
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:     "worker",
		server:   server,
		mux:      mux,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动队列消费并阻塞到 ctx 结束，关闭由 Stop 完成
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	go runReservationSweepLoop(ctx, s.consumer)
	<-ctx.Done()
	return nil
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// SweepService 队列未启用时的本地过期扫描服务
type SweepService struct {
	consumer *Consumer
}

// NewSweepService 创建本地过期扫描服务
func NewSweepService(consumer *Consumer) (*SweepService, error) {
	if consumer == nil || consumer.Container == nil {
		return nil, errors.New("consumer is nil")
	}
	return &SweepService{consumer: consumer}, nil
}

// Name 服务名称
func (s *SweepService) Name() string {
	return "sweeper"
}

// Start 启动扫描循环，直到 ctx 结束
func (s *SweepService) Start(ctx context.Context) error {
	runReservationSweepLoop(ctx, s.consumer)
	return ctx.Err()
}

// Stop 停止服务
func (s *SweepService) Stop(ctx context.Context) error {
	return nil
}

func runReservationSweepLoop(ctx context.Context, consumer *Consumer) {
	if consumer == nil || consumer.Container == nil || consumer.Config == nil {
		return
	}
	interval := consumer.Config.Cart.SweepInterval()
	runOnce := func() {
		cutoff := consumer.reservationCutoff(time.Now())
		if cutoff.IsZero() {
			return
		}
		if consumer.QueueClient.Enabled() {
			if _, err := consumer.QueueClient.EnqueueReservationExpire(queue.ReservationExpirePayload{Cutoff: cutoff}, interval); err != nil {
				logger.Warnw("worker_reservation_expire_enqueue_failed", "error", err)
			}
			return
		}
		if _, err := consumer.SweepOnce(ctx, cutoff); err != nil {
			logger.Warnw("worker_reservation_sweep_failed", "error", err)
		}
	}
	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
