package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dujiao-next/cart-core/internal/config"
	"github.com/dujiao-next/cart-core/internal/provider"
	"github.com/dujiao-next/cart-core/internal/worker"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, container *provider.Container) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if container == nil {
		return nil, errors.New("container is nil")
	}

	consumer := worker.NewConsumer(container)
	var services []Service
	if cfg.Queue.Enabled {
		workerService, err := worker.NewService(&cfg.Queue, consumer)
		if err != nil {
			return nil, err
		}
		services = append(services, workerService)
	} else {
		sweepService, err := worker.NewSweepService(consumer)
		if err != nil {
			return nil, err
		}
		services = append(services, sweepService)
	}

	return NewRunner(services...), nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	container := provider.NewContainer(opts.Config)
	defer container.Close()

	switch opts.Mode {
	case ModeSweep:
		return RunSweep(context.Background(), container, time.Now())
	case ModeWorker:
	default:
		return fmt.Errorf("unknown mode: %s", opts.Mode)
	}

	runner, err := BuildRunner(opts.Config, container)
	if err != nil {
		return err
	}
	opts.Logger.Infow("app_start",
		"mode", opts.Mode,
		"queue_enabled", opts.Config.Queue.Enabled,
		"reservation_ttl", opts.Config.Cart.ReservationTTL().String(),
		"reservation_ttl_basis", opts.Config.Cart.ReservationTTLBasis,
	)
	return RunWithOptions(runner, opts)
}

// RunSweep 执行一次预占过期扫描
func RunSweep(ctx context.Context, container *provider.Container, now time.Time) error {
	if container == nil || container.Config == nil {
		return errors.New("container is nil")
	}
	ttl := container.Config.Cart.ReservationTTL()
	if ttl <= 0 {
		return errors.New("reservation ttl disabled")
	}
	_, err := worker.NewConsumer(container).SweepOnce(ctx, now.Add(-ttl))
	return err
}
