package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"time"

	"go.uber.org/zap"
)

// Service cartd 后台服务（队列消费者或本地过期扫描）
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// serviceExit 服务退出事件
type serviceExit struct {
	name string
	err  error
}

// Runner 运行一组后台服务，任一服务退出或收到信号时整体停止
type Runner struct {
	services []Service
}

// NewRunner 创建服务运行器（忽略 nil 服务）
func NewRunner(services ...Service) *Runner {
	kept := make([]Service, 0, len(services))
	for _, svc := range services {
		if svc != nil {
			kept = append(kept, svc)
		}
	}
	return &Runner{services: kept}
}

// Names 返回服务名称列表
func (r *Runner) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.services))
	for _, svc := range r.services {
		names = append(names, svc.Name())
	}
	return names
}

// RunWithOptions 运行服务并处理系统信号
func RunWithOptions(runner *Runner, opts Options) error {
	if runner == nil {
		return errors.New("runner is nil")
	}
	opts = normalizeOptions(opts)
	ctx := context.Background()
	if len(opts.Signals) > 0 {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, opts.Signals...)
		defer cancel()
	}
	return runner.Run(ctx, opts.ShutdownTimeout, opts.Logger)
}

// Run 启动全部服务并阻塞到 ctx 结束或首个服务退出；
// 停止时按启动的逆序调用 Stop，并在 stopTimeout 内等待各服务的 Start 返回
func (r *Runner) Run(ctx context.Context, stopTimeout time.Duration, log *zap.SugaredLogger) error {
	if r == nil || len(r.services) == 0 {
		return errors.New("no services to run")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exits := make(chan serviceExit, len(r.services))
	for _, svc := range r.services {
		go func(svc Service) {
			log.Infow("cartd_service_started", "service", svc.Name())
			exits <- serviceExit{name: svc.Name(), err: svc.Start(runCtx)}
		}(svc)
	}

	var runErr error
	pending := len(r.services)
	select {
	case <-ctx.Done():
		log.Infow("cartd_shutdown_requested", "reason", ctx.Err())
	case exit := <-exits:
		pending--
		r.logExit(log, exit)
		if exit.err != nil && !errors.Is(exit.err, context.Canceled) {
			runErr = fmt.Errorf("service %s: %w", exit.name, exit.err)
		}
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	var stopErrs []error
	for i := len(r.services) - 1; i >= 0; i-- {
		svc := r.services[i]
		if err := svc.Stop(stopCtx); err != nil {
			log.Errorw("cartd_service_stop_failed", "service", svc.Name(), "error", err)
			stopErrs = append(stopErrs, fmt.Errorf("stop %s: %w", svc.Name(), err))
		}
	}
	for pending > 0 {
		select {
		case exit := <-exits:
			pending--
			r.logExit(log, exit)
		case <-stopCtx.Done():
			log.Warnw("cartd_service_stop_timeout", "pending", pending, "timeout", stopTimeout.String())
			return errors.Join(append([]error{runErr}, stopErrs...)...)
		}
	}
	return errors.Join(append([]error{runErr}, stopErrs...)...)
}

func (r *Runner) logExit(log *zap.SugaredLogger, exit serviceExit) {
	if exit.err != nil && !errors.Is(exit.err, context.Canceled) {
		log.Errorw("cartd_service_exited", "service", exit.name, "error", exit.err)
		return
	}
	log.Infow("cartd_service_exited", "service", exit.name)
}
