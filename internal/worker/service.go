package worker

import (
	"context"
	"errors"
	"time"

	"github.com/visapay-next/internal/config"
	"github.com/visapay-next/internal/logger"
	"github.com/visapay-next/internal/queue"

	"github.com/hibiken/asynq"
)

const defaultSweepInterval = time.Minute

// Service 异步队列服务
type Service struct {
	name          string
	server        *asynq.Server
	mux           *asynq.ServeMux
	consumer      *Consumer
	sweepInterval time.Duration
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer, sweepIntervalSeconds int) (*Service, error) {
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
	sweepInterval := defaultSweepInterval
	if sweepIntervalSeconds > 0 {
		sweepInterval = time.Duration(sweepIntervalSeconds) * time.Second
	}
	return &Service{
		name:          "worker",
		server:        server,
		mux:           mux,
		consumer:      consumer,
		sweepInterval: sweepInterval,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if s.consumer != nil && s.consumer.ReconcileService != nil {
		go s.runReconcileSweepLoop(ctx)
	}
	return s.server.Run(s.mux)
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

// runReconcileSweepLoop 周期性对账：先轮询未结算单，再取消过期单
func (s *Service) runReconcileSweepLoop(ctx context.Context) {
	if s == nil || s.consumer == nil || s.consumer.ReconcileService == nil {
		return
	}
	runOnce := func() {
		polled, err := s.consumer.ReconcileService.RunPollSweep(ctx)
		if err != nil {
			logger.Warnw("worker_reconcile_poll_sweep_failed", "error", err)
		} else if polled > 0 {
			logger.Infow("worker_reconcile_poll_sweep_done", "polled", polled)
		}
		expired, err := s.consumer.ReconcileService.RunExpirySweep(ctx)
		if err != nil {
			logger.Warnw("worker_reconcile_expiry_sweep_failed", "error", err)
		} else if expired > 0 {
			logger.Infow("worker_reconcile_expiry_sweep_done", "expired", expired)
		}
	}
	runOnce()

	ticker := time.NewTicker(s.sweepInterval)
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
