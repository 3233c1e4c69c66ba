package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/visapay-next/internal/logger"
	"github.com/visapay-next/internal/provider"
	"github.com/visapay-next/internal/queue"
	"github.com/visapay-next/internal/service"

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
	mux.HandleFunc(queue.TaskPaymentExpire, c.handlePaymentExpire)
	mux.HandleFunc(queue.TaskPaymentPoll, c.handlePaymentPoll)
}

func (c *Consumer) handlePaymentExpire(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_payment_expire_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PaymentExpirePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_payment_expire_unmarshal_failed", "error", err)
		return err
	}
	if payload.PaymentID == 0 {
		logger.Debugw("worker_payment_expire_skip_invalid_payload", "payment_id", payload.PaymentID)
		return nil
	}
	if c.ReconcileService == nil {
		logger.Warnw("worker_payment_expire_skip_service_nil", "payment_id", payload.PaymentID)
		return nil
	}
	if err := c.ReconcileService.ExpirePayment(payload.PaymentID); err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			logger.Debugw("worker_payment_expire_skip_not_found", "payment_id", payload.PaymentID)
			return nil
		case errors.Is(err, service.ErrPaymentUpdateFailed):
			logger.Warnw("worker_payment_expire_update_failed", "payment_id", payload.PaymentID, "error", err)
			return err
		default:
			logger.Warnw("worker_payment_expire_failed", "payment_id", payload.PaymentID, "error", err)
			return err
		}
	}
	return nil
}

func (c *Consumer) handlePaymentPoll(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_payment_poll_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PaymentPollPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_payment_poll_unmarshal_failed", "error", err)
		return err
	}
	if payload.PaymentID == 0 {
		logger.Debugw("worker_payment_poll_skip_invalid_payload", "payment_id", payload.PaymentID)
		return nil
	}
	if c.ReconcileService == nil {
		logger.Warnw("worker_payment_poll_skip_service_nil", "payment_id", payload.PaymentID)
		return nil
	}
	if err := c.ReconcileService.PollPayment(ctx, payload.PaymentID); err != nil {
		switch {
		case errors.Is(err, service.ErrChannelNotFound):
			// 渠道已下线，放弃重试
			logger.Debugw("worker_payment_poll_skip_channel_missing", "payment_id", payload.PaymentID)
			return nil
		case errors.Is(err, service.ErrChannelConfigInvalid):
			logger.Warnw("worker_payment_poll_skip_channel_invalid", "payment_id", payload.PaymentID)
			return nil
		case errors.Is(err, service.ErrProviderUnavailable):
			// 网关抖动，交给 asynq 按退避重试
			logger.Warnw("worker_payment_poll_gateway_unavailable", "payment_id", payload.PaymentID)
			return err
		default:
			logger.Warnw("worker_payment_poll_failed", "payment_id", payload.PaymentID, "error", err)
			return err
		}
	}
	return nil
}
