package queue

import (
	"encoding/json"

	"github.com/visapay-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskPaymentExpire 支付超时取消任务
	TaskPaymentExpire = constants.TaskPaymentExpire
	// TaskPaymentPoll 支付状态轮询任务
	TaskPaymentPoll = constants.TaskPaymentPoll
)

// PaymentExpirePayload 支付超时取消任务载荷
type PaymentExpirePayload struct {
	PaymentID uint `json:"payment_id"`
}

// PaymentPollPayload 支付状态轮询任务载荷
type PaymentPollPayload struct {
	PaymentID uint `json:"payment_id"`
}

// NewPaymentExpireTask 创建支付超时取消任务
func NewPaymentExpireTask(payload PaymentExpirePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentExpire, body), nil
}

// NewPaymentPollTask 创建支付状态轮询任务
func NewPaymentPollTask(payload PaymentPollPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentPoll, body), nil
}
