package service

import (
	"context"
	"errors"
	"strings"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
	"github.com/visapay-next/internal/models"
	"github.com/visapay-next/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RefundService 退款服务。
// 先拿网关确认，再落本地账：网关失败时本地状态与退款累计保持不变。
type RefundService struct {
	paymentRepo repository.PaymentRepository
	refundRepo  repository.RefundRepository
	channelRepo repository.ChannelRepository
	resolver    AdapterResolver
}

// NewRefundService 创建退款服务
func NewRefundService(paymentRepo repository.PaymentRepository, refundRepo repository.RefundRepository, channelRepo repository.ChannelRepository, resolver AdapterResolver) *RefundService {
	return &RefundService{
		paymentRepo: paymentRepo,
		refundRepo:  refundRepo,
		channelRepo: channelRepo,
		resolver:    resolver,
	}
}

// RefundInput 发起退款输入
type RefundInput struct {
	PaymentID uint
	Amount    int64
	Reason    string
	ActorID   uint
}

// RefundPayment 对已结算支付单发起（部分）退款。
// 金额缺省（为 0）时按剩余可退余额全额退款。
func (s *RefundService) RefundPayment(ctx context.Context, input RefundInput) (*models.Payment, *models.RefundEntry, error) {
	if input.PaymentID == 0 || input.Amount < 0 {
		return nil, nil, ErrRefundAmountInvalid
	}

	payment, err := s.paymentRepo.GetByID(input.PaymentID)
	if err != nil {
		return nil, nil, err
	}
	if payment == nil {
		return nil, nil, ErrPaymentNotFound
	}
	if input.Amount == 0 {
		input.Amount = payment.Amount - payment.RefundedAmount
	}
	if err := validateRefundable(payment, input.Amount); err != nil {
		return nil, nil, err
	}

	log := paymentLogger(
		"payment_id", payment.ID,
		"invoice_no", payment.InvoiceNo,
		"provider", payment.Provider,
		"refund_amount", input.Amount,
		"actor_id", input.ActorID,
	)

	channel, err := s.channelRepo.GetActiveByProvider(payment.Provider)
	if err != nil {
		return nil, nil, err
	}
	if channel == nil {
		return nil, nil, ErrChannelNotFound
	}
	adapter, err := s.resolver.Resolve(payment.Provider, channel.ConfigJSON)
	if err != nil {
		return nil, nil, ErrChannelConfigInvalid
	}

	// 网关确认在前：失败直接返回，不动本地账
	requestID := uuid.NewString()
	result, err := adapter.Refund(ctx, gateway.RefundInput{
		GatewayInvoiceID: payment.GatewayInvoiceID,
		Amount:           input.Amount,
		Currency:         payment.Currency,
		Reason:           strings.TrimSpace(input.Reason),
		RequestID:        requestID,
	})
	if err != nil {
		log.Warnw("payment_refund_gateway_failed", "error", err)
		return nil, nil, mapGatewayError(err)
	}

	entry := &models.RefundEntry{
		PaymentID:       payment.ID,
		Amount:          input.Amount,
		Reason:          strings.TrimSpace(input.Reason),
		ActorID:         input.ActorID,
		GatewayRefundID: result.GatewayRefundID,
	}

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		newRefunded := payment.RefundedAmount + input.Amount
		newStatus := constants.PaymentStatusPartiallyRefunded
		if newRefunded == payment.Amount {
			newStatus = constants.PaymentStatusRefunded
		}

		err = models.DB.Transaction(func(tx *gorm.DB) error {
			if err := s.paymentRepo.WithTx(tx).UpdateRefund(payment, repository.RefundUpdate{
				Status:         newStatus,
				RefundedAmount: newRefunded,
			}); err != nil {
				return err
			}
			return s.refundRepo.WithTx(tx).Create(entry)
		})
		if err == nil {
			log.Infow("payment_refunded",
				"status", payment.Status,
				"refunded_amount", payment.RefundedAmount,
				"gateway_refund_id", result.GatewayRefundID,
			)
			return payment, entry, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			log.Errorw("payment_refund_save_failed", "error", err)
			return nil, nil, ErrPaymentUpdateFailed
		}

		// 并发写抢先：重读后重验可退余额，网关侧已确认的金额不重复下发
		fresh, fetchErr := s.paymentRepo.GetByID(payment.ID)
		if fetchErr != nil || fresh == nil {
			return nil, nil, ErrPaymentUpdateFailed
		}
		payment = fresh
		if err := validateRefundable(payment, input.Amount); err != nil {
			log.Warnw("payment_refund_conflict_rejected", "status", payment.Status)
			return nil, nil, err
		}
	}

	return nil, nil, ErrPaymentUpdateFailed
}

// ListRefunds 列出支付单的退款明细
func (s *RefundService) ListRefunds(paymentID uint) ([]models.RefundEntry, error) {
	if paymentID == 0 {
		return nil, ErrPaymentNotFound
	}
	payment, err := s.paymentRepo.GetByID(paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return s.refundRepo.ListByPaymentID(paymentID)
}

// validateRefundable 校验支付单可退与金额上限
func validateRefundable(payment *models.Payment, amount int64) error {
	if amount <= 0 {
		return ErrRefundAmountInvalid
	}
	switch payment.Status {
	case constants.PaymentStatusPaid, constants.PaymentStatusPartiallyRefunded:
	case constants.PaymentStatusRefunded:
		return ErrPaymentNotRefundable
	default:
		return ErrPaymentNotRefundable
	}
	if amount > payment.Amount-payment.RefundedAmount {
		return ErrRefundAmountInvalid
	}
	return nil
}
