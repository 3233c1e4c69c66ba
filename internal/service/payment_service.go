package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
	"github.com/visapay-next/internal/logger"
	"github.com/visapay-next/internal/models"
	"github.com/visapay-next/internal/queue"
	"github.com/visapay-next/internal/repository"

	"go.uber.org/zap"
)

// AdapterResolver 根据提供方与渠道配置构建网关适配器
type AdapterResolver interface {
	Resolve(provider string, raw map[string]interface{}) (gateway.Adapter, error)
}

// PaymentService 支付单服务
type PaymentService struct {
	paymentRepo   repository.PaymentRepository
	channelRepo   repository.ChannelRepository
	resolver      AdapterResolver
	queueClient   *queue.Client
	currency      string
	expireMinutes int
	servicePrices map[string]int64
}

// NewPaymentService 创建支付单服务
func NewPaymentService(paymentRepo repository.PaymentRepository, channelRepo repository.ChannelRepository, resolver AdapterResolver, queueClient *queue.Client, currency string, expireMinutes int, servicePrices map[string]int64) *PaymentService {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = constants.SiteCurrencyDefault
	}
	if expireMinutes <= 0 {
		expireMinutes = 15
	}
	return &PaymentService{
		paymentRepo:   paymentRepo,
		channelRepo:   channelRepo,
		resolver:      resolver,
		queueClient:   queueClient,
		currency:      currency,
		expireMinutes: expireMinutes,
		servicePrices: servicePrices,
	}
}

func paymentLogger(kv ...interface{}) *zap.SugaredLogger {
	if len(kv) == 0 {
		return logger.S()
	}
	return logger.SW(kv...)
}

// CreatePaymentInput 创建支付单输入
type CreatePaymentInput struct {
	OwnerID        uint
	ServiceType    string
	Provider       string
	Amount         int64 // 0 表示按业务类型默认价格
	ApplicationRef string
	Description    string
	Metadata       map[string]string
}

// CreatePayment 创建支付单并向网关下发发票
func (s *PaymentService) CreatePayment(ctx context.Context, input CreatePaymentInput) (*models.Payment, error) {
	if input.OwnerID == 0 {
		return nil, ErrPaymentInvalid
	}
	serviceType := strings.ToLower(strings.TrimSpace(input.ServiceType))
	if !isSupportedServiceType(serviceType) {
		return nil, ErrPaymentInvalid
	}
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	if provider == "" {
		return nil, ErrPaymentInvalid
	}

	amount := input.Amount
	if amount == 0 {
		amount = s.servicePrices[serviceType]
	}
	if amount <= 0 {
		return nil, ErrPaymentInvalid
	}

	log := paymentLogger(
		"owner_id", input.OwnerID,
		"service_type", serviceType,
		"provider", provider,
	)

	channel, err := s.channelRepo.GetActiveByProvider(provider)
	if err != nil {
		log.Errorw("payment_channel_fetch_failed", "error", err)
		return nil, ErrPaymentCreateFailed
	}
	if channel == nil {
		return nil, ErrChannelNotFound
	}

	adapter, err := s.resolver.Resolve(provider, channel.ConfigJSON)
	if err != nil {
		log.Errorw("payment_adapter_resolve_failed", "channel_id", channel.ID, "error", err)
		return nil, ErrChannelConfigInvalid
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(s.expireMinutes) * time.Minute)
	payment := &models.Payment{
		InvoiceNo:      generateInvoiceNo(),
		OwnerID:        input.OwnerID,
		ApplicationRef: strings.TrimSpace(input.ApplicationRef),
		ServiceType:    serviceType,
		Amount:         amount,
		Currency:       s.currency,
		Provider:       provider,
		Status:         constants.PaymentStatusPending,
		Description:    strings.TrimSpace(input.Description),
		ExpiresAt:      &expiresAt,
	}
	if err := s.paymentRepo.Create(payment); err != nil {
		log.Errorw("payment_create_failed", "error", err)
		return nil, ErrPaymentCreateFailed
	}

	log = log.With("payment_id", payment.ID, "invoice_no", payment.InvoiceNo)

	result, err := adapter.CreateInvoice(ctx, gateway.CreateInvoiceInput{
		InvoiceNo:   payment.InvoiceNo,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Description: payment.Description,
		Metadata:    input.Metadata,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		// 网关下发失败：本地单直接判失败，调用方可用新单重试
		if failErr := s.paymentRepo.UpdateTransition(payment, repository.TransitionUpdate{
			Status: constants.PaymentStatusFailed,
		}); failErr != nil {
			log.Errorw("payment_mark_failed_error", "error", failErr)
		}
		log.Warnw("payment_invoice_create_failed", "error", err)
		return nil, mapGatewayError(err)
	}

	payment.GatewayInvoiceID = result.GatewayInvoiceID
	payment.ProviderPayload = models.JSON(result.Payload)
	if result.ExpiresAt != nil {
		payment.ExpiresAt = result.ExpiresAt
	}
	if err := s.paymentRepo.UpdateProviderResult(payment); err != nil {
		log.Errorw("payment_provider_result_save_failed", "error", err)
		return nil, ErrPaymentCreateFailed
	}

	if s.queueClient != nil && payment.ExpiresAt != nil {
		delay := time.Until(*payment.ExpiresAt)
		if err := s.queueClient.EnqueuePaymentExpire(queue.PaymentExpirePayload{PaymentID: payment.ID}, delay); err != nil {
			log.Warnw("payment_expire_enqueue_failed", "error", err)
		}
	}

	log.Infow("payment_created",
		"amount", payment.Amount,
		"gateway_invoice_id", payment.GatewayInvoiceID,
	)
	return payment, nil
}

// GetPayment 按 ID 获取支付单
func (s *PaymentService) GetPayment(id uint) (*models.Payment, error) {
	if id == 0 {
		return nil, ErrPaymentNotFound
	}
	payment, err := s.paymentRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// GetPaymentByInvoiceNo 按发票号获取支付单
func (s *PaymentService) GetPaymentByInvoiceNo(invoiceNo string) (*models.Payment, error) {
	payment, err := s.paymentRepo.GetByInvoiceNo(invoiceNo)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// ListPayments 按筛选条件分页列出支付单
func (s *PaymentService) ListPayments(filter repository.PaymentListFilter) ([]models.Payment, int64, error) {
	return s.paymentRepo.ListAdmin(filter)
}

// CancelPayment 取消待支付单。重复取消幂等返回，已进入结算流程的返回 ErrAlreadySettling。
func (s *PaymentService) CancelPayment(id uint) (*models.Payment, error) {
	payment, err := s.GetPayment(id)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		switch payment.Status {
		case constants.PaymentStatusCancelled:
			return payment, nil
		case constants.PaymentStatusPending:
		default:
			return nil, ErrAlreadySettling
		}

		err = s.paymentRepo.UpdateTransition(payment, repository.TransitionUpdate{
			Status: constants.PaymentStatusCancelled,
		})
		if err == nil {
			paymentLogger("payment_id", payment.ID, "invoice_no", payment.InvoiceNo).
				Infow("payment_cancelled")
			return payment, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, ErrPaymentUpdateFailed
		}
		// 版本冲突：重读后按最新状态再判
		payment, err = s.GetPayment(id)
		if err != nil {
			return nil, err
		}
	}
	return nil, ErrAlreadySettling
}

// casMaxAttempts 乐观锁冲突时的最大重试次数
const casMaxAttempts = 3

func isSupportedServiceType(serviceType string) bool {
	for _, candidate := range constants.SupportedServiceTypes {
		if candidate == serviceType {
			return true
		}
	}
	return false
}

// mapGatewayError 将适配器错误映射为业务错误
func mapGatewayError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrUnavailable):
		return ErrProviderUnavailable
	case errors.Is(err, gateway.ErrRejected), errors.Is(err, gateway.ErrInvoiceNotFound):
		return ErrProviderRejected
	case errors.Is(err, gateway.ErrMalformedCallback):
		return ErrCallbackMalformed
	case errors.Is(err, gateway.ErrConfigInvalid):
		return ErrChannelConfigInvalid
	case errors.Is(err, gateway.ErrUnsupported):
		return ErrCallbackUnsupported
	default:
		return ErrProviderUnavailable
	}
}

func generateInvoiceNo() string {
	now := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s%s%s", constants.InvoiceNoPrefix, now, randNumeric(6))
}

func randNumeric(length int) string {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b.WriteString("0")
			continue
		}
		b.WriteString(n.String())
	}
	return b.String()
}
