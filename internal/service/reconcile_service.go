package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/visapay-next/internal/cache"
	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
	"github.com/visapay-next/internal/models"
	"github.com/visapay-next/internal/queue"
	"github.com/visapay-next/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 异常观测的归档原因
const (
	anomalyUnknownInvoice     = "unknown_invoice"
	anomalyUnknownStatus      = "unknown_status"
	anomalyAmountMismatch     = "amount_mismatch"
	anomalyRefundStatus       = "refund_status_ignored"
	anomalyTransitionRejected = "transition_rejected"
	anomalyDuplicate          = "duplicate"
	anomalyNoChange           = "no_change"
)

// callbackDedupeTTL 回调突发去重窗口
const callbackDedupeTTL = 5 * time.Second

// ReconcileService 对账服务。
// 支付单创建之后的所有状态写入都收口到这里：网关回调、主动轮询、
// 超时扫描、人工确认都转成统一的观测再落库，异常观测只归档不拒单。
type ReconcileService struct {
	paymentRepo repository.PaymentRepository
	eventRepo   repository.CallbackEventRepository
	channelRepo repository.ChannelRepository
	resolver    AdapterResolver
	queueClient *queue.Client
	pollGrace   time.Duration
	batchSize   int
}

// NewReconcileService 创建对账服务
func NewReconcileService(paymentRepo repository.PaymentRepository, eventRepo repository.CallbackEventRepository, channelRepo repository.ChannelRepository, resolver AdapterResolver, queueClient *queue.Client, pollGraceMinutes, batchSize int) *ReconcileService {
	if pollGraceMinutes < 0 {
		pollGraceMinutes = 0
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReconcileService{
		paymentRepo: paymentRepo,
		eventRepo:   eventRepo,
		channelRepo: channelRepo,
		resolver:    resolver,
		queueClient: queueClient,
		pollGrace:   time.Duration(pollGraceMinutes) * time.Minute,
		batchSize:   batchSize,
	}
}

// HandleCallback 处理网关异步回调。
// 验签失败或报文非法返回 ErrCallbackMalformed，其余异常观测一律归档后正常返回。
func (s *ReconcileService) HandleCallback(ctx context.Context, provider string, req *gateway.CallbackRequest) (*models.Payment, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	log := paymentLogger("provider", provider, "source", constants.ObservationSourceWebhook)

	adapter, err := s.resolveAdapter(provider)
	if err != nil {
		return nil, err
	}

	obs, err := adapter.ParseCallback(req)
	if err != nil {
		log.Warnw("payment_callback_rejected", "error", err)
		return nil, mapGatewayError(err)
	}

	log.Infow("payment_callback_received",
		"gateway_invoice_id", obs.GatewayInvoiceID,
		"observed_status", obs.Status,
		"observed_amount", obs.Amount,
	)

	// 突发重复回调先走 Redis 短窗去重，未启用缓存时直接放行
	dedupeKey := fmt.Sprintf("callback:dedupe:%s:%s:%s", provider, obs.GatewayInvoiceID, obs.Status)
	acquired, err := cache.SetNX(ctx, dedupeKey, callbackDedupeTTL)
	if err != nil {
		log.Warnw("payment_callback_dedupe_failed", "error", err)
		acquired = true
	}
	if !acquired {
		log.Infow("payment_callback_burst_skipped", "gateway_invoice_id", obs.GatewayInvoiceID)
		payment, err := s.paymentRepo.GetByGatewayInvoiceID(obs.GatewayInvoiceID)
		if err != nil {
			return nil, err
		}
		return payment, nil
	}

	return s.ApplyObservation(constants.ObservationSourceWebhook, provider, obs)
}

// ApplyObservation 将一次网关侧观测落到支付单上。
// 返回观测命中的支付单（异常观测归档后返回 nil），只有存储故障才返回错误。
func (s *ReconcileService) ApplyObservation(source, provider string, obs *gateway.Observation) (*models.Payment, error) {
	if obs == nil || strings.TrimSpace(obs.GatewayInvoiceID) == "" {
		return nil, ErrCallbackMalformed
	}
	status := normalizePaymentStatus(obs.Status)
	log := paymentLogger(
		"provider", provider,
		"source", source,
		"gateway_invoice_id", obs.GatewayInvoiceID,
		"observed_status", status,
	)

	if !isPaymentStatusValid(status) {
		log.Warnw("payment_observation_unknown_status")
		return nil, s.recordAnomaly(provider, source, obs, status, anomalyUnknownStatus)
	}

	payment, err := s.paymentRepo.GetByGatewayInvoiceID(obs.GatewayInvoiceID)
	if err != nil {
		log.Errorw("payment_observation_fetch_failed", "error", err)
		return nil, ErrPaymentUpdateFailed
	}
	if payment == nil {
		log.Warnw("payment_observation_unknown_invoice")
		return nil, s.recordAnomaly(provider, source, obs, status, anomalyUnknownInvoice)
	}

	return s.applyToPayment(log.With("payment_id", payment.ID), payment, source, obs, status)
}

// applyToPayment 对已定位的支付单执行观测落库，带乐观锁重试
func (s *ReconcileService) applyToPayment(log *zap.SugaredLogger, payment *models.Payment, source string, obs *gateway.Observation, status string) (*models.Payment, error) {
	// 退款态只能由退款流程写入，网关侧观测到的退款不在对账路径处理
	if status == constants.PaymentStatusRefunded || status == constants.PaymentStatusPartiallyRefunded {
		log.Warnw("payment_observation_refund_ignored")
		return payment, s.recordPaymentAnomaly(payment, source, obs, status, anomalyRefundStatus)
	}

	// 带金额的观测必须与本地单一致，金额不一致绝不入账
	if obs.Amount > 0 && obs.Amount != payment.Amount {
		log.Warnw("payment_observation_amount_mismatch",
			"expected_amount", payment.Amount,
			"observed_amount", obs.Amount,
		)
		return payment, s.recordPaymentAnomaly(payment, source, obs, status, anomalyAmountMismatch)
	}

	// 幂等处理：同一网关单的同一状态只应用一次
	applied, err := s.eventRepo.HasApplied(payment.GatewayInvoiceID, status)
	if err != nil {
		log.Errorw("payment_observation_dedupe_query_failed", "error", err)
		return nil, ErrPaymentUpdateFailed
	}
	if applied {
		log.Infow("payment_observation_duplicate")
		return payment, s.recordPaymentAnomaly(payment, source, obs, status, anomalyDuplicate)
	}

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		if payment.Status == status {
			log.Infow("payment_observation_no_change")
			return payment, s.recordPaymentAnomaly(payment, source, obs, status, anomalyNoChange)
		}
		if !isTransitionAllowed(payment.Status, status) {
			// 迟到或乱序的观测：终态保护，归档不回退
			log.Warnw("payment_observation_transition_rejected", "current_status", payment.Status)
			return payment, s.recordPaymentAnomaly(payment, source, obs, status, anomalyTransitionRejected)
		}

		update := repository.TransitionUpdate{Status: status}
		if status == constants.PaymentStatusPaid {
			paidAt := obs.ObservedAt
			if paidAt.IsZero() {
				paidAt = time.Now()
			}
			update.PaidAt = &paidAt
		}

		err = models.DB.Transaction(func(tx *gorm.DB) error {
			if err := s.paymentRepo.WithTx(tx).UpdateTransition(payment, update); err != nil {
				return err
			}
			return s.eventRepo.WithTx(tx).Create(s.buildEvent(payment.Provider, source, obs, status, &status, ""))
		})
		if err == nil {
			log.Infow("payment_observation_applied",
				"status", status,
				"version", payment.Version,
			)
			return payment, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			log.Errorw("payment_observation_apply_failed", "error", err)
			return nil, ErrPaymentUpdateFailed
		}

		// 并发写抢先，重读后按最新状态重新裁决
		fresh, fetchErr := s.paymentRepo.GetByID(payment.ID)
		if fetchErr != nil || fresh == nil {
			log.Errorw("payment_observation_refetch_failed", "error", fetchErr)
			return nil, ErrPaymentUpdateFailed
		}
		payment = fresh
	}

	log.Warnw("payment_observation_cas_exhausted")
	return payment, s.recordPaymentAnomaly(payment, source, obs, status, anomalyTransitionRejected)
}

// PollPayment 主动轮询一笔支付单的网关状态
func (s *ReconcileService) PollPayment(ctx context.Context, paymentID uint) error {
	payment, err := s.paymentRepo.GetByID(paymentID)
	if err != nil {
		return err
	}
	if payment == nil || payment.GatewayInvoiceID == "" {
		return nil
	}
	if isTerminalPaymentStatus(payment.Status) || isSettledPaymentStatus(payment.Status) {
		return nil
	}
	return s.pollOne(ctx, payment)
}

func (s *ReconcileService) pollOne(ctx context.Context, payment *models.Payment) error {
	log := paymentLogger(
		"payment_id", payment.ID,
		"provider", payment.Provider,
		"source", constants.ObservationSourcePoll,
	)

	adapter, err := s.resolveAdapter(payment.Provider)
	if err != nil {
		log.Warnw("payment_poll_adapter_unavailable", "error", err)
		return err
	}

	obs, err := adapter.PollStatus(ctx, payment.GatewayInvoiceID)
	if err != nil {
		if errors.Is(err, gateway.ErrUnsupported) {
			// 线下渠道没有可轮询的网关状态
			return nil
		}
		log.Warnw("payment_poll_failed", "error", err)
		return mapGatewayError(err)
	}

	_, err = s.applyToPayment(log, payment, constants.ObservationSourcePoll, obs, normalizePaymentStatus(obs.Status))
	return err
}

// RunPollSweep 扫描超过轮询宽限期仍未结算的支付单并逐笔对账。
// 队列可用时逐笔下发轮询任务，交给 asynq 按退避重试；否则就地轮询。
func (s *ReconcileService) RunPollSweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.pollGrace)
	payments, err := s.paymentRepo.ListSettleable(cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}
	polled := 0
	for i := range payments {
		if ctx.Err() != nil {
			return polled, ctx.Err()
		}
		if s.queueClient.Enabled() {
			if err := s.queueClient.EnqueuePaymentPoll(queue.PaymentPollPayload{PaymentID: payments[i].ID}); err != nil {
				paymentLogger("payment_id", payments[i].ID).
					Warnw("payment_poll_enqueue_failed", "error", err)
				continue
			}
			polled++
			continue
		}
		if err := s.pollOne(ctx, &payments[i]); err != nil {
			// 单笔失败不阻塞本轮其余支付单
			continue
		}
		polled++
	}
	return polled, nil
}

// RunExpirySweep 扫描过期未支付的支付单并取消
func (s *ReconcileService) RunExpirySweep(ctx context.Context) (int, error) {
	payments, err := s.paymentRepo.ListExpired(time.Now(), s.batchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range payments {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if err := s.ExpirePayment(payments[i].ID); err != nil {
			continue
		}
		expired++
	}
	return expired, nil
}

// ExpirePayment 将超时未支付的支付单置为已取消。
// 网关在窗口内已经确认成功的，由状态流转表保护不被取消。
func (s *ReconcileService) ExpirePayment(paymentID uint) error {
	payment, err := s.paymentRepo.GetByID(paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return nil
	}
	if payment.Status != constants.PaymentStatusPending {
		return nil
	}
	if payment.ExpiresAt == nil || payment.ExpiresAt.After(time.Now()) {
		return nil
	}

	obs := &gateway.Observation{
		GatewayInvoiceID: payment.GatewayInvoiceID,
		Status:           constants.PaymentStatusCancelled,
		ObservedAt:       time.Now(),
	}
	log := paymentLogger(
		"payment_id", payment.ID,
		"provider", payment.Provider,
		"source", constants.ObservationSourceSweep,
	)
	_, err = s.applyToPayment(log, payment, constants.ObservationSourceSweep, obs, constants.PaymentStatusCancelled)
	return err
}

// ConfirmManual 管理员人工确认到账（银行转账等线下渠道）。
// 复用对账落库路径，金额以本地单为准。
func (s *ReconcileService) ConfirmManual(paymentID uint, actorID uint, note string) (*models.Payment, error) {
	payment, err := s.paymentRepo.GetByID(paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	if isSettledPaymentStatus(payment.Status) {
		return payment, nil
	}
	if isTerminalPaymentStatus(payment.Status) {
		return nil, ErrTransitionInvalid
	}

	obs := &gateway.Observation{
		GatewayInvoiceID: payment.GatewayInvoiceID,
		Status:           constants.PaymentStatusPaid,
		Amount:           payment.Amount,
		ObservedAt:       time.Now(),
		Raw: map[string]interface{}{
			"actor_id": actorID,
			"note":     strings.TrimSpace(note),
		},
	}
	log := paymentLogger(
		"payment_id", payment.ID,
		"provider", payment.Provider,
		"source", constants.ObservationSourceAdmin,
		"actor_id", actorID,
	)
	updated, err := s.applyToPayment(log, payment, constants.ObservationSourceAdmin, obs, constants.PaymentStatusPaid)
	if err != nil {
		return nil, err
	}
	if updated == nil || updated.Status != constants.PaymentStatusPaid {
		return nil, ErrTransitionInvalid
	}
	return updated, nil
}

func (s *ReconcileService) resolveAdapter(provider string) (gateway.Adapter, error) {
	channel, err := s.channelRepo.GetActiveByProvider(provider)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, ErrChannelNotFound
	}
	adapter, err := s.resolver.Resolve(provider, channel.ConfigJSON)
	if err != nil {
		return nil, ErrChannelConfigInvalid
	}
	return adapter, nil
}

// recordAnomaly 归档一条未命中支付单的异常观测
func (s *ReconcileService) recordAnomaly(provider, source string, obs *gateway.Observation, status, note string) error {
	if err := s.eventRepo.Create(s.buildEvent(provider, source, obs, status, nil, note)); err != nil {
		paymentLogger("provider", provider, "source", source).
			Errorw("payment_anomaly_record_failed", "error", err)
		return ErrPaymentUpdateFailed
	}
	return nil
}

// recordPaymentAnomaly 归档一条命中支付单但未应用的观测
func (s *ReconcileService) recordPaymentAnomaly(payment *models.Payment, source string, obs *gateway.Observation, status, note string) error {
	return s.recordAnomaly(payment.Provider, source, obs, status, note)
}

func (s *ReconcileService) buildEvent(provider, source string, obs *gateway.Observation, status string, applied *string, note string) *models.CallbackEvent {
	receivedAt := obs.ObservedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return &models.CallbackEvent{
		Provider:         provider,
		GatewayInvoiceID: obs.GatewayInvoiceID,
		Source:           source,
		ObservedStatus:   status,
		ObservedAmount:   obs.Amount,
		AppliedStatus:    applied,
		Note:             note,
		RawPayload:       models.JSON(obs.Raw),
		ReceivedAt:       receivedAt,
	}
}
