package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
	"github.com/visapay-next/internal/models"
	"github.com/visapay-next/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// stubAdapter 可编程的网关适配器替身，服务层测试共用
type stubAdapter struct {
	providerName string
	createResult *gateway.CreateInvoiceResult
	createErr    error
	parseObs     *gateway.Observation
	parseErr     error
	pollObs      *gateway.Observation
	pollErr      error
	refundResult *gateway.RefundResult
	refundErr    error
	refundHook   func()
	refundCalls  int
}

func (a *stubAdapter) Provider() string {
	return a.providerName
}

func (a *stubAdapter) CreateInvoice(ctx context.Context, input gateway.CreateInvoiceInput) (*gateway.CreateInvoiceResult, error) {
	if a.createErr != nil {
		return nil, a.createErr
	}
	if a.createResult != nil {
		return a.createResult, nil
	}
	return &gateway.CreateInvoiceResult{
		GatewayInvoiceID: "GW-" + input.InvoiceNo,
		Payload:          map[string]interface{}{"qr_text": "stub"},
	}, nil
}

func (a *stubAdapter) ParseCallback(req *gateway.CallbackRequest) (*gateway.Observation, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return a.parseObs, nil
}

func (a *stubAdapter) PollStatus(ctx context.Context, gatewayInvoiceID string) (*gateway.Observation, error) {
	if a.pollErr != nil {
		return nil, a.pollErr
	}
	return a.pollObs, nil
}

func (a *stubAdapter) Refund(ctx context.Context, input gateway.RefundInput) (*gateway.RefundResult, error) {
	a.refundCalls++
	if a.refundHook != nil {
		a.refundHook()
	}
	if a.refundErr != nil {
		return nil, a.refundErr
	}
	if a.refundResult != nil {
		return a.refundResult, nil
	}
	return &gateway.RefundResult{GatewayRefundID: "GWR-" + input.RequestID}, nil
}

type stubResolver struct {
	adapter gateway.Adapter
	err     error
}

func (r *stubResolver) Resolve(provider string, raw map[string]interface{}) (gateway.Adapter, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.adapter, nil
}

func setupServiceTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Channel{},
		&models.Payment{},
		&models.RefundEntry{},
		&models.CallbackEvent{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	models.DB = db
	return db
}

func seedActiveChannel(t *testing.T, db *gorm.DB, provider string) {
	t.Helper()
	channel := models.Channel{
		Provider:   provider,
		Name:       provider,
		ConfigJSON: models.JSON(map[string]interface{}{"endpoint": "https://stub"}),
		IsActive:   true,
	}
	if err := db.Create(&channel).Error; err != nil {
		t.Fatalf("seed channel %s failed: %v", provider, err)
	}
}

func seedReconcilePayment(t *testing.T, db *gorm.DB, invoiceNo, status, gatewayInvoiceID string, amount int64) *models.Payment {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	payment := models.Payment{
		InvoiceNo:        invoiceNo,
		OwnerID:          1,
		ServiceType:      constants.ServiceTypeApplication,
		Amount:           amount,
		Currency:         "MNT",
		Provider:         constants.ProviderQPay,
		Status:           status,
		GatewayInvoiceID: gatewayInvoiceID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment %s failed: %v", invoiceNo, err)
	}
	return &payment
}

func setupReconcileServiceTest(t *testing.T) (*ReconcileService, *stubAdapter, *gorm.DB) {
	t.Helper()
	db := setupServiceTestDB(t, "reconcile_service_test")
	adapter := &stubAdapter{providerName: constants.ProviderQPay}
	seedActiveChannel(t, db, constants.ProviderQPay)
	svc := NewReconcileService(
		repository.NewPaymentRepository(db),
		repository.NewCallbackEventRepository(db),
		repository.NewChannelRepository(db),
		&stubResolver{adapter: adapter},
		nil,
		10,
		100,
	)
	return svc, adapter, db
}

func countEvents(t *testing.T, db *gorm.DB, gatewayInvoiceID, note string) int64 {
	t.Helper()
	var count int64
	query := db.Model(&models.CallbackEvent{}).Where("gateway_invoice_id = ?", gatewayInvoiceID)
	if note != "" {
		query = query.Where("note = ?", note)
	}
	if err := query.Count(&count).Error; err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	return count
}

func TestApplyObservationPaid(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC001", constants.PaymentStatusPending, "GW-RC001", 180000000)

	observedAt := time.Now().UTC().Truncate(time.Second)
	updated, err := svc.ApplyObservation(constants.ObservationSourceWebhook, constants.ProviderQPay, &gateway.Observation{
		GatewayInvoiceID: "GW-RC001",
		Status:           constants.PaymentStatusPaid,
		Amount:           180000000,
		ObservedAt:       observedAt,
	})
	if err != nil {
		t.Fatalf("ApplyObservation failed: %v", err)
	}
	if updated == nil || updated.Status != constants.PaymentStatusPaid {
		t.Fatalf("expected paid payment, got %+v", updated)
	}

	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusPaid {
		t.Fatalf("expected status paid, got %s", stored.Status)
	}
	if stored.Version != 1 {
		t.Fatalf("expected version 1, got %d", stored.Version)
	}
	if stored.PaidAt == nil || !stored.PaidAt.Equal(observedAt) {
		t.Fatalf("expected paid_at %v, got %v", observedAt, stored.PaidAt)
	}

	var event models.CallbackEvent
	if err := db.Where("gateway_invoice_id = ?", "GW-RC001").First(&event).Error; err != nil {
		t.Fatalf("load event failed: %v", err)
	}
	if event.AppliedStatus == nil || *event.AppliedStatus != constants.PaymentStatusPaid {
		t.Fatalf("expected applied_status paid, got %+v", event.AppliedStatus)
	}
}

func TestApplyObservationDuplicateIsIdempotent(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC002", constants.PaymentStatusPending, "GW-RC002", 100000)

	obs := &gateway.Observation{
		GatewayInvoiceID: "GW-RC002",
		Status:           constants.PaymentStatusPaid,
		Amount:           100000,
		ObservedAt:       time.Now(),
	}
	if _, err := svc.ApplyObservation(constants.ObservationSourceWebhook, constants.ProviderQPay, obs); err != nil {
		t.Fatalf("first observation failed: %v", err)
	}
	if _, err := svc.ApplyObservation(constants.ObservationSourceWebhook, constants.ProviderQPay, obs); err != nil {
		t.Fatalf("duplicate observation must not error: %v", err)
	}

	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Version != 1 {
		t.Fatalf("duplicate must not bump version, got %d", stored.Version)
	}
	if got := countEvents(t, db, "GW-RC002", "duplicate"); got != 1 {
		t.Fatalf("expected 1 duplicate event, got %d", got)
	}
}

func TestApplyObservationStalePendingAfterPaid(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC003", constants.PaymentStatusPaid, "GW-RC003", 100000)

	_, err := svc.ApplyObservation(constants.ObservationSourcePoll, constants.ProviderQPay, &gateway.Observation{
		GatewayInvoiceID: "GW-RC003",
		Status:           constants.PaymentStatusPending,
		ObservedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("stale observation must be absorbed: %v", err)
	}

	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusPaid {
		t.Fatalf("stale pending must not downgrade paid, got %s", stored.Status)
	}
	if got := countEvents(t, db, "GW-RC003", "transition_rejected"); got != 1 {
		t.Fatalf("expected transition_rejected event, got %d", got)
	}
}

func TestApplyObservationAmountMismatchAbsorbed(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC004", constants.PaymentStatusPending, "GW-RC004", 100000)

	_, err := svc.ApplyObservation(constants.ObservationSourceWebhook, constants.ProviderQPay, &gateway.Observation{
		GatewayInvoiceID: "GW-RC004",
		Status:           constants.PaymentStatusPaid,
		Amount:           99999,
		ObservedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("amount mismatch must be absorbed: %v", err)
	}

	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusPending {
		t.Fatalf("mismatched amount must not settle the payment, got %s", stored.Status)
	}
	if got := countEvents(t, db, "GW-RC004", "amount_mismatch"); got != 1 {
		t.Fatalf("expected amount_mismatch event, got %d", got)
	}
}

func TestApplyObservationNonPaidAmountMismatchAbsorbed(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC012", constants.PaymentStatusPending, "GW-RC012", 100000)

	// 非成功态观测携带错误金额同样不得入账
	_, err := svc.ApplyObservation(constants.ObservationSourcePoll, constants.ProviderQPay, &gateway.Observation{
		GatewayInvoiceID: "GW-RC012",
		Status:           constants.PaymentStatusProcessing,
		Amount:           12345,
		ObservedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("amount mismatch must be absorbed: %v", err)
	}

	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusPending {
		t.Fatalf("mismatched processing observation must not apply, got %s", stored.Status)
	}
	if got := countEvents(t, db, "GW-RC012", "amount_mismatch"); got != 1 {
		t.Fatalf("expected amount_mismatch event, got %d", got)
	}
}

func TestApplyObservationUnknownInvoiceArchived(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)

	payment, err := svc.ApplyObservation(constants.ObservationSourceWebhook, constants.ProviderQPay, &gateway.Observation{
		GatewayInvoiceID: "GW-MISSING",
		Status:           constants.PaymentStatusPaid,
		ObservedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("unknown invoice must be absorbed: %v", err)
	}
	if payment != nil {
		t.Fatalf("expected nil payment for unknown invoice")
	}
	if got := countEvents(t, db, "GW-MISSING", "unknown_invoice"); got != 1 {
		t.Fatalf("expected unknown_invoice event, got %d", got)
	}
}

func TestApplyObservationRefundStatusIgnored(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC005", constants.PaymentStatusPaid, "GW-RC005", 100000)

	_, err := svc.ApplyObservation(constants.ObservationSourcePoll, constants.ProviderQPay, &gateway.Observation{
		GatewayInvoiceID: "GW-RC005",
		Status:           constants.PaymentStatusRefunded,
		ObservedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("gateway refund status must be absorbed: %v", err)
	}

	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusPaid {
		t.Fatalf("refund status from gateway must not touch payment, got %s", stored.Status)
	}
	if got := countEvents(t, db, "GW-RC005", "refund_status_ignored"); got != 1 {
		t.Fatalf("expected refund_status_ignored event, got %d", got)
	}
}

func TestExpirePaymentThenLatePaidRejected(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC006", constants.PaymentStatusPending, "GW-RC006", 100000)
	past := time.Now().Add(-time.Minute)
	if err := db.Model(&models.Payment{}).Where("id = ?", payment.ID).Update("expires_at", past).Error; err != nil {
		t.Fatalf("set expires_at failed: %v", err)
	}

	if err := svc.ExpirePayment(payment.ID); err != nil {
		t.Fatalf("ExpirePayment failed: %v", err)
	}

	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusCancelled {
		t.Fatalf("expected cancelled after expiry, got %s", stored.Status)
	}

	// 迟到的成功回调不得复活已取消的支付单
	_, err := svc.ApplyObservation(constants.ObservationSourceWebhook, constants.ProviderQPay, &gateway.Observation{
		GatewayInvoiceID: "GW-RC006",
		Status:           constants.PaymentStatusPaid,
		Amount:           100000,
		ObservedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("late paid observation must be absorbed: %v", err)
	}
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("reload payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusCancelled {
		t.Fatalf("late paid must not revive cancelled payment, got %s", stored.Status)
	}
	if got := countEvents(t, db, "GW-RC006", "transition_rejected"); got != 1 {
		t.Fatalf("expected transition_rejected event, got %d", got)
	}
}

func TestExpirePaymentSkipsUnexpired(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC007", constants.PaymentStatusPending, "GW-RC007", 100000)
	future := time.Now().Add(time.Hour)
	if err := db.Model(&models.Payment{}).Where("id = ?", payment.ID).Update("expires_at", future).Error; err != nil {
		t.Fatalf("set expires_at failed: %v", err)
	}

	if err := svc.ExpirePayment(payment.ID); err != nil {
		t.Fatalf("ExpirePayment failed: %v", err)
	}
	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusPending {
		t.Fatalf("unexpired payment must stay pending, got %s", stored.Status)
	}
}

func TestPollPaymentAppliesGatewayStatus(t *testing.T) {
	svc, adapter, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC008", constants.PaymentStatusProcessing, "GW-RC008", 100000)
	adapter.pollObs = &gateway.Observation{
		GatewayInvoiceID: "GW-RC008",
		Status:           constants.PaymentStatusPaid,
		Amount:           100000,
		ObservedAt:       time.Now(),
	}

	if err := svc.PollPayment(context.Background(), payment.ID); err != nil {
		t.Fatalf("PollPayment failed: %v", err)
	}
	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusPaid {
		t.Fatalf("expected paid after poll, got %s", stored.Status)
	}
}

func TestPollPaymentUnsupportedProviderIsNoop(t *testing.T) {
	svc, adapter, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC009", constants.PaymentStatusPending, "GW-RC009", 100000)
	adapter.pollErr = gateway.ErrUnsupported

	if err := svc.PollPayment(context.Background(), payment.ID); err != nil {
		t.Fatalf("unsupported poll must be noop: %v", err)
	}
	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusPending {
		t.Fatalf("payment must stay pending, got %s", stored.Status)
	}
}

func TestRunPollSweepPollsDirectlyWithoutQueue(t *testing.T) {
	svc, adapter, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRCP001", constants.PaymentStatusProcessing, "GW-RCP001", 100000)
	old := time.Now().Add(-30 * time.Minute)
	if err := db.Model(&models.Payment{}).Where("id = ?", payment.ID).Update("created_at", old).Error; err != nil {
		t.Fatalf("set created_at failed: %v", err)
	}
	adapter.pollObs = &gateway.Observation{
		GatewayInvoiceID: "GW-RCP001",
		Status:           constants.PaymentStatusPaid,
		Amount:           100000,
		ObservedAt:       time.Now(),
	}

	polled, err := svc.RunPollSweep(context.Background())
	if err != nil {
		t.Fatalf("RunPollSweep failed: %v", err)
	}
	if polled != 1 {
		t.Fatalf("expected 1 polled, got %d", polled)
	}
	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusPaid {
		t.Fatalf("expected paid after sweep, got %s", stored.Status)
	}
}

func TestRunExpirySweep(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)
	past := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		payment := seedReconcilePayment(t, db, fmt.Sprintf("VPRCS%03d", i), constants.PaymentStatusPending, fmt.Sprintf("GW-RCS%03d", i), 100000)
		if err := db.Model(&models.Payment{}).Where("id = ?", payment.ID).Update("expires_at", past).Error; err != nil {
			t.Fatalf("set expires_at failed: %v", err)
		}
	}

	expired, err := svc.RunExpirySweep(context.Background())
	if err != nil {
		t.Fatalf("RunExpirySweep failed: %v", err)
	}
	if expired != 3 {
		t.Fatalf("expected 3 expired, got %d", expired)
	}
	var count int64
	if err := db.Model(&models.Payment{}).Where("status = ?", constants.PaymentStatusCancelled).Count(&count).Error; err != nil {
		t.Fatalf("count cancelled failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 cancelled payments, got %d", count)
	}
}

func TestConfirmManual(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC010", constants.PaymentStatusPending, "GW-RC010", 100000)

	confirmed, err := svc.ConfirmManual(payment.ID, 3, "银行流水 123")
	if err != nil {
		t.Fatalf("ConfirmManual failed: %v", err)
	}
	if confirmed.Status != constants.PaymentStatusPaid {
		t.Fatalf("expected paid after manual confirm, got %s", confirmed.Status)
	}

	// 重复确认幂等返回
	again, err := svc.ConfirmManual(payment.ID, 3, "")
	if err != nil {
		t.Fatalf("repeated confirm must be idempotent: %v", err)
	}
	if again.Status != constants.PaymentStatusPaid {
		t.Fatalf("expected paid on repeated confirm, got %s", again.Status)
	}
}

func TestConfirmManualRejectsTerminal(t *testing.T) {
	svc, _, db := setupReconcileServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRC011", constants.PaymentStatusCancelled, "GW-RC011", 100000)

	_, err := svc.ConfirmManual(payment.ID, 3, "")
	if !errors.Is(err, ErrTransitionInvalid) {
		t.Fatalf("expected ErrTransitionInvalid, got: %v", err)
	}
	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusCancelled {
		t.Fatalf("cancelled payment must stay cancelled, got %s", stored.Status)
	}
}

func TestHandleCallbackMalformed(t *testing.T) {
	svc, adapter, _ := setupReconcileServiceTest(t)
	adapter.parseErr = gateway.ErrMalformedCallback

	_, err := svc.HandleCallback(context.Background(), constants.ProviderQPay, &gateway.CallbackRequest{})
	if !errors.Is(err, ErrCallbackMalformed) {
		t.Fatalf("expected ErrCallbackMalformed, got: %v", err)
	}
}

func TestHandleCallbackUnknownChannel(t *testing.T) {
	svc, _, _ := setupReconcileServiceTest(t)

	_, err := svc.HandleCallback(context.Background(), constants.ProviderStorepay, &gateway.CallbackRequest{})
	if !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got: %v", err)
	}
}
