package service

import (
	"context"
	"errors"
	"testing"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
	"github.com/visapay-next/internal/models"
	"github.com/visapay-next/internal/repository"

	"gorm.io/gorm"
)

func setupRefundServiceTest(t *testing.T) (*RefundService, *stubAdapter, *gorm.DB) {
	t.Helper()
	db := setupServiceTestDB(t, "refund_service_test")
	adapter := &stubAdapter{providerName: constants.ProviderQPay}
	seedActiveChannel(t, db, constants.ProviderQPay)
	svc := NewRefundService(
		repository.NewPaymentRepository(db),
		repository.NewRefundRepository(db),
		repository.NewChannelRepository(db),
		&stubResolver{adapter: adapter},
	)
	return svc, adapter, db
}

func TestRefundPaymentPartialThenFull(t *testing.T) {
	svc, adapter, db := setupRefundServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRF001", constants.PaymentStatusPaid, "GW-RF001", 100000)

	updated, entry, err := svc.RefundPayment(context.Background(), RefundInput{
		PaymentID: payment.ID,
		Amount:    40000,
		Reason:    "申请撤回",
		ActorID:   5,
	})
	if err != nil {
		t.Fatalf("partial refund failed: %v", err)
	}
	if updated.Status != constants.PaymentStatusPartiallyRefunded {
		t.Fatalf("expected partially_refunded, got %s", updated.Status)
	}
	if updated.RefundedAmount != 40000 {
		t.Fatalf("expected refunded 40000, got %d", updated.RefundedAmount)
	}
	if entry.GatewayRefundID == "" || entry.ActorID != 5 {
		t.Fatalf("unexpected refund entry: %+v", entry)
	}

	updated, _, err = svc.RefundPayment(context.Background(), RefundInput{
		PaymentID: payment.ID,
		Amount:    60000,
		ActorID:   5,
	})
	if err != nil {
		t.Fatalf("final refund failed: %v", err)
	}
	if updated.Status != constants.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", updated.Status)
	}
	if updated.RefundedAmount != 100000 {
		t.Fatalf("expected refunded 100000, got %d", updated.RefundedAmount)
	}
	if adapter.refundCalls != 2 {
		t.Fatalf("expected 2 gateway refund calls, got %d", adapter.refundCalls)
	}

	entries, err := svc.ListRefunds(payment.ID)
	if err != nil {
		t.Fatalf("ListRefunds failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 refund entries, got %d", len(entries))
	}

	// 全额退款后不可再退
	_, _, err = svc.RefundPayment(context.Background(), RefundInput{PaymentID: payment.ID, Amount: 1, ActorID: 5})
	if !errors.Is(err, ErrPaymentNotRefundable) {
		t.Fatalf("expected ErrPaymentNotRefundable, got: %v", err)
	}
}

func TestRefundPaymentDefaultsToRemainingBalance(t *testing.T) {
	svc, adapter, db := setupRefundServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRF005", constants.PaymentStatusPaid, "GW-RF005", 100000)

	if _, _, err := svc.RefundPayment(context.Background(), RefundInput{
		PaymentID: payment.ID,
		Amount:    40000,
		ActorID:   5,
	}); err != nil {
		t.Fatalf("partial refund failed: %v", err)
	}

	// 金额缺省退剩余全额
	updated, entry, err := svc.RefundPayment(context.Background(), RefundInput{
		PaymentID: payment.ID,
		Reason:    "服务终止",
		ActorID:   5,
	})
	if err != nil {
		t.Fatalf("default-amount refund failed: %v", err)
	}
	if updated.Status != constants.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", updated.Status)
	}
	if updated.RefundedAmount != 100000 {
		t.Fatalf("expected refunded 100000, got %d", updated.RefundedAmount)
	}
	if entry.Amount != 60000 {
		t.Fatalf("expected entry amount 60000, got %d", entry.Amount)
	}
	if adapter.refundCalls != 2 {
		t.Fatalf("expected 2 gateway refund calls, got %d", adapter.refundCalls)
	}

	// 负数金额仍然拒绝
	_, _, err = svc.RefundPayment(context.Background(), RefundInput{PaymentID: payment.ID, Amount: -1, ActorID: 5})
	if !errors.Is(err, ErrRefundAmountInvalid) {
		t.Fatalf("expected ErrRefundAmountInvalid for negative amount, got: %v", err)
	}
}

func TestRefundPaymentConcurrentConflictRejected(t *testing.T) {
	svc, adapter, db := setupRefundServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRF006", constants.PaymentStatusPaid, "GW-RF006", 100000)

	// 网关确认期间另一笔退款抢先落库，版本号前移
	adapter.refundHook = func() {
		if err := db.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(map[string]interface{}{
			"status":          constants.PaymentStatusPartiallyRefunded,
			"refunded_amount": 60000,
			"version":         gorm.Expr("version + 1"),
		}).Error; err != nil {
			t.Fatalf("competing refund write failed: %v", err)
		}
	}

	_, _, err := svc.RefundPayment(context.Background(), RefundInput{PaymentID: payment.ID, Amount: 60000, ActorID: 5})
	if !errors.Is(err, ErrRefundAmountInvalid) {
		t.Fatalf("expected ErrRefundAmountInvalid after conflict, got: %v", err)
	}
	if adapter.refundCalls != 1 {
		t.Fatalf("expected 1 gateway refund call, got %d", adapter.refundCalls)
	}

	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusPartiallyRefunded || stored.RefundedAmount != 60000 {
		t.Fatalf("conflicting refund must win exactly once: status=%s refunded=%d", stored.Status, stored.RefundedAmount)
	}
	var entries int64
	if err := db.Model(&models.RefundEntry{}).Where("payment_id = ?", payment.ID).Count(&entries).Error; err != nil {
		t.Fatalf("count entries failed: %v", err)
	}
	if entries != 0 {
		t.Fatalf("rejected refund must not append entries, got %d", entries)
	}
}

func TestRefundPaymentOverBalanceRejected(t *testing.T) {
	svc, adapter, db := setupRefundServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRF002", constants.PaymentStatusPaid, "GW-RF002", 100000)

	_, _, err := svc.RefundPayment(context.Background(), RefundInput{PaymentID: payment.ID, Amount: 100001, ActorID: 5})
	if !errors.Is(err, ErrRefundAmountInvalid) {
		t.Fatalf("expected ErrRefundAmountInvalid, got: %v", err)
	}
	if adapter.refundCalls != 0 {
		t.Fatalf("over-balance refund must not reach gateway, calls=%d", adapter.refundCalls)
	}
}

func TestRefundPaymentGatewayFailureLeavesStateUnchanged(t *testing.T) {
	svc, adapter, db := setupRefundServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRF003", constants.PaymentStatusPaid, "GW-RF003", 100000)
	adapter.refundErr = gateway.ErrUnavailable

	_, _, err := svc.RefundPayment(context.Background(), RefundInput{PaymentID: payment.ID, Amount: 40000, ActorID: 5})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got: %v", err)
	}

	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusPaid || stored.RefundedAmount != 0 {
		t.Fatalf("gateway failure must not touch local state: status=%s refunded=%d", stored.Status, stored.RefundedAmount)
	}
	var entries int64
	if err := db.Model(&models.RefundEntry{}).Where("payment_id = ?", payment.ID).Count(&entries).Error; err != nil {
		t.Fatalf("count entries failed: %v", err)
	}
	if entries != 0 {
		t.Fatalf("expected no refund entries, got %d", entries)
	}
}

func TestRefundPaymentUnsettledRejected(t *testing.T) {
	svc, adapter, db := setupRefundServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRF004", constants.PaymentStatusPending, "GW-RF004", 100000)

	_, _, err := svc.RefundPayment(context.Background(), RefundInput{PaymentID: payment.ID, Amount: 100, ActorID: 5})
	if !errors.Is(err, ErrPaymentNotRefundable) {
		t.Fatalf("expected ErrPaymentNotRefundable, got: %v", err)
	}
	if adapter.refundCalls != 0 {
		t.Fatalf("unsettled refund must not reach gateway, calls=%d", adapter.refundCalls)
	}
}
