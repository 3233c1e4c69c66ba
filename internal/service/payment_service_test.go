package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
	"github.com/visapay-next/internal/models"
	"github.com/visapay-next/internal/repository"

	"gorm.io/gorm"
)

func setupPaymentServiceTest(t *testing.T) (*PaymentService, *stubAdapter, *gorm.DB) {
	t.Helper()
	db := setupServiceTestDB(t, "payment_service_test")
	adapter := &stubAdapter{providerName: constants.ProviderQPay}
	seedActiveChannel(t, db, constants.ProviderQPay)
	svc := NewPaymentService(
		repository.NewPaymentRepository(db),
		repository.NewChannelRepository(db),
		&stubResolver{adapter: adapter},
		nil,
		"mnt",
		30,
		map[string]int64{constants.ServiceTypeApplication: 180000000},
	)
	return svc, adapter, db
}

func TestCreatePaymentWithDefaultPrice(t *testing.T) {
	svc, _, db := setupPaymentServiceTest(t)

	payment, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		OwnerID:     7,
		ServiceType: constants.ServiceTypeApplication,
		Provider:    constants.ProviderQPay,
	})
	if err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}
	if payment.Amount != 180000000 {
		t.Fatalf("expected default price 180000000, got %d", payment.Amount)
	}
	if payment.Currency != "MNT" {
		t.Fatalf("expected currency MNT, got %s", payment.Currency)
	}
	if !strings.HasPrefix(payment.InvoiceNo, constants.InvoiceNoPrefix) {
		t.Fatalf("invoice_no must start with %s, got %s", constants.InvoiceNoPrefix, payment.InvoiceNo)
	}
	if payment.Status != constants.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", payment.Status)
	}
	if payment.GatewayInvoiceID == "" {
		t.Fatalf("expected gateway invoice id to be filled")
	}
	if payment.ExpiresAt == nil {
		t.Fatalf("expected expires_at to be set")
	}

	var stored models.Payment
	if err := db.First(&stored, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.GatewayInvoiceID != payment.GatewayInvoiceID {
		t.Fatalf("gateway invoice id not persisted")
	}
}

func TestCreatePaymentGatewayFailureMarksFailed(t *testing.T) {
	svc, adapter, db := setupPaymentServiceTest(t)
	adapter.createErr = gateway.ErrUnavailable

	_, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		OwnerID:     7,
		ServiceType: constants.ServiceTypeApplication,
		Provider:    constants.ProviderQPay,
		Amount:      50000,
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got: %v", err)
	}

	var stored models.Payment
	if err := db.Order("id desc").First(&stored).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusFailed {
		t.Fatalf("expected failed after gateway error, got %s", stored.Status)
	}
}

func TestCreatePaymentInputValidation(t *testing.T) {
	svc, _, _ := setupPaymentServiceTest(t)

	if _, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		OwnerID:     0,
		ServiceType: constants.ServiceTypeApplication,
		Provider:    constants.ProviderQPay,
	}); !errors.Is(err, ErrPaymentInvalid) {
		t.Fatalf("expected ErrPaymentInvalid for missing owner, got: %v", err)
	}

	if _, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		OwnerID:     7,
		ServiceType: "visa-run",
		Provider:    constants.ProviderQPay,
	}); !errors.Is(err, ErrPaymentInvalid) {
		t.Fatalf("expected ErrPaymentInvalid for unknown service type, got: %v", err)
	}

	// 业务类型没有默认价且未传金额
	if _, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		OwnerID:     7,
		ServiceType: constants.ServiceTypeExpress,
		Provider:    constants.ProviderQPay,
	}); !errors.Is(err, ErrPaymentInvalid) {
		t.Fatalf("expected ErrPaymentInvalid for missing price, got: %v", err)
	}
}

func TestCreatePaymentChannelNotFound(t *testing.T) {
	svc, _, _ := setupPaymentServiceTest(t)

	_, err := svc.CreatePayment(context.Background(), CreatePaymentInput{
		OwnerID:     7,
		ServiceType: constants.ServiceTypeApplication,
		Provider:    constants.ProviderStorepay,
	})
	if !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got: %v", err)
	}
}

func TestCancelPayment(t *testing.T) {
	svc, _, db := setupPaymentServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPPS001", constants.PaymentStatusPending, "GW-PS001", 100000)

	cancelled, err := svc.CancelPayment(payment.ID)
	if err != nil {
		t.Fatalf("CancelPayment failed: %v", err)
	}
	if cancelled.Status != constants.PaymentStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// 重复取消幂等
	again, err := svc.CancelPayment(payment.ID)
	if err != nil {
		t.Fatalf("repeated cancel must be idempotent: %v", err)
	}
	if again.Status != constants.PaymentStatusCancelled {
		t.Fatalf("expected cancelled on repeat, got %s", again.Status)
	}
}

func TestCancelPaymentAlreadySettling(t *testing.T) {
	svc, _, db := setupPaymentServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPPS002", constants.PaymentStatusPaid, "GW-PS002", 100000)

	_, err := svc.CancelPayment(payment.ID)
	if !errors.Is(err, ErrAlreadySettling) {
		t.Fatalf("expected ErrAlreadySettling, got: %v", err)
	}
}

func TestGetPaymentByInvoiceNo(t *testing.T) {
	svc, _, db := setupPaymentServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPPS003", constants.PaymentStatusPending, "GW-PS003", 100000)

	found, err := svc.GetPaymentByInvoiceNo(payment.InvoiceNo)
	if err != nil {
		t.Fatalf("GetPaymentByInvoiceNo failed: %v", err)
	}
	if found.ID != payment.ID {
		t.Fatalf("expected payment %d, got %d", payment.ID, found.ID)
	}

	if _, err := svc.GetPaymentByInvoiceNo("VP00000000000000"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got: %v", err)
	}
}
