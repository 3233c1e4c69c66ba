package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupCallbackEventRepositoryTest(t *testing.T) *GormCallbackEventRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:callback_event_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&models.CallbackEvent{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return NewCallbackEventRepository(db)
}

func TestCallbackEventRepositoryHasAppliedIgnoresAnomalies(t *testing.T) {
	repo := setupCallbackEventRepositoryTest(t)

	applied := constants.PaymentStatusPaid
	if err := repo.Create(&models.CallbackEvent{
		Provider:         constants.ProviderQPay,
		GatewayInvoiceID: "GW-100",
		Source:           constants.ObservationSourceWebhook,
		ObservedStatus:   constants.PaymentStatusPaid,
		AppliedStatus:    &applied,
		ReceivedAt:       time.Now(),
	}); err != nil {
		t.Fatalf("create applied event failed: %v", err)
	}
	// 异常观测只归档，applied_status 为空，不参与幂等判定
	if err := repo.Create(&models.CallbackEvent{
		Provider:         constants.ProviderQPay,
		GatewayInvoiceID: "GW-200",
		Source:           constants.ObservationSourceWebhook,
		ObservedStatus:   constants.PaymentStatusPaid,
		Note:             "amount_mismatch",
		ReceivedAt:       time.Now(),
	}); err != nil {
		t.Fatalf("create anomaly event failed: %v", err)
	}

	ok, err := repo.HasApplied("GW-100", constants.PaymentStatusPaid)
	if err != nil {
		t.Fatalf("HasApplied failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected GW-100 paid to be applied")
	}

	ok, err = repo.HasApplied("GW-100", constants.PaymentStatusCancelled)
	if err != nil {
		t.Fatalf("HasApplied failed: %v", err)
	}
	if ok {
		t.Fatalf("expected GW-100 cancelled to be unapplied")
	}

	ok, err = repo.HasApplied("GW-200", constants.PaymentStatusPaid)
	if err != nil {
		t.Fatalf("HasApplied failed: %v", err)
	}
	if ok {
		t.Fatalf("anomaly event must not count as applied")
	}

	events, err := repo.ListByGatewayInvoiceID("GW-200")
	if err != nil {
		t.Fatalf("ListByGatewayInvoiceID failed: %v", err)
	}
	if len(events) != 1 || events[0].Note != "amount_mismatch" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
