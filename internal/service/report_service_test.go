package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/models"
	"github.com/visapay-next/internal/repository"

	"gorm.io/gorm"
)

func setupReportServiceTest(t *testing.T) (*ReportService, *gorm.DB) {
	t.Helper()
	db := setupServiceTestDB(t, "report_service_test")
	svc := NewReportService(
		repository.NewSummaryRepository(db),
		repository.NewPaymentRepository(db),
		60,
	)
	return svc, db
}

func TestGetSummary(t *testing.T) {
	svc, db := setupReportServiceTest(t)

	base := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	paid := seedReconcilePayment(t, db, "VPRP001", constants.PaymentStatusPaid, "GW-RP001", 300000)
	cancelled := seedReconcilePayment(t, db, "VPRP002", constants.PaymentStatusCancelled, "GW-RP002", 100000)
	partiallyRefunded := seedReconcilePayment(t, db, "VPRP003", constants.PaymentStatusPartiallyRefunded, "GW-RP003", 200000)
	if err := db.Model(&models.Payment{}).Where("id = ?", partiallyRefunded.ID).Update("refunded_amount", 50000).Error; err != nil {
		t.Fatalf("set refunded_amount failed: %v", err)
	}
	for _, p := range []*models.Payment{paid, cancelled, partiallyRefunded} {
		if err := db.Model(&models.Payment{}).Where("id = ?", p.ID).Update("created_at", base).Error; err != nil {
			t.Fatalf("set created_at failed: %v", err)
		}
	}

	start := base.Add(-24 * time.Hour)
	end := base.Add(24 * time.Hour)
	summary, err := svc.GetSummary(context.Background(), &start, &end)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.PaymentsTotal != 3 {
		t.Fatalf("expected 3 payments, got %d", summary.PaymentsTotal)
	}
	if summary.Revenue != 500000 {
		t.Fatalf("expected revenue 500000, got %d", summary.Revenue)
	}
	if summary.RefundedAmount != 50000 || summary.NetRevenue != 450000 {
		t.Fatalf("unexpected refund totals: refunded=%d net=%d", summary.RefundedAmount, summary.NetRevenue)
	}
	if summary.Currency != "MNT" {
		t.Fatalf("expected currency MNT, got %s", summary.Currency)
	}
	if len(summary.DailyTrends) != 1 || summary.DailyTrends[0].Day != "2026-08-10" {
		t.Fatalf("unexpected daily trends: %+v", summary.DailyTrends)
	}
}

func TestGetSummaryRejectsInvertedRange(t *testing.T) {
	svc, _ := setupReportServiceTest(t)

	start := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	if _, err := svc.GetSummary(context.Background(), &start, &end); !errors.Is(err, ErrPaymentInvalid) {
		t.Fatalf("expected ErrPaymentInvalid, got: %v", err)
	}
}

func TestExportPaymentsCSV(t *testing.T) {
	svc, db := setupReportServiceTest(t)
	payment := seedReconcilePayment(t, db, "VPRP010", constants.PaymentStatusPaid, "GW-RP010", 300000)
	paidAt := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	if err := db.Model(&models.Payment{}).Where("id = ?", payment.ID).Update("paid_at", paidAt).Error; err != nil {
		t.Fatalf("set paid_at failed: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.ExportPaymentsCSV(&buf, repository.PaymentListFilter{}); err != nil {
		t.Fatalf("ExportPaymentsCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "invoice_no,owner_id") {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "VPRP010") || !strings.Contains(lines[1], "300000") {
		t.Fatalf("unexpected row: %s", lines[1])
	}
	if !strings.Contains(lines[1], paidAt.Format(time.RFC3339)) {
		t.Fatalf("expected paid_at in row: %s", lines[1])
	}
}
