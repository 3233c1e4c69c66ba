package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/visapay-next/internal/cache"
	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/repository"
)

// 汇总默认取数窗口
const defaultSummaryRangeDays = 30

// csv 导出的单页批量
const exportPageSize = 500

// ReportService 聚合报表服务
type ReportService struct {
	summaryRepo repository.SummaryRepository
	paymentRepo repository.PaymentRepository
	cacheTTL    time.Duration
}

// NewReportService 创建聚合报表服务
func NewReportService(summaryRepo repository.SummaryRepository, paymentRepo repository.PaymentRepository, cacheSeconds int) *ReportService {
	if cacheSeconds <= 0 {
		cacheSeconds = 60
	}
	return &ReportService{
		summaryRepo: summaryRepo,
		paymentRepo: paymentRepo,
		cacheTTL:    time.Duration(cacheSeconds) * time.Second,
	}
}

// StatusCount 状态计数
type StatusCount struct {
	Status string `json:"status"`
	Total  int64  `json:"total"`
}

// ProviderSummary 提供方聚合
type ProviderSummary struct {
	Provider string `json:"provider"`
	Total    int64  `json:"total"`
	Revenue  int64  `json:"revenue"`
	Refunded int64  `json:"refunded"`
}

// ServiceTypeSummary 业务类型聚合
type ServiceTypeSummary struct {
	ServiceType string `json:"service_type"`
	Total       int64  `json:"total"`
	Revenue     int64  `json:"revenue"`
	Refunded    int64  `json:"refunded"`
}

// DailyTrend 按天趋势
type DailyTrend struct {
	Day     string `json:"day"`
	Total   int64  `json:"total"`
	Settled int64  `json:"settled"`
	Revenue int64  `json:"revenue"`
}

// PaymentSummary 支付汇总报表
type PaymentSummary struct {
	StartAt        time.Time            `json:"start_at"`
	EndAt          time.Time            `json:"end_at"`
	Currency       string               `json:"currency"`
	PaymentsTotal  int64                `json:"payments_total"`
	Revenue        int64                `json:"revenue"`
	RefundedAmount int64                `json:"refunded_amount"`
	NetRevenue     int64                `json:"net_revenue"`
	StatusCounts   []StatusCount        `json:"status_counts"`
	Providers      []ProviderSummary    `json:"providers"`
	ServiceTypes   []ServiceTypeSummary `json:"service_types"`
	DailyTrends    []DailyTrend         `json:"daily_trends"`
}

// GetSummary 获取区间内的支付汇总。区间为空时取最近 30 天。
// 汇总相对在途对账最终一致，短时走 Redis 缓存。
func (s *ReportService) GetSummary(ctx context.Context, startAt, endAt *time.Time) (*PaymentSummary, error) {
	end := time.Now()
	if endAt != nil && !endAt.IsZero() {
		end = *endAt
	}
	start := end.AddDate(0, 0, -defaultSummaryRangeDays)
	if startAt != nil && !startAt.IsZero() {
		start = *startAt
	}
	if !start.Before(end) {
		return nil, ErrPaymentInvalid
	}

	cacheKey := fmt.Sprintf("report:summary:%d:%d", start.Unix(), end.Unix())
	cached := &PaymentSummary{}
	if hit, err := cache.GetJSON(ctx, cacheKey, cached); err == nil && hit {
		return cached, nil
	}

	filter := repository.SummaryFilter{StartAt: start, EndAt: end}

	totals, err := s.summaryRepo.GetTotals(filter)
	if err != nil {
		return nil, err
	}
	statusRows, err := s.summaryRepo.CountByStatus(filter)
	if err != nil {
		return nil, err
	}
	providerRows, err := s.summaryRepo.GroupByProvider(filter)
	if err != nil {
		return nil, err
	}
	serviceRows, err := s.summaryRepo.GroupByServiceType(filter)
	if err != nil {
		return nil, err
	}
	trendRows, err := s.summaryRepo.GetDailyTrends(filter)
	if err != nil {
		return nil, err
	}

	currency := totals.Currency
	if currency == "" {
		currency = constants.SiteCurrencyDefault
	}

	summary := &PaymentSummary{
		StartAt:        start,
		EndAt:          end,
		Currency:       currency,
		PaymentsTotal:  totals.PaymentsTotal,
		Revenue:        totals.Revenue,
		RefundedAmount: totals.RefundedAmount,
		NetRevenue:     totals.Revenue - totals.RefundedAmount,
		StatusCounts:   make([]StatusCount, 0, len(statusRows)),
		Providers:      make([]ProviderSummary, 0, len(providerRows)),
		ServiceTypes:   make([]ServiceTypeSummary, 0, len(serviceRows)),
		DailyTrends:    make([]DailyTrend, 0, len(trendRows)),
	}
	for _, row := range statusRows {
		summary.StatusCounts = append(summary.StatusCounts, StatusCount{Status: row.Status, Total: row.Total})
	}
	for _, row := range providerRows {
		summary.Providers = append(summary.Providers, ProviderSummary{
			Provider: row.Provider,
			Total:    row.Total,
			Revenue:  row.Revenue,
			Refunded: row.Refunded,
		})
	}
	for _, row := range serviceRows {
		summary.ServiceTypes = append(summary.ServiceTypes, ServiceTypeSummary{
			ServiceType: row.ServiceType,
			Total:       row.Total,
			Revenue:     row.Revenue,
			Refunded:    row.Refunded,
		})
	}
	for _, row := range trendRows {
		summary.DailyTrends = append(summary.DailyTrends, DailyTrend{
			Day:     row.Day,
			Total:   row.Total,
			Settled: row.Settled,
			Revenue: row.Revenue,
		})
	}

	if err := cache.SetJSON(ctx, cacheKey, summary, s.cacheTTL); err != nil {
		paymentLogger("cache_key", cacheKey).Warnw("report_summary_cache_failed", "error", err)
	}
	return summary, nil
}

// ExportPaymentsCSV 按筛选条件导出支付流水 CSV
func (s *ReportService) ExportPaymentsCSV(w io.Writer, filter repository.PaymentListFilter) error {
	writer := csv.NewWriter(w)
	header := []string{
		"invoice_no", "owner_id", "application_ref", "service_type", "provider",
		"status", "amount", "refunded_amount", "currency",
		"gateway_invoice_id", "created_at", "paid_at",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	filter.SkipCount = true
	filter.PageSize = exportPageSize
	for page := 1; ; page++ {
		filter.Page = page
		payments, _, err := s.paymentRepo.ListAdmin(filter)
		if err != nil {
			return err
		}
		for _, payment := range payments {
			paidAt := ""
			if payment.PaidAt != nil {
				paidAt = payment.PaidAt.Format(time.RFC3339)
			}
			record := []string{
				payment.InvoiceNo,
				strconv.FormatUint(uint64(payment.OwnerID), 10),
				payment.ApplicationRef,
				payment.ServiceType,
				payment.Provider,
				payment.Status,
				strconv.FormatInt(payment.Amount, 10),
				strconv.FormatInt(payment.RefundedAmount, 10),
				payment.Currency,
				payment.GatewayInvoiceID,
				payment.CreatedAt.Format(time.RFC3339),
				paidAt,
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
		if len(payments) < exportPageSize {
			break
		}
	}

	writer.Flush()
	return writer.Error()
}
