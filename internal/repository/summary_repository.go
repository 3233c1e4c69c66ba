package repository

import (
	"fmt"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/models"

	"gorm.io/gorm"
)

// SummaryRepository 支付聚合查询接口
// 说明：仅聚合统计数据，不承载业务规则；统计结果相对在途对账最终一致。
type SummaryRepository interface {
	GetTotals(filter SummaryFilter) (SummaryTotalsRow, error)
	CountByStatus(filter SummaryFilter) ([]StatusCountRow, error)
	GroupByProvider(filter SummaryFilter) ([]ProviderSummaryRow, error)
	GroupByServiceType(filter SummaryFilter) ([]ServiceTypeSummaryRow, error)
	GetDailyTrends(filter SummaryFilter) ([]DailyTrendRow, error)
}

// SummaryTotalsRow 总览统计原始行
type SummaryTotalsRow struct {
	PaymentsTotal  int64
	Revenue        int64
	RefundedAmount int64
	Currency       string
}

// StatusCountRow 按状态计数
type StatusCountRow struct {
	Status string
	Total  int64
}

// ProviderSummaryRow 按提供方聚合
type ProviderSummaryRow struct {
	Provider string
	Total    int64
	Revenue  int64
	Refunded int64
}

// ServiceTypeSummaryRow 按业务类型聚合
type ServiceTypeSummaryRow struct {
	ServiceType string
	Total       int64
	Revenue     int64
	Refunded    int64
}

// DailyTrendRow 按天趋势
type DailyTrendRow struct {
	Day     string
	Total   int64
	Settled int64
	Revenue int64
}

// GormSummaryRepository GORM 聚合实现
type GormSummaryRepository struct {
	db *gorm.DB
}

// NewSummaryRepository 创建聚合仓库
func NewSummaryRepository(db *gorm.DB) *GormSummaryRepository {
	return &GormSummaryRepository{db: db}
}

// settledStatuses 计入营收的状态集合
func settledStatuses() []string {
	return []string{
		constants.PaymentStatusPaid,
		constants.PaymentStatusPartiallyRefunded,
		constants.PaymentStatusRefunded,
	}
}

func (r *GormSummaryRepository) rangeBase(filter SummaryFilter) *gorm.DB {
	return r.db.Model(&models.Payment{}).
		Where("created_at >= ? AND created_at < ?", filter.StartAt, filter.EndAt)
}

// GetTotals 获取总览统计
func (r *GormSummaryRepository) GetTotals(filter SummaryFilter) (SummaryTotalsRow, error) {
	result := SummaryTotalsRow{}

	if err := r.rangeBase(filter).Count(&result.PaymentsTotal).Error; err != nil {
		return result, err
	}
	if err := r.rangeBase(filter).
		Where("status IN ?", settledStatuses()).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&result.Revenue).Error; err != nil {
		return result, err
	}
	if err := r.rangeBase(filter).
		Select("COALESCE(SUM(refunded_amount), 0)").
		Scan(&result.RefundedAmount).Error; err != nil {
		return result, err
	}

	_ = r.rangeBase(filter).
		Where("currency <> ''").
		Order("id DESC").
		Limit(1).
		Pluck("currency", &result.Currency).Error

	return result, nil
}

// CountByStatus 按状态统计数量
func (r *GormSummaryRepository) CountByStatus(filter SummaryFilter) ([]StatusCountRow, error) {
	rows := make([]StatusCountRow, 0)
	err := r.rangeBase(filter).
		Select("status, COUNT(*) as total").
		Group("status").
		Order("status asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GroupByProvider 按提供方聚合营收与退款
func (r *GormSummaryRepository) GroupByProvider(filter SummaryFilter) ([]ProviderSummaryRow, error) {
	rows := make([]ProviderSummaryRow, 0)
	err := r.rangeBase(filter).
		Select(`
			provider,
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN status IN ('paid', 'partially_refunded', 'refunded') THEN amount ELSE 0 END), 0) as revenue,
			COALESCE(SUM(refunded_amount), 0) as refunded
		`).
		Group("provider").
		Order("revenue DESC, total DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GroupByServiceType 按业务类型聚合营收与退款
func (r *GormSummaryRepository) GroupByServiceType(filter SummaryFilter) ([]ServiceTypeSummaryRow, error) {
	rows := make([]ServiceTypeSummaryRow, 0)
	err := r.rangeBase(filter).
		Select(`
			service_type,
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN status IN ('paid', 'partially_refunded', 'refunded') THEN amount ELSE 0 END), 0) as revenue,
			COALESCE(SUM(refunded_amount), 0) as refunded
		`).
		Group("service_type").
		Order("revenue DESC, total DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetDailyTrends 获取按天趋势
func (r *GormSummaryRepository) GetDailyTrends(filter SummaryFilter) ([]DailyTrendRow, error) {
	rows := make([]DailyTrendRow, 0)
	dayExpr := dayTextExpr(r.db, "created_at")
	err := r.rangeBase(filter).
		Select(fmt.Sprintf(`
			%s as day,
			COUNT(*) as total,
			SUM(CASE WHEN status IN ('paid', 'partially_refunded', 'refunded') THEN 1 ELSE 0 END) as settled,
			COALESCE(SUM(CASE WHEN status IN ('paid', 'partially_refunded', 'refunded') THEN amount ELSE 0 END), 0) as revenue
		`, dayExpr)).
		Group(dayExpr).
		Order("day asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
