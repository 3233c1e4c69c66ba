package repository

import (
	"github.com/visapay-next/internal/models"

	"gorm.io/gorm"
)

// RefundRepository 退款流水数据访问接口
type RefundRepository interface {
	Create(entry *models.RefundEntry) error
	ListByPaymentID(paymentID uint) ([]models.RefundEntry, error)
	SumByPaymentID(paymentID uint) (int64, error)
	WithTx(tx *gorm.DB) *GormRefundRepository
}

// GormRefundRepository GORM 实现
type GormRefundRepository struct {
	db *gorm.DB
}

// NewRefundRepository 创建退款仓库
func NewRefundRepository(db *gorm.DB) *GormRefundRepository {
	return &GormRefundRepository{db: db}
}

// WithTx 绑定事务
func (r *GormRefundRepository) WithTx(tx *gorm.DB) *GormRefundRepository {
	if tx == nil {
		return r
	}
	return &GormRefundRepository{db: tx}
}

// Create 追加退款流水
func (r *GormRefundRepository) Create(entry *models.RefundEntry) error {
	return r.db.Create(entry).Error
}

// ListByPaymentID 获取支付的全部退款流水
func (r *GormRefundRepository) ListByPaymentID(paymentID uint) ([]models.RefundEntry, error) {
	var entries []models.RefundEntry
	if err := r.db.Where("payment_id = ?", paymentID).Order("id asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// SumByPaymentID 计算支付的退款流水合计
func (r *GormRefundRepository) SumByPaymentID(paymentID uint) (int64, error) {
	var total int64
	err := r.db.Model(&models.RefundEntry{}).
		Where("payment_id = ?", paymentID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
