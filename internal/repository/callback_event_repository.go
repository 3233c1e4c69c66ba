package repository

import (
	"github.com/visapay-next/internal/models"

	"gorm.io/gorm"
)

// CallbackEventRepository 回调流水数据访问接口
type CallbackEventRepository interface {
	Create(event *models.CallbackEvent) error
	HasApplied(gatewayInvoiceID, status string) (bool, error)
	ListByGatewayInvoiceID(gatewayInvoiceID string) ([]models.CallbackEvent, error)
	WithTx(tx *gorm.DB) *GormCallbackEventRepository
}

// GormCallbackEventRepository GORM 实现
type GormCallbackEventRepository struct {
	db *gorm.DB
}

// NewCallbackEventRepository 创建回调流水仓库
func NewCallbackEventRepository(db *gorm.DB) *GormCallbackEventRepository {
	return &GormCallbackEventRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCallbackEventRepository) WithTx(tx *gorm.DB) *GormCallbackEventRepository {
	if tx == nil {
		return r
	}
	return &GormCallbackEventRepository{db: tx}
}

// Create 追加回调流水
func (r *GormCallbackEventRepository) Create(event *models.CallbackEvent) error {
	return r.db.Create(event).Error
}

// HasApplied 判断同一网关发票号 + 状态是否已成功落库过（幂等判定）
func (r *GormCallbackEventRepository) HasApplied(gatewayInvoiceID, status string) (bool, error) {
	var count int64
	err := r.db.Model(&models.CallbackEvent{}).
		Where("gateway_invoice_id = ? AND applied_status = ?", gatewayInvoiceID, status).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByGatewayInvoiceID 获取网关发票号的全部观察流水
func (r *GormCallbackEventRepository) ListByGatewayInvoiceID(gatewayInvoiceID string) ([]models.CallbackEvent, error) {
	var events []models.CallbackEvent
	err := r.db.Where("gateway_invoice_id = ?", gatewayInvoiceID).Order("id asc").Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
