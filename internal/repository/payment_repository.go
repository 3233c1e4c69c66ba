package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/models"

	"gorm.io/gorm"
)

// ErrVersionConflict 版本号不匹配，说明并发写已抢先落库
var ErrVersionConflict = errors.New("payment version conflict")

// TransitionUpdate 一次状态迁移要写入的字段
type TransitionUpdate struct {
	Status string
	PaidAt *time.Time
}

// RefundUpdate 一次退款要写入的字段
type RefundUpdate struct {
	Status         string
	RefundedAmount int64
}

// PaymentRepository 支付数据访问接口
type PaymentRepository interface {
	Create(payment *models.Payment) error
	GetByID(id uint) (*models.Payment, error)
	GetByInvoiceNo(invoiceNo string) (*models.Payment, error)
	GetByGatewayInvoiceID(gatewayInvoiceID string) (*models.Payment, error)
	UpdateTransition(payment *models.Payment, update TransitionUpdate) error
	UpdateRefund(payment *models.Payment, update RefundUpdate) error
	UpdateProviderResult(payment *models.Payment) error
	ListSettleable(cutoff time.Time, limit int) ([]models.Payment, error)
	ListExpired(now time.Time, limit int) ([]models.Payment, error)
	ListAdmin(filter PaymentListFilter) ([]models.Payment, int64, error)
	WithTx(tx *gorm.DB) *GormPaymentRepository
}

// GormPaymentRepository GORM 实现
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository 创建支付仓库
func NewPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentRepository) WithTx(tx *gorm.DB) *GormPaymentRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentRepository{db: tx}
}

// Create 创建支付记录
func (r *GormPaymentRepository) Create(payment *models.Payment) error {
	return r.db.Create(payment).Error
}

// GetByID 根据 ID 获取支付记录
func (r *GormPaymentRepository) GetByID(id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.First(&payment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// GetByInvoiceNo 根据发票号获取支付记录
func (r *GormPaymentRepository) GetByInvoiceNo(invoiceNo string) (*models.Payment, error) {
	invoiceNo = strings.TrimSpace(invoiceNo)
	if invoiceNo == "" {
		return nil, nil
	}
	var payment models.Payment
	result := r.db.Where("invoice_no = ?", invoiceNo).Limit(1).Find(&payment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payment, nil
}

// GetByGatewayInvoiceID 根据网关发票号获取支付记录
func (r *GormPaymentRepository) GetByGatewayInvoiceID(gatewayInvoiceID string) (*models.Payment, error) {
	gatewayInvoiceID = strings.TrimSpace(gatewayInvoiceID)
	if gatewayInvoiceID == "" {
		return nil, nil
	}
	var payment models.Payment
	result := r.db.Where("gateway_invoice_id = ?", gatewayInvoiceID).Order("id desc").Limit(1).Find(&payment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payment, nil
}

// UpdateTransition 以乐观锁方式写入状态迁移，版本不匹配返回 ErrVersionConflict
func (r *GormPaymentRepository) UpdateTransition(payment *models.Payment, update TransitionUpdate) error {
	values := map[string]interface{}{
		"status":     update.Status,
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now(),
	}
	if update.PaidAt != nil {
		values["paid_at"] = update.PaidAt
	}
	result := r.db.Model(&models.Payment{}).
		Where("id = ? AND version = ?", payment.ID, payment.Version).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	payment.Status = update.Status
	payment.Version++
	if update.PaidAt != nil {
		payment.PaidAt = update.PaidAt
	}
	return nil
}

// UpdateRefund 以乐观锁方式写入退款累计与状态
func (r *GormPaymentRepository) UpdateRefund(payment *models.Payment, update RefundUpdate) error {
	result := r.db.Model(&models.Payment{}).
		Where("id = ? AND version = ?", payment.ID, payment.Version).
		Updates(map[string]interface{}{
			"status":          update.Status,
			"refunded_amount": update.RefundedAmount,
			"version":         gorm.Expr("version + 1"),
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	payment.Status = update.Status
	payment.RefundedAmount = update.RefundedAmount
	payment.Version++
	return nil
}

// UpdateProviderResult 回填创建发票后的网关字段（发票号、渠道数据、过期时间）
func (r *GormPaymentRepository) UpdateProviderResult(payment *models.Payment) error {
	return r.db.Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]interface{}{
			"gateway_invoice_id": payment.GatewayInvoiceID,
			"provider_payload":   payment.ProviderPayload,
			"expires_at":         payment.ExpiresAt,
			"updated_at":         time.Now(),
		}).Error
}

// ListSettleable 列出需要轮询网关确认的未终态支付
func (r *GormPaymentRepository) ListSettleable(cutoff time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var payments []models.Payment
	err := r.db.
		Where("status IN ? AND created_at <= ? AND gateway_invoice_id <> ''",
			[]string{constants.PaymentStatusPending, constants.PaymentStatusProcessing},
			cutoff,
		).
		Order("id asc").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// ListExpired 列出已超过过期时间且仍待支付的记录
func (r *GormPaymentRepository) ListExpired(now time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var payments []models.Payment
	err := r.db.
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			constants.PaymentStatusPending, now).
		Order("id asc").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// ListAdmin 管理端支付列表
func (r *GormPaymentRepository) ListAdmin(filter PaymentListFilter) ([]models.Payment, int64, error) {
	query := r.db.Model(&models.Payment{})

	if filter.OwnerID != 0 {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.ServiceType != "" {
		query = query.Where("service_type = ?", filter.ServiceType)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.InvoiceNo != "" {
		query = query.Where("invoice_no = ?", filter.InvoiceNo)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if !filter.SkipCount {
		if err := query.Count(&total).Error; err != nil {
			return nil, 0, err
		}
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var payments []models.Payment
	if err := query.Order("id desc").Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}
