package models

import (
	"time"
)

// Payment 支付记录，创建后仅允许对账路径修改状态
type Payment struct {
	ID               uint       `gorm:"primarykey" json:"id"`                               // 主键
	InvoiceNo        string     `gorm:"uniqueIndex;not null" json:"invoice_no"`             // 发票号（对外展示，创建后不变）
	OwnerID          uint       `gorm:"index;not null" json:"owner_id"`                     // 发起用户ID
	ApplicationRef   string     `gorm:"index" json:"application_ref"`                       // 关联的外部申请/订单号
	ServiceType      string     `gorm:"index;not null" json:"service_type"`                 // 业务类型
	Amount           int64      `gorm:"not null" json:"amount"`                             // 支付金额（最小币种单位，创建后不变）
	Currency         string     `gorm:"not null" json:"currency"`                           // 币种
	Provider         string     `gorm:"index;not null" json:"provider"`                     // 支付提供方
	Status           string     `gorm:"index:idx_payments_status_expires;not null" json:"status"` // 支付状态
	GatewayInvoiceID string     `gorm:"index" json:"gateway_invoice_id"`                    // 网关发票号（回调幂等关联键）
	ProviderPayload  JSON       `gorm:"type:json" json:"provider_payload"`                  // 二维码/跳转链接等渠道数据
	RefundedAmount   int64      `gorm:"not null;default:0" json:"refunded_amount"`          // 已退款金额
	Version          int64      `gorm:"not null;default:0" json:"version"`                  // 乐观锁版本号
	Description      string     `gorm:"type:text" json:"description"`                       // 支付描述
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`                            // 创建时间
	UpdatedAt        time.Time  `gorm:"index" json:"updated_at"`                            // 更新时间
	PaidAt           *time.Time `gorm:"index" json:"paid_at"`                               // 支付时间
	ExpiresAt        *time.Time `gorm:"index:idx_payments_status_expires" json:"expires_at"` // 过期时间
}

// TableName 指定表名
func (Payment) TableName() string {
	return "payments"
}
