package models

import (
	"time"
)

// RefundEntry 退款流水，只追加不修改
type RefundEntry struct {
	ID              uint      `gorm:"primarykey" json:"id"`            // 主键
	PaymentID       uint      `gorm:"index;not null" json:"payment_id"` // 所属支付ID
	Amount          int64     `gorm:"not null" json:"amount"`          // 退款金额（最小币种单位）
	Reason          string    `gorm:"type:text" json:"reason"`         // 退款原因
	ActorID         uint      `gorm:"not null" json:"actor_id"`        // 操作管理员ID
	GatewayRefundID string    `json:"gateway_refund_id"`               // 网关退款流水号
	CreatedAt       time.Time `gorm:"index" json:"created_at"`         // 创建时间
}

// TableName 指定表名
func (RefundEntry) TableName() string {
	return "refund_entries"
}
