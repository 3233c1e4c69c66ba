package models

import (
	"time"
)

// CallbackEvent 回调/轮询观察流水，只追加不修改，兼作幂等与审计记录
type CallbackEvent struct {
	ID               uint      `gorm:"primarykey" json:"id"`             // 主键
	Provider         string    `gorm:"not null" json:"provider"`         // 支付提供方
	GatewayInvoiceID string    `gorm:"index;not null" json:"gateway_invoice_id"` // 网关发票号
	Source           string    `gorm:"not null" json:"source"`           // 来源（webhook/poll/sweep/admin）
	ObservedStatus   string    `gorm:"not null" json:"observed_status"`  // 观察到的状态
	ObservedAmount   int64     `json:"observed_amount"`                  // 观察到的金额
	AppliedStatus    *string   `gorm:"index" json:"applied_status"`      // 实际落库状态，未落库为 null
	Note             string    `json:"note"`                             // 未落库原因（duplicate/amount_mismatch 等）
	RawPayload       JSON      `gorm:"type:json" json:"raw_payload"`     // 原始报文
	ReceivedAt       time.Time `gorm:"index" json:"received_at"`         // 接收时间
	CreatedAt        time.Time `json:"created_at"`                       // 创建时间
}

// TableName 指定表名
func (CallbackEvent) TableName() string {
	return "callback_events"
}
