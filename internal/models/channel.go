package models

import (
	"time"

	"gorm.io/gorm"
)

// Channel 支付渠道配置
type Channel struct {
	ID         uint           `gorm:"primarykey" json:"id"`                   // 主键
	Provider   string         `gorm:"uniqueIndex;not null" json:"provider"`   // 支付提供方
	Name       string         `gorm:"not null" json:"name"`                   // 渠道名称
	ConfigJSON JSON           `gorm:"type:json" json:"config_json"`           // 渠道凭证与端点配置
	IsActive   bool           `gorm:"not null;default:true" json:"is_active"` // 是否启用
	SortOrder  int            `gorm:"not null;default:0" json:"sort_order"`   // 排序
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`                // 创建时间
	UpdatedAt  time.Time      `gorm:"index" json:"updated_at"`                // 更新时间
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`                         // 软删除时间
}

// TableName 指定表名
func (Channel) TableName() string {
	return "channels"
}
