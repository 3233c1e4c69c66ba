package repository

import "time"

// PaymentListFilter 查询支付列表的过滤条件
type PaymentListFilter struct {
	Page        int
	PageSize    int
	OwnerID     uint
	Provider    string
	ServiceType string
	Status      string
	InvoiceNo   string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	SkipCount   bool
}

// ChannelListFilter 查询支付渠道列表的过滤条件
type ChannelListFilter struct {
	Page       int
	PageSize   int
	Provider   string
	ActiveOnly bool
}

// SummaryFilter 聚合统计的时间范围过滤条件
type SummaryFilter struct {
	StartAt time.Time
	EndAt   time.Time
}
