package gateway

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

var (
	ErrConfigInvalid     = errors.New("gateway config invalid")
	ErrUnavailable       = errors.New("gateway unavailable")
	ErrRejected          = errors.New("gateway rejected request")
	ErrMalformedCallback = errors.New("gateway callback malformed")
	ErrInvoiceNotFound   = errors.New("gateway invoice not found")
	ErrUnsupported       = errors.New("gateway operation not supported")
)

// CreateInvoiceInput 创建网关发票输入
type CreateInvoiceInput struct {
	InvoiceNo   string
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
	ExpiresAt   time.Time
}

// CreateInvoiceResult 创建网关发票结果
type CreateInvoiceResult struct {
	GatewayInvoiceID string
	Payload          map[string]interface{} // qr_text / qr_image / deep_links / short_url 等渠道自有字段
	ExpiresAt        *time.Time
	Raw              map[string]interface{}
}

// Observation 归一化后的网关状态观察，是对账服务的唯一输入形态
type Observation struct {
	GatewayInvoiceID string
	Status           string
	Amount           int64
	ObservedAt       time.Time
	Raw              map[string]interface{}
}

// CallbackRequest 原始回调请求
type CallbackRequest struct {
	Headers map[string]string
	Query   url.Values
	Body    []byte
}

// Header 读取回调头，键不区分大小写
func (r *CallbackRequest) Header(key string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	if v, ok := r.Headers[key]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// RefundInput 网关退款输入
type RefundInput struct {
	GatewayInvoiceID string
	Amount           int64
	Currency         string
	Reason           string
	RequestID        string // 客户端生成的幂等键
}

// RefundResult 网关退款结果
type RefundResult struct {
	GatewayRefundID string
	Raw             map[string]interface{}
}

// Adapter 支付网关适配器：每个提供方一个实现，向外只暴露统一形态。
// ParseCallback 必须先完成报文鉴权再解析，鉴权失败返回 ErrMalformedCallback。
// PollStatus 在网关无此发票时返回 ErrInvoiceNotFound（视为仍在等待，不是失败）。
type Adapter interface {
	Provider() string
	CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*CreateInvoiceResult, error)
	ParseCallback(req *CallbackRequest) (*Observation, error)
	PollStatus(ctx context.Context, gatewayInvoiceID string) (*Observation, error)
	Refund(ctx context.Context, input RefundInput) (*RefundResult, error)
}
