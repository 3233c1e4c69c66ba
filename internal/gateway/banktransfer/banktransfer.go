package banktransfer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
)

// Config 银行转账渠道配置
type Config struct {
	BankName      string `json:"bank_name"`      // 收款银行
	AccountName   string `json:"account_name"`   // 收款户名
	AccountNumber string `json:"account_number"` // 收款账号
	Note          string `json:"note"`           // 转账附言模板
}

// ParseConfig 解析配置
func ParseConfig(raw map[string]interface{}) (*Config, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty config", gateway.ErrConfigInvalid)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal config failed", gateway.ErrConfigInvalid)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config failed", gateway.ErrConfigInvalid)
	}
	cfg.BankName = strings.TrimSpace(cfg.BankName)
	cfg.AccountName = strings.TrimSpace(cfg.AccountName)
	cfg.AccountNumber = strings.TrimSpace(cfg.AccountNumber)
	cfg.Note = strings.TrimSpace(cfg.Note)
	return &cfg, nil
}

// ValidateConfig 校验配置
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", gateway.ErrConfigInvalid)
	}
	if cfg.BankName == "" || cfg.AccountName == "" || cfg.AccountNumber == "" {
		return fmt.Errorf("%w: bank_name/account_name/account_number is required", gateway.ErrConfigInvalid)
	}
	return nil
}

// Client 银行转账适配器。
// 线下渠道：没有回调也没有可轮询的网关状态，入账只能由管理员人工确认，
// 退款同样走线下汇款，适配器只做本地确认。
type Client struct {
	cfg *Config
}

// New 根据渠道配置创建适配器
func New(raw map[string]interface{}) (*Client, error) {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg}, nil
}

// Factory 注册表工厂
func Factory(raw map[string]interface{}) (gateway.Adapter, error) {
	return New(raw)
}

// Provider 提供方标识
func (c *Client) Provider() string {
	return constants.ProviderBankTransfer
}

// CreateInvoice 生成转账指引，以发票号作为网关关联键
func (c *Client) CreateInvoice(_ context.Context, input gateway.CreateInvoiceInput) (*gateway.CreateInvoiceResult, error) {
	if input.InvoiceNo == "" || input.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid invoice input", gateway.ErrRejected)
	}
	note := c.cfg.Note
	if note == "" {
		note = input.InvoiceNo
	}
	return &gateway.CreateInvoiceResult{
		GatewayInvoiceID: "bank:" + input.InvoiceNo,
		Payload: map[string]interface{}{
			"bank_name":      c.cfg.BankName,
			"account_name":   c.cfg.AccountName,
			"account_number": c.cfg.AccountNumber,
			"transfer_note":  note,
		},
	}, nil
}

// ParseCallback 银行转账没有回调通道
func (c *Client) ParseCallback(_ *gateway.CallbackRequest) (*gateway.Observation, error) {
	return nil, gateway.ErrUnsupported
}

// PollStatus 银行转账没有可轮询的网关状态
func (c *Client) PollStatus(_ context.Context, _ string) (*gateway.Observation, error) {
	return nil, gateway.ErrUnsupported
}

// Refund 线下退款，仅做本地确认
func (c *Client) Refund(_ context.Context, input gateway.RefundInput) (*gateway.RefundResult, error) {
	if input.GatewayInvoiceID == "" || input.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid refund input", gateway.ErrRejected)
	}
	return &gateway.RefundResult{
		GatewayRefundID: "manual:" + input.RequestID,
	}, nil
}
