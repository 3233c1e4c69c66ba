package socialpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
)

// 网关侧状态常量
const (
	StatusSent     = "SENT"
	StatusPaid     = "PAID"
	StatusFailed   = "FAILED"
	StatusCanceled = "CANCELED"
)

// Config SocialPay 渠道配置
type Config struct {
	BaseURL     string `json:"base_url"`     // 网关地址
	TerminalID  string `json:"terminal_id"`  // 终端号
	SecretKey   string `json:"secret_key"`   // 校验和密钥
	CallbackURL string `json:"callback_url"` // 异步通知地址
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
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.TerminalID = strings.TrimSpace(cfg.TerminalID)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.CallbackURL = strings.TrimSpace(cfg.CallbackURL)
	return &cfg, nil
}

// ValidateConfig 校验配置
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", gateway.ErrConfigInvalid)
	}
	if cfg.BaseURL == "" || cfg.TerminalID == "" || cfg.SecretKey == "" {
		return fmt.Errorf("%w: base_url/terminal_id/secret_key is required", gateway.ErrConfigInvalid)
	}
	return nil
}

// Client SocialPay 适配器
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
	return constants.ProviderSocialPay
}

// Checksum 计算校验和：terminal + invoice + amount + status 的 HMAC-SHA256
func Checksum(secretKey, terminal, invoice string, amount int64, status string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(terminal + invoice + strconv.FormatInt(amount, 10) + status))
	return strings.ToLower(hex.EncodeToString(mac.Sum(nil)))
}

// CreateInvoice 创建网关发票
func (c *Client) CreateInvoice(ctx context.Context, input gateway.CreateInvoiceInput) (*gateway.CreateInvoiceResult, error) {
	if input.InvoiceNo == "" || input.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid invoice input", gateway.ErrRejected)
	}

	params := map[string]interface{}{
		"terminal":    c.cfg.TerminalID,
		"invoice":     input.InvoiceNo,
		"amount":      input.Amount,
		"description": input.Description,
		"callback":    c.cfg.CallbackURL,
		"checksum":    Checksum(c.cfg.SecretKey, c.cfg.TerminalID, input.InvoiceNo, input.Amount, ""),
	}
	respBytes, err := gateway.PostJSON(ctx, c.cfg.BaseURL+"/pos/invoice/qr", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Header struct {
			Code int `json:"code"`
		} `json:"header"`
		Body struct {
			Response struct {
				Invoice  string `json:"invoice"`
				QR       string `json:"qr"`
				Deeplink string `json:"deeplink"`
			} `json:"response"`
		} `json:"body"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if resp.Header.Code != 200 || resp.Body.Response.Invoice == "" {
		return nil, fmt.Errorf("%w: code %d", gateway.ErrRejected, resp.Header.Code)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	return &gateway.CreateInvoiceResult{
		GatewayInvoiceID: resp.Body.Response.Invoice,
		Payload: map[string]interface{}{
			"qr_text":   resp.Body.Response.QR,
			"deep_link": resp.Body.Response.Deeplink,
		},
		Raw: raw,
	}, nil
}

// CallbackData 回调数据
type CallbackData struct {
	Invoice  string `json:"invoice"`
	Terminal string `json:"terminal"`
	Amount   int64  `json:"amount"`
	Status   string `json:"status"`
	Checksum string `json:"checksum"`
}

// ParseCallback 鉴权并解析回调
func (c *Client) ParseCallback(req *gateway.CallbackRequest) (*gateway.Observation, error) {
	if req == nil || len(req.Body) == 0 {
		return nil, fmt.Errorf("%w: empty body", gateway.ErrMalformedCallback)
	}
	var data CallbackData
	if err := json.Unmarshal(req.Body, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedCallback, err)
	}
	if data.Invoice == "" || data.Status == "" {
		return nil, fmt.Errorf("%w: missing fields", gateway.ErrMalformedCallback)
	}

	expected := Checksum(c.cfg.SecretKey, data.Terminal, data.Invoice, data.Amount, data.Status)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(data.Checksum))) {
		return nil, fmt.Errorf("%w: checksum mismatch", gateway.ErrMalformedCallback)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(req.Body, &raw)

	return &gateway.Observation{
		GatewayInvoiceID: data.Invoice,
		Status:           ToPaymentStatus(data.Status),
		Amount:           data.Amount,
		ObservedAt:       time.Now(),
		Raw:              raw,
	}, nil
}

// PollStatus 查询发票当前状态
func (c *Client) PollStatus(ctx context.Context, gatewayInvoiceID string) (*gateway.Observation, error) {
	if gatewayInvoiceID == "" {
		return nil, gateway.ErrInvoiceNotFound
	}
	params := map[string]interface{}{
		"terminal": c.cfg.TerminalID,
		"invoice":  gatewayInvoiceID,
		"checksum": Checksum(c.cfg.SecretKey, c.cfg.TerminalID, gatewayInvoiceID, 0, ""),
	}
	respBytes, err := gateway.PostJSON(ctx, c.cfg.BaseURL+"/pos/invoice/check", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Header struct {
			Code int `json:"code"`
		} `json:"header"`
		Body struct {
			Response struct {
				Status string      `json:"status"`
				Amount interface{} `json:"amount"`
			} `json:"response"`
		} `json:"body"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if resp.Header.Code == 404 {
		return nil, gateway.ErrInvoiceNotFound
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	return &gateway.Observation{
		GatewayInvoiceID: gatewayInvoiceID,
		Status:           ToPaymentStatus(resp.Body.Response.Status),
		Amount:           toAmount(resp.Body.Response.Amount),
		ObservedAt:       time.Now(),
		Raw:              raw,
	}, nil
}

// Refund 发起网关退款
func (c *Client) Refund(ctx context.Context, input gateway.RefundInput) (*gateway.RefundResult, error) {
	if input.GatewayInvoiceID == "" || input.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid refund input", gateway.ErrRejected)
	}
	params := map[string]interface{}{
		"terminal": c.cfg.TerminalID,
		"invoice":  input.GatewayInvoiceID,
		"amount":   input.Amount,
		"checksum": Checksum(c.cfg.SecretKey, c.cfg.TerminalID, input.GatewayInvoiceID, input.Amount, "REFUND"),
	}
	respBytes, err := gateway.PostJSON(ctx, c.cfg.BaseURL+"/pos/invoice/refund", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Header struct {
			Code int `json:"code"`
		} `json:"header"`
		Body struct {
			Response struct {
				RefundID string `json:"refund_id"`
			} `json:"response"`
		} `json:"body"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if resp.Header.Code != 200 {
		return nil, fmt.Errorf("%w: code %d", gateway.ErrRejected, resp.Header.Code)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	return &gateway.RefundResult{
		GatewayRefundID: resp.Body.Response.RefundID,
		Raw:             raw,
	}, nil
}

// ToPaymentStatus 将网关状态转换为支付状态
func ToPaymentStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case StatusPaid:
		return constants.PaymentStatusPaid
	case StatusFailed:
		return constants.PaymentStatusFailed
	case StatusCanceled:
		return constants.PaymentStatusCancelled
	case StatusSent:
		return constants.PaymentStatusProcessing
	default:
		return constants.PaymentStatusPending
	}
}

func toAmount(v interface{}) int64 {
	switch val := v.(type) {
	case float64:
		return int64(math.Round(val))
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return int64(math.Round(f))
		}
	case int64:
		return val
	}
	return 0
}
