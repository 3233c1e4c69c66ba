package monpay

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
)

// 网关侧状态码常量
const (
	CodeSuccess = 0
)

// 网关侧支付状态常量
const (
	StatusPending  = "PENDING"
	StatusPaid     = "SUCCESS"
	StatusFailed   = "FAILURE"
	StatusCanceled = "CANCEL"
)

// Config Monpay 渠道配置
type Config struct {
	BaseURL        string `json:"base_url"`        // 网关地址
	BranchUsername string `json:"branch_username"` // 分支商户账号
	AccessKey      string `json:"access_key"`      // 接口密钥，兼作回调签名密钥
	CallbackURL    string `json:"callback_url"`    // 异步通知地址
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
	cfg.BranchUsername = strings.TrimSpace(cfg.BranchUsername)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.CallbackURL = strings.TrimSpace(cfg.CallbackURL)
	return &cfg, nil
}

// ValidateConfig 校验配置
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", gateway.ErrConfigInvalid)
	}
	if cfg.BaseURL == "" || cfg.BranchUsername == "" || cfg.AccessKey == "" {
		return fmt.Errorf("%w: base_url/branch_username/access_key is required", gateway.ErrConfigInvalid)
	}
	return nil
}

// Client Monpay 适配器
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
	return constants.ProviderMonpay
}

// Sign 生成回调签名：uuid + amount + status + access_key 的 MD5 小写十六进制
func Sign(uuid string, amount int64, status, accessKey string) string {
	content := uuid + strconv.FormatInt(amount, 10) + status + accessKey
	sum := md5.Sum([]byte(content))
	return strings.ToLower(hex.EncodeToString(sum[:]))
}

// CreateInvoice 创建二维码收款单
func (c *Client) CreateInvoice(ctx context.Context, input gateway.CreateInvoiceInput) (*gateway.CreateInvoiceResult, error) {
	if input.InvoiceNo == "" || input.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid invoice input", gateway.ErrRejected)
	}

	params := map[string]interface{}{
		"amount":         input.Amount,
		"branchUsername": c.cfg.BranchUsername,
		"displayName":    input.Description,
		"invoiceNo":      input.InvoiceNo,
		"callbackUrl":    c.cfg.CallbackURL,
	}
	respBytes, err := gateway.PostJSON(ctx, c.cfg.BaseURL+"/rest/branch/qrpurchase/generate", params,
		gateway.WithBearer(c.cfg.AccessKey))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Code   int    `json:"code"`
		Info   string `json:"info"`
		Result struct {
			UUID    string `json:"uuid"`
			QRCode  string `json:"qrcode"`
			Deeplink string `json:"deeplink"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if resp.Code != CodeSuccess || resp.Result.UUID == "" {
		return nil, fmt.Errorf("%w: %s", gateway.ErrRejected, resp.Info)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	return &gateway.CreateInvoiceResult{
		GatewayInvoiceID: resp.Result.UUID,
		Payload: map[string]interface{}{
			"qr_text":   resp.Result.QRCode,
			"deep_link": resp.Result.Deeplink,
		},
		Raw: raw,
	}, nil
}

// ParseCallback 鉴权并解析回调（Monpay 以 query 参数回调）
func (c *Client) ParseCallback(req *gateway.CallbackRequest) (*gateway.Observation, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", gateway.ErrMalformedCallback)
	}
	values := req.Query
	if values == nil {
		values = url.Values{}
	}
	uuid := strings.TrimSpace(values.Get("uuid"))
	status := strings.TrimSpace(values.Get("status"))
	signature := strings.TrimSpace(values.Get("signature"))
	amount, _ := strconv.ParseInt(strings.TrimSpace(values.Get("amount")), 10, 64)
	if uuid == "" || status == "" {
		return nil, fmt.Errorf("%w: missing fields", gateway.ErrMalformedCallback)
	}

	expected := Sign(uuid, amount, status, c.cfg.AccessKey)
	if !strings.EqualFold(expected, signature) {
		return nil, fmt.Errorf("%w: signature mismatch", gateway.ErrMalformedCallback)
	}

	raw := make(map[string]interface{}, len(values))
	for k := range values {
		raw[k] = values.Get(k)
	}

	return &gateway.Observation{
		GatewayInvoiceID: uuid,
		Status:           ToPaymentStatus(status),
		Amount:           amount,
		ObservedAt:       time.Now(),
		Raw:              raw,
	}, nil
}

// PollStatus 查询收款单当前状态
func (c *Client) PollStatus(ctx context.Context, gatewayInvoiceID string) (*gateway.Observation, error) {
	if gatewayInvoiceID == "" {
		return nil, gateway.ErrInvoiceNotFound
	}
	endpoint := c.cfg.BaseURL + "/rest/branch/qrpurchase/check?uuid=" + url.QueryEscape(gatewayInvoiceID)
	respBytes, err := gateway.GetJSON(ctx, endpoint, gateway.WithBearer(c.cfg.AccessKey))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Code   int `json:"code"`
		Result struct {
			UUID   string      `json:"uuid"`
			Status string      `json:"status"`
			Amount interface{} `json:"amount"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if resp.Code != CodeSuccess || resp.Result.UUID == "" {
		return nil, gateway.ErrInvoiceNotFound
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	return &gateway.Observation{
		GatewayInvoiceID: gatewayInvoiceID,
		Status:           ToPaymentStatus(resp.Result.Status),
		Amount:           toAmount(resp.Result.Amount),
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
		"uuid":   input.GatewayInvoiceID,
		"amount": input.Amount,
		"note":   input.Reason,
	}
	respBytes, err := gateway.PostJSON(ctx, c.cfg.BaseURL+"/rest/branch/qrpurchase/refund", params,
		gateway.WithBearer(c.cfg.AccessKey))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Code   int    `json:"code"`
		Info   string `json:"info"`
		Result struct {
			RefundID string `json:"refundId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if resp.Code != CodeSuccess {
		return nil, fmt.Errorf("%w: %s", gateway.ErrRejected, resp.Info)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	return &gateway.RefundResult{
		GatewayRefundID: resp.Result.RefundID,
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
