package storepay

import (
	"context"
	"crypto/subtle"
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

// 网关侧状态常量
const (
	StatusRequested = "REQUESTED"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusClosed    = "CLOSED"
)

// Config Storepay 渠道配置
type Config struct {
	BaseURL       string `json:"base_url"`       // 网关地址
	AppUsername   string `json:"app_username"`   // 商户账号
	AppPassword   string `json:"app_password"`   // 商户密钥
	StoreID       string `json:"store_id"`       // 门店编号
	CallbackToken string `json:"callback_token"` // 回调 Bearer 令牌
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
	cfg.AppUsername = strings.TrimSpace(cfg.AppUsername)
	cfg.AppPassword = strings.TrimSpace(cfg.AppPassword)
	cfg.StoreID = strings.TrimSpace(cfg.StoreID)
	cfg.CallbackToken = strings.TrimSpace(cfg.CallbackToken)
	return &cfg, nil
}

// ValidateConfig 校验配置
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", gateway.ErrConfigInvalid)
	}
	if cfg.BaseURL == "" || cfg.AppUsername == "" || cfg.AppPassword == "" || cfg.StoreID == "" {
		return fmt.Errorf("%w: base_url/app_username/app_password/store_id is required", gateway.ErrConfigInvalid)
	}
	if cfg.CallbackToken == "" {
		return fmt.Errorf("%w: callback_token is required", gateway.ErrConfigInvalid)
	}
	return nil
}

// Client Storepay 适配器
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
	return constants.ProviderStorepay
}

// CreateInvoice 创建分期付款单
func (c *Client) CreateInvoice(ctx context.Context, input gateway.CreateInvoiceInput) (*gateway.CreateInvoiceResult, error) {
	if input.InvoiceNo == "" || input.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid invoice input", gateway.ErrRejected)
	}

	params := map[string]interface{}{
		"storeId":     c.cfg.StoreID,
		"invoiceNo":   input.InvoiceNo,
		"amount":      input.Amount,
		"description": input.Description,
	}
	if phone, ok := input.Metadata["phone"]; ok && phone != "" {
		params["mobileNumber"] = phone
	}
	respBytes, err := gateway.PostJSON(ctx, c.cfg.BaseURL+"/merchant/loan", params,
		gateway.WithBasicAuth(c.cfg.AppUsername, c.cfg.AppPassword))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status string `json:"status"`
		Value  int64  `json:"value"`
		MsgList []struct {
			Text string `json:"text"`
		} `json:"msgList"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if !strings.EqualFold(resp.Status, "Success") || resp.Value == 0 {
		msg := ""
		if len(resp.MsgList) > 0 {
			msg = resp.MsgList[0].Text
		}
		return nil, fmt.Errorf("%w: %s", gateway.ErrRejected, msg)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	loanID := strconv.FormatInt(resp.Value, 10)
	return &gateway.CreateInvoiceResult{
		GatewayInvoiceID: loanID,
		Payload: map[string]interface{}{
			"loan_id":   loanID,
			"deep_link": "storepay://purchase/" + loanID,
		},
		Raw: raw,
	}, nil
}

// CallbackData 回调数据
type CallbackData struct {
	LoanID string      `json:"loanId"`
	Status string      `json:"status"`
	Amount interface{} `json:"amount"`
}

// ParseCallback 鉴权并解析回调（以 Bearer 令牌鉴权）
func (c *Client) ParseCallback(req *gateway.CallbackRequest) (*gateway.Observation, error) {
	if req == nil || len(req.Body) == 0 {
		return nil, fmt.Errorf("%w: empty body", gateway.ErrMalformedCallback)
	}
	auth := strings.TrimSpace(req.Header("Authorization"))
	expected := "Bearer " + c.cfg.CallbackToken
	if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
		return nil, fmt.Errorf("%w: bad token", gateway.ErrMalformedCallback)
	}

	var data CallbackData
	if err := json.Unmarshal(req.Body, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedCallback, err)
	}
	if data.LoanID == "" || data.Status == "" {
		return nil, fmt.Errorf("%w: missing fields", gateway.ErrMalformedCallback)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(req.Body, &raw)

	return &gateway.Observation{
		GatewayInvoiceID: data.LoanID,
		Status:           ToPaymentStatus(data.Status),
		Amount:           toAmount(data.Amount),
		ObservedAt:       time.Now(),
		Raw:              raw,
	}, nil
}

// PollStatus 查询付款单当前状态
func (c *Client) PollStatus(ctx context.Context, gatewayInvoiceID string) (*gateway.Observation, error) {
	if gatewayInvoiceID == "" {
		return nil, gateway.ErrInvoiceNotFound
	}
	endpoint := c.cfg.BaseURL + "/merchant/loan/check/" + url.PathEscape(gatewayInvoiceID)
	respBytes, err := gateway.GetJSON(ctx, endpoint,
		gateway.WithBasicAuth(c.cfg.AppUsername, c.cfg.AppPassword))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status string `json:"status"`
		Value  struct {
			Status string      `json:"status"`
			Amount interface{} `json:"amount"`
		} `json:"value"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if !strings.EqualFold(resp.Status, "Success") {
		return nil, gateway.ErrInvoiceNotFound
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	return &gateway.Observation{
		GatewayInvoiceID: gatewayInvoiceID,
		Status:           ToPaymentStatus(resp.Value.Status),
		Amount:           toAmount(resp.Value.Amount),
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
		"loanId": input.GatewayInvoiceID,
		"amount": input.Amount,
		"note":   input.Reason,
	}
	respBytes, err := gateway.PostJSON(ctx, c.cfg.BaseURL+"/merchant/loan/refund", params,
		gateway.WithBasicAuth(c.cfg.AppUsername, c.cfg.AppPassword))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status string `json:"status"`
		Value  string `json:"value"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if !strings.EqualFold(resp.Status, "Success") {
		return nil, fmt.Errorf("%w: refund rejected", gateway.ErrRejected)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	return &gateway.RefundResult{
		GatewayRefundID: resp.Value,
		Raw:             raw,
	}, nil
}

// ToPaymentStatus 将网关状态转换为支付状态
func ToPaymentStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case StatusApproved:
		return constants.PaymentStatusPaid
	case StatusRejected:
		return constants.PaymentStatusFailed
	case StatusClosed:
		return constants.PaymentStatusCancelled
	case StatusRequested:
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
