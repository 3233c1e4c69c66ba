package qpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
)

// 网关侧支付状态常量
const (
	StatusNew      = "NEW"
	StatusPaid     = "PAID"
	StatusFailed   = "FAILED"
	StatusExpired  = "EXPIRED"
	StatusRefunded = "REFUNDED"
)

const timeLayout = "2006-01-02 15:04:05"

// Config QPay 渠道配置
type Config struct {
	BaseURL       string `json:"base_url"`       // 网关地址，如 https://merchant.qpay.mn
	Username      string `json:"username"`       // 商户客户端账号
	Password      string `json:"password"`       // 商户客户端密钥
	InvoiceCode   string `json:"invoice_code"`   // 商户发票模板编码
	CallbackURL   string `json:"callback_url"`   // 异步通知地址
	CallbackToken string `json:"callback_token"` // 回调签名密钥
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
	cfg.normalize()
	return &cfg, nil
}

// ValidateConfig 校验配置
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", gateway.ErrConfigInvalid)
	}
	if cfg.BaseURL == "" {
		return fmt.Errorf("%w: base_url is required", gateway.ErrConfigInvalid)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return fmt.Errorf("%w: username/password is required", gateway.ErrConfigInvalid)
	}
	if cfg.InvoiceCode == "" {
		return fmt.Errorf("%w: invoice_code is required", gateway.ErrConfigInvalid)
	}
	if cfg.CallbackToken == "" {
		return fmt.Errorf("%w: callback_token is required", gateway.ErrConfigInvalid)
	}
	return nil
}

func (c *Config) normalize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Username = strings.TrimSpace(c.Username)
	c.Password = strings.TrimSpace(c.Password)
	c.InvoiceCode = strings.TrimSpace(c.InvoiceCode)
	c.CallbackURL = strings.TrimSpace(c.CallbackURL)
	c.CallbackToken = strings.TrimSpace(c.CallbackToken)
}

// Client QPay 适配器
type Client struct {
	cfg *Config

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
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
	return constants.ProviderQPay
}

// token 获取接口访问令牌，带过期缓存
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Add(time.Minute).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	respBytes, err := gateway.PostJSON(ctx, c.cfg.BaseURL+"/v2/auth/token", nil,
		gateway.WithBasicAuth(c.cfg.Username, c.cfg.Password))
	if err != nil {
		return "", err
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", gateway.ErrUnavailable)
	}
	c.accessToken = resp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// CreateInvoice 创建网关发票
func (c *Client) CreateInvoice(ctx context.Context, input gateway.CreateInvoiceInput) (*gateway.CreateInvoiceResult, error) {
	if input.InvoiceNo == "" || input.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid invoice input", gateway.ErrRejected)
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"invoice_code":        c.cfg.InvoiceCode,
		"sender_invoice_no":   input.InvoiceNo,
		"invoice_description": input.Description,
		"amount":              input.Amount,
		"callback_url":        c.cfg.CallbackURL,
	}
	if !input.ExpiresAt.IsZero() {
		params["expiry_date"] = input.ExpiresAt.Format(timeLayout)
	}

	respBytes, err := gateway.PostJSON(ctx, c.cfg.BaseURL+"/v2/invoice", params, gateway.WithBearer(token))
	if err != nil {
		return nil, err
	}

	var resp struct {
		InvoiceID string `json:"invoice_id"`
		QRText    string `json:"qr_text"`
		QRImage   string `json:"qr_image"`
		ShortURL  string `json:"qPay_shortUrl"`
		URLs      []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Link        string `json:"link"`
		} `json:"urls"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if resp.InvoiceID == "" {
		return nil, fmt.Errorf("%w: empty invoice id", gateway.ErrRejected)
	}

	deepLinks := make([]interface{}, 0, len(resp.URLs))
	for _, u := range resp.URLs {
		deepLinks = append(deepLinks, map[string]interface{}{
			"name":        u.Name,
			"description": u.Description,
			"link":        u.Link,
		})
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	return &gateway.CreateInvoiceResult{
		GatewayInvoiceID: resp.InvoiceID,
		Payload: map[string]interface{}{
			"qr_text":    resp.QRText,
			"qr_image":   resp.QRImage,
			"short_url":  resp.ShortURL,
			"deep_links": deepLinks,
		},
		Raw: raw,
	}, nil
}

// CallbackData 回调数据
type CallbackData struct {
	InvoiceID     string      `json:"invoice_id"`
	PaymentID     string      `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	Amount        interface{} `json:"amount"` // 可能是 float64 或 string
	PaidDate      string      `json:"paid_date"`
	Signature     string      `json:"signature"`
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
	if data.InvoiceID == "" || data.PaymentStatus == "" {
		return nil, fmt.Errorf("%w: missing fields", gateway.ErrMalformedCallback)
	}

	params := map[string]interface{}{
		"invoice_id":     data.InvoiceID,
		"payment_id":     data.PaymentID,
		"payment_status": data.PaymentStatus,
		"amount":         data.Amount,
		"paid_date":      data.PaidDate,
	}
	expected := Sign(params, c.cfg.CallbackToken)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(data.Signature))) {
		return nil, fmt.Errorf("%w: signature mismatch", gateway.ErrMalformedCallback)
	}

	observedAt := time.Now()
	if data.PaidDate != "" {
		if ts, err := time.Parse(timeLayout, data.PaidDate); err == nil {
			observedAt = ts
		}
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(req.Body, &raw)

	return &gateway.Observation{
		GatewayInvoiceID: data.InvoiceID,
		Status:           ToPaymentStatus(data.PaymentStatus),
		Amount:           toAmount(data.Amount),
		ObservedAt:       observedAt,
		Raw:              raw,
	}, nil
}

// PollStatus 查询发票当前状态
func (c *Client) PollStatus(ctx context.Context, gatewayInvoiceID string) (*gateway.Observation, error) {
	if gatewayInvoiceID == "" {
		return nil, gateway.ErrInvoiceNotFound
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"object_type": "INVOICE",
		"object_id":   gatewayInvoiceID,
	}
	respBytes, err := gateway.PostJSON(ctx, c.cfg.BaseURL+"/v2/payment/check", params, gateway.WithBearer(token))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Count int64 `json:"count"`
		Rows  []struct {
			PaymentID     string      `json:"payment_id"`
			PaymentStatus string      `json:"payment_status"`
			PaymentAmount interface{} `json:"payment_amount"`
			PaymentDate   string      `json:"payment_date"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	// 无支付记录说明发票仍在等待支付
	if resp.Count == 0 || len(resp.Rows) == 0 {
		return &gateway.Observation{
			GatewayInvoiceID: gatewayInvoiceID,
			Status:           constants.PaymentStatusPending,
			ObservedAt:       time.Now(),
			Raw:              raw,
		}, nil
	}

	row := resp.Rows[0]
	observedAt := time.Now()
	if row.PaymentDate != "" {
		if ts, err := time.Parse(timeLayout, row.PaymentDate); err == nil {
			observedAt = ts
		}
	}
	return &gateway.Observation{
		GatewayInvoiceID: gatewayInvoiceID,
		Status:           ToPaymentStatus(row.PaymentStatus),
		Amount:           toAmount(row.PaymentAmount),
		ObservedAt:       observedAt,
		Raw:              raw,
	}, nil
}

// Refund 发起网关退款
func (c *Client) Refund(ctx context.Context, input gateway.RefundInput) (*gateway.RefundResult, error) {
	if input.GatewayInvoiceID == "" || input.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid refund input", gateway.ErrRejected)
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"invoice_id": input.GatewayInvoiceID,
		"amount":     input.Amount,
		"note":       input.Reason,
		"request_id": input.RequestID,
	}
	respBytes, err := gateway.DoJSON(ctx, http.MethodDelete, c.cfg.BaseURL+"/v2/payment/refund", params, gateway.WithBearer(token))
	if err != nil {
		return nil, err
	}

	var resp struct {
		RefundID string `json:"refund_id"`
	}
	_ = json.Unmarshal(respBytes, &resp)

	var raw map[string]interface{}
	_ = json.Unmarshal(respBytes, &raw)

	return &gateway.RefundResult{
		GatewayRefundID: resp.RefundID,
		Raw:             raw,
	}, nil
}

// Sign 生成回调签名
// 签名规则：
// 1. 筛选所有非空且非 signature 的参数
// 2. 按参数名 ASCII 码从小到大排序
// 3. 按 key=value 格式拼接，使用 & 连接
// 4. 以回调密钥为 key 计算 HMAC-SHA256 并转小写十六进制
func Sign(params map[string]interface{}, callbackToken string) string {
	var keys []string
	for k, v := range params {
		if k == "signature" {
			continue
		}
		if isEmptyValue(v) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, params[k]))
	}

	mac := hmac.New(sha256.New, []byte(callbackToken))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return strings.ToLower(hex.EncodeToString(mac.Sum(nil)))
}

func isEmptyValue(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// ToPaymentStatus 将网关状态转换为支付状态
func ToPaymentStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case StatusPaid:
		return constants.PaymentStatusPaid
	case StatusFailed:
		return constants.PaymentStatusFailed
	case StatusExpired:
		return constants.PaymentStatusCancelled
	case StatusRefunded:
		return constants.PaymentStatusRefunded
	case StatusNew:
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
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(val), "%f", &f); err == nil {
			return int64(math.Round(f))
		}
	case int64:
		return val
	case int:
		return int64(val)
	}
	return 0
}
