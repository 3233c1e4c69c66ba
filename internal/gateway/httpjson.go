package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RequestOption 请求附加选项
type RequestOption func(*http.Request)

// WithBearer 设置 Bearer 鉴权头
func WithBearer(token string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// WithBasicAuth 设置 Basic 鉴权头
func WithBasicAuth(username, password string) RequestOption {
	return func(req *http.Request) {
		req.SetBasicAuth(username, password)
	}
}

// DoJSON 发送 JSON 请求并返回响应体，网关侧 HTTP 错误归一化为 ErrUnavailable
func DoJSON(ctx context.Context, method, endpoint string, params map[string]interface{}, opts ...RequestOption) ([]byte, error) {
	var reader io.Reader
	if params != nil {
		body, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return payload, nil
	case resp.StatusCode == http.StatusNotFound:
		return payload, ErrInvoiceNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return payload, fmt.Errorf("%w: http status %d", ErrRejected, resp.StatusCode)
	default:
		return payload, fmt.Errorf("%w: http status %d", ErrUnavailable, resp.StatusCode)
	}
}

// PostJSON 发送 POST JSON 请求
func PostJSON(ctx context.Context, endpoint string, params map[string]interface{}, opts ...RequestOption) ([]byte, error) {
	return DoJSON(ctx, http.MethodPost, endpoint, params, opts...)
}

// GetJSON 发送 GET 请求
func GetJSON(ctx context.Context, endpoint string, opts ...RequestOption) ([]byte, error) {
	return DoJSON(ctx, http.MethodGet, endpoint, nil, opts...)
}
