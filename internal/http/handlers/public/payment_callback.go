package public

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/visapay-next/internal/gateway"
	"github.com/visapay-next/internal/service"

	"github.com/gin-gonic/gin"
)

// 回调应答固定文案，网关按纯文本识别
const (
	callbackAckSuccess = "SUCCESS"
	callbackAckFail    = "FAIL"
)

// PaymentCallback 网关异步回调入口。
// 验签失败返回 400 促使网关停止投递；其余异常观测归档后照常应答成功，
// 避免网关对已吸收的异常反复重试。
func (h *Handler) PaymentCallback(c *gin.Context) {
	providerName := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	log := requestLog(c).With(
		"provider", providerName,
		"client_ip", c.ClientIP(),
	)
	log.Infow("payment_callback_request",
		"method", c.Request.Method,
		"content_type", strings.TrimSpace(c.GetHeader("Content-Type")),
	)

	req, err := buildCallbackRequest(c)
	if err != nil {
		log.Warnw("payment_callback_read_failed", "error", err)
		c.String(http.StatusBadRequest, callbackAckFail)
		return
	}

	_, err = h.ReconcileService.HandleCallback(c.Request.Context(), providerName, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCallbackMalformed),
			errors.Is(err, service.ErrCallbackUnsupported):
			c.String(http.StatusBadRequest, callbackAckFail)
		case errors.Is(err, service.ErrChannelNotFound),
			errors.Is(err, service.ErrChannelConfigInvalid):
			c.String(http.StatusNotFound, callbackAckFail)
		default:
			log.Errorw("payment_callback_apply_failed", "error", err)
			c.String(http.StatusInternalServerError, callbackAckFail)
		}
		return
	}

	c.String(http.StatusOK, callbackAckSuccess)
}

func buildCallbackRequest(c *gin.Context) (*gateway.CallbackRequest, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(c.Request.Header))
	for key := range c.Request.Header {
		headers[key] = c.GetHeader(key)
	}
	return &gateway.CallbackRequest{
		Headers: headers,
		Query:   c.Request.URL.Query(),
		Body:    body,
	}, nil
}
