package admin

import (
	"errors"

	"github.com/visapay-next/internal/http/response"
	"github.com/visapay-next/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.msg, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

var refundErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentNotFound, code: response.CodeNotFound, msg: "支付单不存在"},
	{target: service.ErrPaymentNotRefundable, code: response.CodeBadRequest, msg: "支付单当前状态不可退款"},
	{target: service.ErrRefundAmountInvalid, code: response.CodeBadRequest, msg: "退款金额非法或超出可退余额"},
	{target: service.ErrChannelNotFound, code: response.CodeBadRequest, msg: "支付渠道不存在或未启用"},
	{target: service.ErrChannelConfigInvalid, code: response.CodeBadRequest, msg: "支付渠道配置非法"},
	{target: service.ErrProviderUnavailable, code: response.CodeInternal, msg: "支付网关暂不可用，请稍后重试"},
	{target: service.ErrProviderRejected, code: response.CodeBadRequest, msg: "支付网关拒绝了退款请求"},
	{target: service.ErrPaymentUpdateFailed, code: response.CodeInternal, msg: "退款落账失败"},
}

var confirmErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentNotFound, code: response.CodeNotFound, msg: "支付单不存在"},
	{target: service.ErrTransitionInvalid, code: response.CodeBadRequest, msg: "支付单当前状态不可确认"},
	{target: service.ErrPaymentUpdateFailed, code: response.CodeInternal, msg: "人工确认落账失败"},
}

var summaryErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentInvalid, code: response.CodeBadRequest, msg: "时间区间非法"},
}

var channelErrorRules = []mappedHandlerError{
	{target: service.ErrChannelNotFound, code: response.CodeNotFound, msg: "支付渠道不存在"},
	{target: service.ErrChannelExists, code: response.CodeBadRequest, msg: "该提供方的渠道已存在"},
	{target: service.ErrChannelConfigInvalid, code: response.CodeBadRequest, msg: "支付渠道配置非法"},
}
