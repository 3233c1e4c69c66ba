package public

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

var paymentCreateErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentInvalid, code: response.CodeBadRequest, msg: "支付参数非法"},
	{target: service.ErrChannelNotFound, code: response.CodeNotFound, msg: "支付渠道不存在或未启用"},
	{target: service.ErrChannelConfigInvalid, code: response.CodeBadRequest, msg: "支付渠道配置非法"},
	{target: service.ErrProviderUnavailable, code: response.CodeInternal, msg: "支付网关暂不可用，请稍后重试"},
	{target: service.ErrProviderRejected, code: response.CodeBadRequest, msg: "支付网关拒绝了本次请求"},
	{target: service.ErrPaymentCreateFailed, code: response.CodeInternal, msg: "支付单创建失败"},
}

var paymentCancelErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentNotFound, code: response.CodeNotFound, msg: "支付单不存在"},
	{target: service.ErrAlreadySettling, code: response.CodeBadRequest, msg: "支付单已进入结算流程，无法取消"},
	{target: service.ErrPaymentUpdateFailed, code: response.CodeInternal, msg: "支付单更新失败"},
}
