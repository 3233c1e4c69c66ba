package service

import "errors"

// 支付域业务错误
var (
	// ErrPaymentInvalid 支付入参非法
	ErrPaymentInvalid = errors.New("支付参数非法")
	// ErrPaymentNotFound 支付单不存在
	ErrPaymentNotFound = errors.New("支付单不存在")
	// ErrPaymentCreateFailed 支付单创建失败
	ErrPaymentCreateFailed = errors.New("支付单创建失败")
	// ErrPaymentUpdateFailed 支付单更新失败
	ErrPaymentUpdateFailed = errors.New("支付单更新失败")
	// ErrPaymentStatusInvalid 支付状态非法
	ErrPaymentStatusInvalid = errors.New("支付状态非法")
	// ErrTransitionInvalid 支付状态流转不被允许
	ErrTransitionInvalid = errors.New("支付状态流转不被允许")
	// ErrAlreadySettling 支付单已进入结算流程，不可取消
	ErrAlreadySettling = errors.New("支付单已进入结算流程")

	// ErrRefundAmountInvalid 退款金额非法或超出可退余额
	ErrRefundAmountInvalid = errors.New("退款金额非法")
	// ErrPaymentNotRefundable 支付单当前状态不可退款
	ErrPaymentNotRefundable = errors.New("支付单不可退款")

	// ErrChannelNotFound 支付渠道不存在或未启用
	ErrChannelNotFound = errors.New("支付渠道不存在")
	// ErrChannelExists 支付渠道已存在
	ErrChannelExists = errors.New("支付渠道已存在")
	// ErrChannelConfigInvalid 支付渠道配置非法
	ErrChannelConfigInvalid = errors.New("支付渠道配置非法")

	// ErrProviderUnavailable 网关不可用（网络或 5xx）
	ErrProviderUnavailable = errors.New("支付网关不可用")
	// ErrProviderRejected 网关拒绝本次请求
	ErrProviderRejected = errors.New("支付网关拒绝请求")
	// ErrCallbackMalformed 回调报文非法或验签失败
	ErrCallbackMalformed = errors.New("回调报文非法")
	// ErrCallbackUnsupported 渠道不支持该观测来源
	ErrCallbackUnsupported = errors.New("渠道不支持该观测来源")
)
