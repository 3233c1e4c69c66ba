package service

import (
	"strings"

	"github.com/visapay-next/internal/constants"
)

// allowedPaymentTransitions 支付状态流转表。
// 对账路径只允许走 pending/processing 出边；
// paid 之后的退款边仅由退款流程触发，对账不会对已结算单做任何回退。
var allowedPaymentTransitions = map[string]map[string]bool{
	constants.PaymentStatusPending: {
		constants.PaymentStatusProcessing: true,
		constants.PaymentStatusPaid:       true,
		constants.PaymentStatusFailed:     true,
		constants.PaymentStatusCancelled:  true,
	},
	constants.PaymentStatusProcessing: {
		constants.PaymentStatusPaid:      true,
		constants.PaymentStatusFailed:    true,
		constants.PaymentStatusCancelled: true,
	},
	constants.PaymentStatusPaid: {
		constants.PaymentStatusPartiallyRefunded: true,
		constants.PaymentStatusRefunded:          true,
	},
	constants.PaymentStatusPartiallyRefunded: {
		constants.PaymentStatusRefunded: true,
	},
}

// terminalPaymentStatuses 终态集合，进入后对账不再迁出
var terminalPaymentStatuses = map[string]bool{
	constants.PaymentStatusFailed:    true,
	constants.PaymentStatusCancelled: true,
	constants.PaymentStatusRefunded:  true,
}

// normalizePaymentStatus 归一化状态取值
func normalizePaymentStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// isPaymentStatusValid 判断状态取值是否合法
func isPaymentStatusValid(status string) bool {
	switch status {
	case constants.PaymentStatusPending,
		constants.PaymentStatusProcessing,
		constants.PaymentStatusPaid,
		constants.PaymentStatusFailed,
		constants.PaymentStatusCancelled,
		constants.PaymentStatusRefunded,
		constants.PaymentStatusPartiallyRefunded:
		return true
	default:
		return false
	}
}

// isTerminalPaymentStatus 判断是否终态
func isTerminalPaymentStatus(status string) bool {
	return terminalPaymentStatuses[status]
}

// isTransitionAllowed 判断状态流转是否被允许
func isTransitionAllowed(from, to string) bool {
	targets, ok := allowedPaymentTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// isSettledPaymentStatus 判断是否已结算（含退款分支）
func isSettledPaymentStatus(status string) bool {
	switch status {
	case constants.PaymentStatusPaid,
		constants.PaymentStatusPartiallyRefunded,
		constants.PaymentStatusRefunded:
		return true
	default:
		return false
	}
}
