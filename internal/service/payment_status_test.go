package service

import (
	"testing"

	"github.com/visapay-next/internal/constants"
)

var allPaymentStatuses = []string{
	constants.PaymentStatusPending,
	constants.PaymentStatusProcessing,
	constants.PaymentStatusPaid,
	constants.PaymentStatusFailed,
	constants.PaymentStatusCancelled,
	constants.PaymentStatusRefunded,
	constants.PaymentStatusPartiallyRefunded,
}

func TestTerminalStatusesHaveNoOutgoingTransitions(t *testing.T) {
	for _, from := range allPaymentStatuses {
		if !isTerminalPaymentStatus(from) {
			continue
		}
		for _, to := range allPaymentStatuses {
			if isTransitionAllowed(from, to) {
				t.Fatalf("terminal status %s must not transition to %s", from, to)
			}
		}
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    string
		to      string
		allowed bool
	}{
		{constants.PaymentStatusPending, constants.PaymentStatusProcessing, true},
		{constants.PaymentStatusPending, constants.PaymentStatusPaid, true},
		{constants.PaymentStatusPending, constants.PaymentStatusCancelled, true},
		{constants.PaymentStatusProcessing, constants.PaymentStatusPaid, true},
		{constants.PaymentStatusProcessing, constants.PaymentStatusPending, false},
		{constants.PaymentStatusPaid, constants.PaymentStatusPending, false},
		{constants.PaymentStatusPaid, constants.PaymentStatusCancelled, false},
		{constants.PaymentStatusPaid, constants.PaymentStatusPartiallyRefunded, true},
		{constants.PaymentStatusPaid, constants.PaymentStatusRefunded, true},
		{constants.PaymentStatusPartiallyRefunded, constants.PaymentStatusRefunded, true},
		{constants.PaymentStatusPartiallyRefunded, constants.PaymentStatusPaid, false},
		{constants.PaymentStatusCancelled, constants.PaymentStatusPaid, false},
		{constants.PaymentStatusFailed, constants.PaymentStatusPaid, false},
	}
	for _, tc := range cases {
		if got := isTransitionAllowed(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("transition %s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestNormalizeAndValidatePaymentStatus(t *testing.T) {
	if normalizePaymentStatus("  PAID ") != constants.PaymentStatusPaid {
		t.Fatalf("expected normalized paid")
	}
	if !isPaymentStatusValid(constants.PaymentStatusPartiallyRefunded) {
		t.Fatalf("partially_refunded must be valid")
	}
	if isPaymentStatusValid("settled") {
		t.Fatalf("unknown status must be invalid")
	}
}

func TestSettledPaymentStatuses(t *testing.T) {
	for _, status := range allPaymentStatuses {
		want := status == constants.PaymentStatusPaid ||
			status == constants.PaymentStatusPartiallyRefunded ||
			status == constants.PaymentStatusRefunded
		if got := isSettledPaymentStatus(status); got != want {
			t.Fatalf("settled(%s): expected %v, got %v", status, want, got)
		}
	}
}
