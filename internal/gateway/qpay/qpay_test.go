package qpay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(map[string]interface{}{
		"base_url":       "https://merchant-sandbox.qpay.mn/",
		"username":       "merchant",
		"password":       "secret",
		"invoice_code":   "VISAPAY_INVOICE",
		"callback_token": "callback-token",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(map[string]interface{}{
		"base_url": "https://merchant.qpay.mn",
		"username": "merchant",
	})
	if !errors.Is(err, gateway.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got: %v", err)
	}
}

func TestSignSkipsEmptyAndSignatureParams(t *testing.T) {
	params := map[string]interface{}{
		"invoice_id":     "INV-1",
		"payment_status": "PAID",
		"paid_date":      "",
		"signature":      "should-be-ignored",
	}
	got := Sign(params, "callback-token")
	want := Sign(map[string]interface{}{
		"invoice_id":     "INV-1",
		"payment_status": "PAID",
	}, "callback-token")
	if got != want {
		t.Fatalf("empty and signature params must not affect signature: %s != %s", got, want)
	}
	if Sign(params, "other-token") == got {
		t.Fatalf("different token must change signature")
	}
}

func TestParseCallback(t *testing.T) {
	client := newTestClient(t)

	payload := map[string]interface{}{
		"invoice_id":     "INV-100",
		"payment_id":     "PAY-1",
		"payment_status": "PAID",
		"amount":         "150000",
		"paid_date":      "2026-08-29 12:30:00",
	}
	payload["signature"] = Sign(payload, "callback-token")
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}

	obs, err := client.ParseCallback(&gateway.CallbackRequest{Body: body})
	if err != nil {
		t.Fatalf("ParseCallback failed: %v", err)
	}
	if obs.GatewayInvoiceID != "INV-100" {
		t.Fatalf("unexpected invoice id: %s", obs.GatewayInvoiceID)
	}
	if obs.Status != constants.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", obs.Status)
	}
	if obs.Amount != 150000 {
		t.Fatalf("expected amount 150000, got %d", obs.Amount)
	}
	if obs.ObservedAt.Format("2006-01-02 15:04:05") != "2026-08-29 12:30:00" {
		t.Fatalf("unexpected observed_at: %v", obs.ObservedAt)
	}
}

func TestParseCallbackSignatureMismatch(t *testing.T) {
	client := newTestClient(t)

	payload := map[string]interface{}{
		"invoice_id":     "INV-100",
		"payment_status": "PAID",
		"amount":         "150000",
		"signature":      "deadbeef",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}

	_, err = client.ParseCallback(&gateway.CallbackRequest{Body: body})
	if !errors.Is(err, gateway.ErrMalformedCallback) {
		t.Fatalf("expected ErrMalformedCallback, got: %v", err)
	}
}

func TestParseCallbackMissingFields(t *testing.T) {
	client := newTestClient(t)

	_, err := client.ParseCallback(&gateway.CallbackRequest{Body: []byte(`{"payment_status":"PAID"}`)})
	if !errors.Is(err, gateway.ErrMalformedCallback) {
		t.Fatalf("expected ErrMalformedCallback for missing invoice_id, got: %v", err)
	}
	_, err = client.ParseCallback(&gateway.CallbackRequest{Body: nil})
	if !errors.Is(err, gateway.ErrMalformedCallback) {
		t.Fatalf("expected ErrMalformedCallback for empty body, got: %v", err)
	}
}

func TestToPaymentStatus(t *testing.T) {
	cases := map[string]string{
		"PAID":     constants.PaymentStatusPaid,
		"paid":     constants.PaymentStatusPaid,
		"FAILED":   constants.PaymentStatusFailed,
		"EXPIRED":  constants.PaymentStatusCancelled,
		"REFUNDED": constants.PaymentStatusRefunded,
		"NEW":      constants.PaymentStatusProcessing,
		"UNKNOWN":  constants.PaymentStatusPending,
	}
	for input, want := range cases {
		if got := ToPaymentStatus(input); got != want {
			t.Fatalf("ToPaymentStatus(%s): expected %s, got %s", input, want, got)
		}
	}
}

func TestToAmount(t *testing.T) {
	if got := toAmount(float64(150000.4)); got != 150000 {
		t.Fatalf("expected 150000, got %d", got)
	}
	if got := toAmount("150000.6"); got != 150001 {
		t.Fatalf("expected rounded 150001, got %d", got)
	}
	if got := toAmount(nil); got != 0 {
		t.Fatalf("expected 0 for nil, got %d", got)
	}
}
