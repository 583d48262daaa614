package domain

import (
	"errors"
	"testing"
)

func TestParseOrderStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    OrderStatus
		wantErr bool
	}{
		{raw: "Submitted", want: OrderStatusSubmitted},
		{raw: "processed", want: OrderStatusProcessed},
		{raw: "PROCESSED", want: OrderStatusProcessed},
		{raw: " cancelled ", want: OrderStatusCancelled},
		{raw: "SHIPPED", want: OrderStatusShipped},
		{raw: "Refunded", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseOrderStatus(tc.raw)
			if tc.wantErr {
				if !errors.Is(err, ErrStatusInvalid) {
					t.Fatalf("expected ErrStatusInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestOrderStatusHoldsStock(t *testing.T) {
	t.Parallel()

	for _, status := range OrderStatuses() {
		want := status != OrderStatusCancelled
		if got := status.HoldsStock(); got != want {
			t.Fatalf("status %s holds=%v, want %v", status, got, want)
		}
	}
}

func TestReasonOrderCreated(t *testing.T) {
	t.Parallel()

	for _, status := range OrderStatuses() {
		reason, ok := ReasonOrderCreated(status)
		if status == OrderStatusCancelled {
			if ok {
				t.Fatalf("cancelled order must not produce a creation reason, got %s", reason)
			}
			continue
		}
		if !ok || !reason.Valid() {
			t.Fatalf("status %s: unexpected reason %q", status, reason)
		}
		if string(reason) != "order-created-"+string(status) {
			t.Fatalf("status %s: reason %q", status, reason)
		}
	}

	if StockReason("manual-fix").Valid() {
		t.Fatal("unknown reason must be invalid")
	}
}

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}
