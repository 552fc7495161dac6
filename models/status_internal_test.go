package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestDerivePurchaseOrderStatus(t *testing.T) {
	cases := []struct {
		name    string
		details []PurchaseOrderDetail
		want    PurchaseOrderStatus
	}{
		{
			name: "nothing received",
			details: []PurchaseOrderDetail{
				{QuantityOrdered: d("10"), QuantityReceived: d("0")},
				{QuantityOrdered: d("5"), QuantityReceived: d("0")},
			},
			want: PurchaseOrderStatusPending,
		},
		{
			name: "one line partially received",
			details: []PurchaseOrderDetail{
				{QuantityOrdered: d("10"), QuantityReceived: d("4")},
				{QuantityOrdered: d("5"), QuantityReceived: d("0")},
			},
			want: PurchaseOrderStatusPartial,
		},
		{
			name: "one line fully received, one outstanding",
			details: []PurchaseOrderDetail{
				{QuantityOrdered: d("10"), QuantityReceived: d("10")},
				{QuantityOrdered: d("5"), QuantityReceived: d("0")},
			},
			want: PurchaseOrderStatusPartial,
		},
		{
			name: "all lines fully received",
			details: []PurchaseOrderDetail{
				{QuantityOrdered: d("10"), QuantityReceived: d("10")},
				{QuantityOrdered: d("5"), QuantityReceived: d("5")},
			},
			want: PurchaseOrderStatusReceived,
		},
		{
			name:    "no lines",
			details: nil,
			want:    PurchaseOrderStatusPending,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := derivePurchaseOrderStatus(tc.details); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestProductionBatchTransitions(t *testing.T) {
	allowed := []struct{ from, to ProductionBatchStatus }{
		{ProductionBatchStatusPlanned, ProductionBatchStatusInProgress},
		{ProductionBatchStatusPlanned, ProductionBatchStatusCancelled},
		{ProductionBatchStatusInProgress, ProductionBatchStatusCompleted},
	}
	for _, tr := range allowed {
		if !canTransitionBatch(tr.from, tr.to) {
			t.Errorf("expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to ProductionBatchStatus }{
		{ProductionBatchStatusPlanned, ProductionBatchStatusCompleted},
		{ProductionBatchStatusInProgress, ProductionBatchStatusCancelled},
		{ProductionBatchStatusInProgress, ProductionBatchStatusPlanned},
		{ProductionBatchStatusCompleted, ProductionBatchStatusInProgress},
		{ProductionBatchStatusCancelled, ProductionBatchStatusPlanned},
	}
	for _, tr := range denied {
		if canTransitionBatch(tr.from, tr.to) {
			t.Errorf("expected %s -> %s to be rejected", tr.from, tr.to)
		}
	}
}

func TestBOMTransitions(t *testing.T) {
	if !canTransitionBOM(BOMStatusDraft, BOMStatusActive) {
		t.Error("Draft -> Active should be allowed")
	}
	if !canTransitionBOM(BOMStatusActive, BOMStatusObsolete) {
		t.Error("Active -> Obsolete should be allowed")
	}
	if canTransitionBOM(BOMStatusObsolete, BOMStatusActive) {
		t.Error("Obsolete -> Active should be rejected")
	}
	if canTransitionBOM(BOMStatusDraft, BOMStatusObsolete) {
		t.Error("Draft -> Obsolete should be rejected")
	}
}

func TestDerivePaymentStatus(t *testing.T) {
	cases := []struct {
		paid  string
		total string
		want  PaymentStatus
	}{
		{"0", "100", PaymentStatusUnpaid},
		{"40", "100", PaymentStatusPartial},
		{"100", "100", PaymentStatusPaid},
		{"150", "100", PaymentStatusPaid}, // overpayment stays Paid
		{"0", "0", PaymentStatusUnpaid},
	}
	for _, tc := range cases {
		if got := derivePaymentStatus(d(tc.paid), d(tc.total)); got != tc.want {
			t.Errorf("derivePaymentStatus(%s, %s) = %s, want %s", tc.paid, tc.total, got, tc.want)
		}
	}
}

func TestParseEnums_RejectUnknownValues(t *testing.T) {
	if _, ok := ParsePurchaseOrderStatus("Shipped"); ok {
		t.Error("Shipped is not a purchase order status")
	}
	if _, ok := ParseFinishedGoodsStatus("available"); ok {
		t.Error("finished goods statuses are case sensitive")
	}
	if _, ok := ParsePaymentMethod("paypal"); ok {
		t.Error("paypal is not a payment method")
	}
	if m, ok := ParsePaymentMethod("mpesa"); !ok || m != PaymentMethodMpesa {
		t.Errorf("mpesa should parse, got %q ok=%v", m, ok)
	}
}
