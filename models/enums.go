package models

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusPending   PurchaseOrderStatus = "Pending"
	PurchaseOrderStatusPartial   PurchaseOrderStatus = "Partial"
	PurchaseOrderStatusReceived  PurchaseOrderStatus = "Received"
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "Cancelled"
)

func ParsePurchaseOrderStatus(s string) (PurchaseOrderStatus, bool) {
	statuses := map[string]PurchaseOrderStatus{
		"Pending":   PurchaseOrderStatusPending,
		"Partial":   PurchaseOrderStatusPartial,
		"Received":  PurchaseOrderStatusReceived,
		"Cancelled": PurchaseOrderStatusCancelled,
	}
	v, ok := statuses[s]
	return v, ok
}

type BOMStatus string

const (
	BOMStatusDraft    BOMStatus = "Draft"
	BOMStatusActive   BOMStatus = "Active"
	BOMStatusObsolete BOMStatus = "Obsolete"
)

func ParseBOMStatus(s string) (BOMStatus, bool) {
	statuses := map[string]BOMStatus{
		"Draft":    BOMStatusDraft,
		"Active":   BOMStatusActive,
		"Obsolete": BOMStatusObsolete,
	}
	v, ok := statuses[s]
	return v, ok
}

type ProductionBatchStatus string

const (
	ProductionBatchStatusPlanned    ProductionBatchStatus = "Planned"
	ProductionBatchStatusInProgress ProductionBatchStatus = "In Progress"
	ProductionBatchStatusCompleted  ProductionBatchStatus = "Completed"
	ProductionBatchStatusCancelled  ProductionBatchStatus = "Cancelled"
)

type FinishedGoodsStatus string

const (
	FinishedGoodsStatusAvailable FinishedGoodsStatus = "Available"
	FinishedGoodsStatusReserved  FinishedGoodsStatus = "Reserved"
	FinishedGoodsStatusShipped   FinishedGoodsStatus = "Shipped"
	FinishedGoodsStatusDamaged   FinishedGoodsStatus = "Damaged"
	FinishedGoodsStatusExpired   FinishedGoodsStatus = "Expired"
)

func ParseFinishedGoodsStatus(s string) (FinishedGoodsStatus, bool) {
	statuses := map[string]FinishedGoodsStatus{
		"Available": FinishedGoodsStatusAvailable,
		"Reserved":  FinishedGoodsStatusReserved,
		"Shipped":   FinishedGoodsStatusShipped,
		"Damaged":   FinishedGoodsStatusDamaged,
		"Expired":   FinishedGoodsStatusExpired,
	}
	v, ok := statuses[s]
	return v, ok
}

type SalesOrderStatus string

const (
	SalesOrderStatusPending   SalesOrderStatus = "Pending"
	SalesOrderStatusConfirmed SalesOrderStatus = "Confirmed"
	SalesOrderStatusFulfilled SalesOrderStatus = "Fulfilled"
	SalesOrderStatusCancelled SalesOrderStatus = "Cancelled"
)

func ParseSalesOrderStatus(s string) (SalesOrderStatus, bool) {
	statuses := map[string]SalesOrderStatus{
		"Pending":   SalesOrderStatusPending,
		"Confirmed": SalesOrderStatusConfirmed,
		"Fulfilled": SalesOrderStatusFulfilled,
		"Cancelled": SalesOrderStatusCancelled,
	}
	v, ok := statuses[s]
	return v, ok
}

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "Unpaid"
	PaymentStatusPartial  PaymentStatus = "Partial"
	PaymentStatusPaid     PaymentStatus = "Paid"
	PaymentStatusRefunded PaymentStatus = "Refunded"
)

type PaymentMethod string

const (
	PaymentMethodMpesa  PaymentMethod = "mpesa"
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodBank   PaymentMethod = "bank"
	PaymentMethodCredit PaymentMethod = "credit"
)

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	methods := map[string]PaymentMethod{
		"mpesa":  PaymentMethodMpesa,
		"cash":   PaymentMethodCash,
		"bank":   PaymentMethodBank,
		"credit": PaymentMethodCredit,
	}
	v, ok := methods[s]
	return v, ok
}

// InventoryReferenceType classifies ledger log entries by origin.
type InventoryReferenceType string

const (
	InventoryReferencePurchaseOrder   InventoryReferenceType = "PO"
	InventoryReferenceProductionBatch InventoryReferenceType = "PB"
	InventoryReferenceAdjustment      InventoryReferenceType = "ADJ"
	InventoryReferenceTransfer        InventoryReferenceType = "TR"
)
