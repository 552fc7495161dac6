package models

import (
	"context"
	"time"

	"github.com/mzalendo-mfg/factory_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

// Payment rows are append only. PaidAmount and PaymentStatus on the order are
// derived from the sum of its payments, never edited directly.
type Payment struct {
	ID           int             `gorm:"primary_key" json:"id"`
	SalesOrderId int             `gorm:"index;not null" json:"sales_order_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Method       PaymentMethod   `gorm:"type:enum('mpesa','cash','bank','credit');not null" json:"method"`
	Reference    string          `gorm:"size:255" json:"reference"`
	PaidAt       time.Time       `gorm:"not null" json:"paid_at"`
	Notes        string          `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewPayment struct {
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Method    string          `json:"method" validate:"required"`
	Reference string          `json:"reference"`
	PaidAt    time.Time       `json:"paid_at"`
	Notes     string          `json:"notes"`
}

// derivePaymentStatus maps cumulative paid against the order total. Paying at
// or beyond the total is Paid; overpayments are kept as recorded.
func derivePaymentStatus(paid, total decimal.Decimal) PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(total) && total.IsPositive():
		return PaymentStatusPaid
	case paid.IsPositive():
		return PaymentStatusPartial
	default:
		return PaymentStatusUnpaid
	}
}

// RecordPayment appends a payment to an order and recomputes PaidAmount and
// PaymentStatus under a row lock on the order.
func RecordPayment(ctx context.Context, salesOrderId int, input *NewPayment) (*SalesOrder, error) {

	if !input.Amount.IsPositive() {
		return nil, NewValidationError("payment amount must be positive")
	}
	method, ok := ParsePaymentMethod(input.Method)
	if !ok {
		return nil, NewValidationError("unknown payment method %q", input.Method)
	}

	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()

	var so SalesOrder
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&so, salesOrderId).Error; err != nil {
		tx.Rollback()
		return nil, NewNotFoundError("sales order", salesOrderId)
	}
	if so.Status == SalesOrderStatusCancelled {
		tx.Rollback()
		return nil, NewInvalidStateError("sales order %s is cancelled and cannot take payments", so.OrderNumber)
	}

	payment := Payment{
		SalesOrderId: so.ID,
		Amount:       input.Amount,
		Method:       method,
		Reference:    input.Reference,
		PaidAt:       paidAt,
		Notes:        input.Notes,
	}
	if err := tx.Create(&payment).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	var paid decimal.Decimal
	if err := tx.Model(&Payment{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("sales_order_id = ?", so.ID).
		Scan(&paid).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	status := derivePaymentStatus(paid, so.TotalAmount)
	if err := tx.Model(&so).Updates(map[string]interface{}{
		"PaidAmount":    paid,
		"PaymentStatus": status,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	so.PaidAmount = paid
	so.PaymentStatus = status

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	so.Payments = append(so.Payments, payment)
	return &so, nil
}

func GetPaymentsForOrder(ctx context.Context, salesOrderId int) ([]*Payment, error) {
	var payments []*Payment
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("sales_order_id = ?", salesOrderId).
		Order("paid_at, id").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
