package models

import (
	"context"
	"time"

	"github.com/mzalendo-mfg/factory_backend/config"
	"github.com/mzalendo-mfg/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SalesOrder struct {
	ID            int              `gorm:"primary_key" json:"id"`
	OrderNumber   string           `gorm:"size:100;uniqueIndex;not null" json:"order_number"`
	CustomerName  string           `gorm:"size:255;not null" json:"customer_name"`
	CustomerPhone string           `gorm:"size:50" json:"customer_phone"`
	OrderDate     time.Time        `gorm:"not null" json:"order_date"`
	Status        SalesOrderStatus `gorm:"type:enum('Pending','Confirmed','Fulfilled','Cancelled');default:'Pending'" json:"status"`
	TotalAmount   decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	PaidAmount    decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	PaymentStatus PaymentStatus    `gorm:"type:enum('Unpaid','Partial','Paid','Refunded');default:'Unpaid'" json:"payment_status"`
	FulfilledAt   *time.Time       `json:"fulfilled_at"`
	Notes         string           `gorm:"type:text" json:"notes"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`

	Details  []SalesOrderDetail `json:"details"`
	Payments []Payment          `json:"payments,omitempty"`
}

type SalesOrderDetail struct {
	ID           int             `gorm:"primary_key" json:"id"`
	SalesOrderId int             `gorm:"index;not null" json:"sales_order_id"`
	ProductCode  string          `gorm:"size:100;not null" json:"product_code"`
	ProductName  string          `gorm:"size:255" json:"product_name"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	LineTotal    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_total"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSalesOrder struct {
	OrderNumber   string               `json:"order_number" validate:"required"`
	CustomerName  string               `json:"customer_name" validate:"required"`
	CustomerPhone string               `json:"customer_phone"`
	OrderDate     time.Time            `json:"order_date"`
	Notes         string               `json:"notes"`
	Details       []NewSalesOrderDetail `json:"details" validate:"required,dive"`
}

type NewSalesOrderDetail struct {
	ProductCode string          `json:"product_code" validate:"required"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (input *NewSalesOrder) validate(ctx context.Context) error {
	if len(input.Details) == 0 {
		return NewValidationError("a sales order requires at least one line")
	}
	for i, line := range input.Details {
		if line.ProductCode == "" {
			return NewValidationError("line %d: product_code is required", i+1)
		}
		if !line.Quantity.IsPositive() {
			return NewValidationError("line %d: quantity must be positive", i+1)
		}
		if line.UnitPrice.IsNegative() {
			return NewValidationError("line %d: unit_price cannot be negative", i+1)
		}
	}
	return nil
}

// CreateSalesOrder records the order without touching stock. TotalAmount is
// the sum of line totals; availability is only checked at fulfillment.
func CreateSalesOrder(ctx context.Context, input *NewSalesOrder) (*SalesOrder, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[SalesOrder](ctx, "order_number", input.OrderNumber, 0); err != nil {
		return nil, NewValidationError("order number %q already exists", input.OrderNumber)
	}

	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now().UTC()
	}

	so := SalesOrder{
		OrderNumber:   input.OrderNumber,
		CustomerName:  input.CustomerName,
		CustomerPhone: input.CustomerPhone,
		OrderDate:     orderDate,
		Status:        SalesOrderStatusPending,
		PaymentStatus: PaymentStatusUnpaid,
		Notes:         input.Notes,
	}
	total := decimal.Zero
	for _, line := range input.Details {
		lineTotal := line.Quantity.Mul(line.UnitPrice)
		total = total.Add(lineTotal)
		so.Details = append(so.Details, SalesOrderDetail{
			ProductCode: line.ProductCode,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			LineTotal:   lineTotal,
		})
	}
	so.TotalAmount = total

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&so).Error; err != nil {
		if isDuplicateEntry(err) {
			return nil, NewValidationError("order number %q already exists", input.OrderNumber)
		}
		return nil, err
	}
	return &so, nil
}

func ConfirmSalesOrder(ctx context.Context, id int) (*SalesOrder, error) {

	so, err := utils.FetchModel[SalesOrder](ctx, id, "Details")
	if err != nil {
		return nil, NewNotFoundError("sales order", id)
	}
	if so.Status != SalesOrderStatusPending {
		return nil, NewInvalidTransitionError("sales order", string(so.Status), string(SalesOrderStatusConfirmed))
	}

	db := config.GetDB()
	res := db.WithContext(ctx).Model(&SalesOrder{}).
		Where("id = ? AND status = ?", so.ID, SalesOrderStatusPending).
		UpdateColumn("Status", SalesOrderStatusConfirmed)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, NewInvalidTransitionError("sales order", string(so.Status), string(SalesOrderStatusConfirmed))
	}
	so.Status = SalesOrderStatusConfirmed
	return so, nil
}

func CancelSalesOrder(ctx context.Context, id int) (*SalesOrder, error) {

	so, err := utils.FetchModel[SalesOrder](ctx, id, "Details")
	if err != nil {
		return nil, NewNotFoundError("sales order", id)
	}
	if so.Status != SalesOrderStatusPending && so.Status != SalesOrderStatusConfirmed {
		return nil, NewInvalidTransitionError("sales order", string(so.Status), string(SalesOrderStatusCancelled))
	}

	db := config.GetDB()
	res := db.WithContext(ctx).Model(&SalesOrder{}).
		Where("id = ? AND status IN ?", so.ID,
			[]SalesOrderStatus{SalesOrderStatusPending, SalesOrderStatusConfirmed}).
		UpdateColumn("Status", SalesOrderStatusCancelled)
	if res.Error != nil {
		return nil, res.Error
	}
	// zero rows means a fulfillment won the race
	if res.RowsAffected == 0 {
		return nil, NewInvalidTransitionError("sales order", string(so.Status), string(SalesOrderStatusCancelled))
	}
	so.Status = SalesOrderStatusCancelled
	return so, nil
}

// FulfillSalesOrder ships every line of a Pending or Confirmed order.
// Finished goods are checked per product first; any shortage fails the whole
// order with an itemized error and no stock moves. Deduction runs FIFO by
// production date within one transaction.
func FulfillSalesOrder(ctx context.Context, id int) (*SalesOrder, error) {

	bestEffort := ObtainBestEffortPostingLock()
	defer ReleaseBestEffortPostingLock(bestEffort)

	var so SalesOrder
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireStockPostingLock(tx); err != nil {
			return err
		}
		defer ReleaseStockPostingLock(tx)

		// lock the order row so two fulfillments cannot race past the status check
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&so, id).Error; err != nil {
			return NewNotFoundError("sales order", id)
		}
		if so.Status != SalesOrderStatusPending && so.Status != SalesOrderStatusConfirmed {
			return NewInvalidStateError("sales order %s is %s and cannot be fulfilled", so.OrderNumber, so.Status)
		}
		if err := tx.Where("sales_order_id = ?", so.ID).Find(&so.Details).Error; err != nil {
			return err
		}

		// demand per product, then check everything before deducting anything
		demand := map[string]decimal.Decimal{}
		names := map[string]string{}
		for _, line := range so.Details {
			demand[line.ProductCode] = demand[line.ProductCode].Add(line.Quantity)
			if line.ProductName != "" {
				names[line.ProductCode] = line.ProductName
			}
		}

		var shortages []ShortageItem
		for code, required := range demand {
			available, err := availableFinishedGoods(tx, code)
			if err != nil {
				return err
			}
			if available.LessThan(required) {
				name := names[code]
				if name == "" {
					name = code
				}
				shortages = append(shortages, ShortageItem{
					Name:      name,
					Code:      code,
					Required:  required,
					Available: available,
					Shortage:  required.Sub(available),
				})
			}
		}
		if len(shortages) > 0 {
			return NewInsufficientInventoryError(shortages)
		}

		for code, required := range demand {
			if err := allocateFinishedGoods(tx, code, required); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if err := tx.Model(&so).Updates(map[string]interface{}{
			"Status":      SalesOrderStatusFulfilled,
			"FulfilledAt": now,
		}).Error; err != nil {
			return err
		}
		so.Status = SalesOrderStatusFulfilled
		so.FulfilledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &so, nil
}

// DeleteSalesOrder removes an order that never shipped. Fulfilled orders are
// part of the stock history and cannot be deleted.
func DeleteSalesOrder(ctx context.Context, id int) (*SalesOrder, error) {

	so, err := utils.FetchModel[SalesOrder](ctx, id, "Details", "Payments")
	if err != nil {
		return nil, NewNotFoundError("sales order", id)
	}
	if so.Status == SalesOrderStatusFulfilled {
		return nil, NewInvalidStateError("sales order %s has been fulfilled and cannot be deleted", so.OrderNumber)
	}
	if len(so.Payments) > 0 {
		return nil, NewInvalidStateError("sales order %s has recorded payments and cannot be deleted", so.OrderNumber)
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	res := tx.Where("id = ? AND status != ?", so.ID, SalesOrderStatusFulfilled).Delete(&SalesOrder{})
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// a fulfillment landed between the read and the delete
		tx.Rollback()
		return nil, NewInvalidStateError("sales order %s has been fulfilled and cannot be deleted", so.OrderNumber)
	}
	// re-count under the row lock the delete took: a payment that committed
	// after the initial read must still block the delete
	var paymentCount int64
	if err := tx.Model(&Payment{}).Where("sales_order_id = ?", id).Count(&paymentCount).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if paymentCount > 0 {
		tx.Rollback()
		return nil, NewInvalidStateError("sales order %s has recorded payments and cannot be deleted", so.OrderNumber)
	}
	if err := tx.Where("sales_order_id = ?", id).Delete(&SalesOrderDetail{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return so, nil
}

func GetSalesOrder(ctx context.Context, id int) (*SalesOrder, error) {
	so, err := utils.FetchModel[SalesOrder](ctx, id, "Details", "Payments")
	if err != nil {
		return nil, NewNotFoundError("sales order", id)
	}
	return so, nil
}

func GetSalesOrders(ctx context.Context) ([]*SalesOrder, error) {
	return utils.FetchAllModels[SalesOrder](ctx, "Details")
}
