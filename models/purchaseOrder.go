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

type PurchaseOrder struct {
	ID           int                 `gorm:"primary_key" json:"id"`
	OrderNumber  string              `gorm:"size:100;uniqueIndex;not null" json:"order_number"`
	SupplierId   int                 `gorm:"index;not null" json:"supplier_id"`
	OrderDate    time.Time           `gorm:"not null" json:"order_date"`
	ExpectedDate *time.Time          `json:"expected_date"`
	Status       PurchaseOrderStatus `gorm:"type:enum('Pending','Partial','Received','Cancelled');default:'Pending'" json:"status"`
	Notes        string              `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"autoUpdateTime" json:"updated_at"`

	Supplier *Supplier             `gorm:"foreignKey:SupplierId" json:"supplier,omitempty"`
	Details  []PurchaseOrderDetail `json:"details"`
}

type PurchaseOrderDetail struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	MaterialId      int             `gorm:"index;not null" json:"material_id"`
	QuantityOrdered decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity_ordered"`
	QuantityReceived decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity_received"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Material *RawMaterial `gorm:"foreignKey:MaterialId" json:"material,omitempty"`
}

type NewPurchaseOrder struct {
	OrderNumber  string                   `json:"order_number" validate:"required"`
	SupplierId   int                      `json:"supplier_id" validate:"required"`
	OrderDate    time.Time                `json:"order_date"`
	ExpectedDate *time.Time               `json:"expected_date"`
	Notes        string                   `json:"notes"`
	Details      []NewPurchaseOrderDetail `json:"details" validate:"required,dive"`
}

type NewPurchaseOrderDetail struct {
	MaterialId      int             `json:"material_id" validate:"required"`
	QuantityOrdered decimal.Decimal `json:"quantity_ordered" validate:"required"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
}

// ReceiptResult reports what one whole-PO receipt posted to the ledger.
type ReceiptResult struct {
	PurchaseOrderId   int                 `json:"purchase_order_id"`
	OrderNumber       string              `json:"order_number"`
	ReceivingLocation string              `json:"receiving_location"`
	Status            PurchaseOrderStatus `json:"status"`
	Lines             []ReceiptLine       `json:"lines"`
}

type ReceiptLine struct {
	MaterialId       int             `json:"material_id"`
	MaterialCode     string          `json:"material_code"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	NewStockLevel    decimal.Decimal `json:"new_stock_level"`
}

// derivePurchaseOrderStatus computes the derived status from line receipts:
// Received iff all lines fully received, Partial iff some, Pending iff none.
func derivePurchaseOrderStatus(details []PurchaseOrderDetail) PurchaseOrderStatus {
	if len(details) == 0 {
		return PurchaseOrderStatusPending
	}
	allReceived := true
	anyReceived := false
	for _, d := range details {
		if d.QuantityReceived.GreaterThanOrEqual(d.QuantityOrdered) {
			anyReceived = true
		} else {
			allReceived = false
			if d.QuantityReceived.IsPositive() {
				anyReceived = true
			}
		}
	}
	switch {
	case allReceived:
		return PurchaseOrderStatusReceived
	case anyReceived:
		return PurchaseOrderStatusPartial
	default:
		return PurchaseOrderStatusPending
	}
}

func (input *NewPurchaseOrder) validate(ctx context.Context) error {
	if len(input.Details) == 0 {
		return NewValidationError("a purchase order requires at least one line")
	}
	supplier, err := GetSupplier(ctx, input.SupplierId)
	if err != nil {
		return err
	}
	if !utils.DereferencePtr(supplier.Active) {
		return NewValidationError("supplier %s is inactive", supplier.Code)
	}

	materialIds := make([]int, 0, len(input.Details))
	for i, line := range input.Details {
		if !line.QuantityOrdered.IsPositive() {
			return NewValidationError("line %d: quantity_ordered must be positive", i+1)
		}
		if line.UnitPrice.IsNegative() {
			return NewValidationError("line %d: unit_price cannot be negative", i+1)
		}
		materialIds = append(materialIds, line.MaterialId)
	}
	if err := utils.ValidateResourcesId[RawMaterial](ctx, materialIds); err != nil {
		return NewValidationError("one or more ordered materials do not exist")
	}
	return nil
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[PurchaseOrder](ctx, "order_number", input.OrderNumber, 0); err != nil {
		return nil, NewValidationError("order number %q already exists", input.OrderNumber)
	}

	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now().UTC()
	}

	po := PurchaseOrder{
		OrderNumber:  input.OrderNumber,
		SupplierId:   input.SupplierId,
		OrderDate:    orderDate,
		ExpectedDate: input.ExpectedDate,
		Status:       PurchaseOrderStatusPending,
		Notes:        input.Notes,
	}
	for _, line := range input.Details {
		po.Details = append(po.Details, PurchaseOrderDetail{
			MaterialId:      line.MaterialId,
			QuantityOrdered: line.QuantityOrdered,
			UnitPrice:       line.UnitPrice,
		})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&po).Error; err != nil {
		if isDuplicateEntry(err) {
			return nil, NewValidationError("order number %q already exists", input.OrderNumber)
		}
		return nil, err
	}
	return &po, nil
}

// DeletePurchaseOrder removes an order that has not received anything yet.
func DeletePurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {

	po, err := utils.FetchModel[PurchaseOrder](ctx, id, "Details")
	if err != nil {
		return nil, NewNotFoundError("purchase order", id)
	}
	if po.Status != PurchaseOrderStatusPending && po.Status != PurchaseOrderStatusCancelled {
		return nil, NewInvalidStateError("purchase order %s has receipts and cannot be deleted", po.OrderNumber)
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	res := tx.Where("id = ? AND status IN ?", po.ID,
		[]PurchaseOrderStatus{PurchaseOrderStatusPending, PurchaseOrderStatusCancelled}).
		Delete(&PurchaseOrder{})
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// a receipt landed between the read and the delete
		tx.Rollback()
		return nil, NewInvalidStateError("purchase order %s has receipts and cannot be deleted", po.OrderNumber)
	}
	if err := tx.Where("purchase_order_id = ?", id).Delete(&PurchaseOrderDetail{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return po, nil
}

// UpdatePurchaseOrderStatus accepts an explicit target status and rejects
// illegal transitions. Receipt-driven statuses (Partial/Received) are derived
// and cannot be forced; callers may only cancel a Pending order.
func UpdatePurchaseOrderStatus(ctx context.Context, id int, status string) (*PurchaseOrder, error) {

	target, ok := ParsePurchaseOrderStatus(status)
	if !ok {
		return nil, NewValidationError("unknown purchase order status %q", status)
	}
	if target != PurchaseOrderStatusCancelled {
		return nil, NewValidationError("status %q is derived from receipts and cannot be set directly", status)
	}

	po, err := utils.FetchModel[PurchaseOrder](ctx, id, "Details")
	if err != nil {
		return nil, NewNotFoundError("purchase order", id)
	}
	if po.Status != PurchaseOrderStatusPending {
		return nil, NewInvalidTransitionError("purchase order", string(po.Status), string(target))
	}

	db := config.GetDB()
	res := db.WithContext(ctx).Model(&PurchaseOrder{}).
		Where("id = ? AND status = ?", po.ID, PurchaseOrderStatusPending).
		UpdateColumn("Status", target)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, NewInvalidTransitionError("purchase order", string(po.Status), string(target))
	}
	po.Status = target
	return po, nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	po, err := utils.FetchModel[PurchaseOrder](ctx, id, "Supplier", "Details", "Details.Material")
	if err != nil {
		return nil, NewNotFoundError("purchase order", id)
	}
	return po, nil
}

func GetPurchaseOrders(ctx context.Context) ([]*PurchaseOrder, error) {
	return utils.FetchAllModels[PurchaseOrder](ctx, "Supplier", "Details")
}

// ReceivePurchaseOrder posts every outstanding line quantity to the inventory
// ledger at the configured receiving location and recomputes the derived
// status. The whole receipt is one transaction: either every line lands and
// the status updates, or nothing does.
func ReceivePurchaseOrder(ctx context.Context, id int) (*ReceiptResult, error) {

	location := config.DefaultReceivingLocation()
	bestEffort := ObtainBestEffortPostingLock()
	defer ReleaseBestEffortPostingLock(bestEffort)

	var result *ReceiptResult
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireStockPostingLock(tx); err != nil {
			return err
		}
		defer ReleaseStockPostingLock(tx)

		// Status and outstanding quantities must come from locked rows: a
		// receipt racing this one would otherwise post the same lines twice.
		var po PurchaseOrder
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&po, id).Error; err != nil {
			return NewNotFoundError("purchase order", id)
		}
		if po.Status == PurchaseOrderStatusReceived || po.Status == PurchaseOrderStatusCancelled {
			return NewInvalidStateError("purchase order %s is %s and cannot be received", po.OrderNumber, po.Status)
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Material").
			Where("purchase_order_id = ?", po.ID).
			Find(&po.Details).Error; err != nil {
			return err
		}

		result = &ReceiptResult{
			PurchaseOrderId:   po.ID,
			OrderNumber:       po.OrderNumber,
			ReceivingLocation: location,
		}

		for i := range po.Details {
			line := &po.Details[i]
			outstanding := line.QuantityOrdered.Sub(line.QuantityReceived)
			if !outstanding.IsPositive() {
				continue
			}

			record, err := lockInventoryCell(tx, line.MaterialId, location, "", nil)
			if err != nil {
				return err
			}
			newQty, err := applyInventoryDelta(tx, ctx, record, outstanding,
				"receipt of purchase order "+po.OrderNumber, InventoryReferencePurchaseOrder, po.ID)
			if err != nil {
				return err
			}

			if err := tx.Model(line).UpdateColumn("QuantityReceived", line.QuantityOrdered).Error; err != nil {
				return err
			}
			line.QuantityReceived = line.QuantityOrdered

			code := ""
			if line.Material != nil {
				code = line.Material.Code
			}
			result.Lines = append(result.Lines, ReceiptLine{
				MaterialId:       line.MaterialId,
				MaterialCode:     code,
				QuantityReceived: outstanding,
				NewStockLevel:    newQty,
			})
		}

		newStatus := derivePurchaseOrderStatus(po.Details)
		if err := tx.Model(&po).UpdateColumn("Status", newStatus).Error; err != nil {
			return err
		}
		result.Status = newStatus
		return nil
	})
	if err != nil {
		return nil, err
	}
	invalidateInventoryCaches()
	return result, nil
}
