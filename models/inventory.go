package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mzalendo-mfg/factory_backend/config"
	"github.com/mzalendo-mfg/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryRecord is one ledger cell: the quantity of a material held at a
// (location, batch) coordinate. Quantity never goes below zero; cells with
// zero quantity are retained for the audit trail but never reported as
// available.
type InventoryRecord struct {
	ID              int             `gorm:"primary_key" json:"id"`
	MaterialId      int             `gorm:"uniqueIndex:idx_inventory_cell;not null" json:"material_id"`
	StorageLocation string          `gorm:"uniqueIndex:idx_inventory_cell;size:100;not null" json:"storage_location"`
	BatchNumber     string          `gorm:"uniqueIndex:idx_inventory_cell;size:100" json:"batch_number"`
	ExpiryDate      *time.Time      `json:"expiry_date"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Material *RawMaterial `gorm:"foreignKey:MaterialId" json:"material,omitempty"`
}

// InventoryLog is the append-only audit ledger. Rows are never updated or
// deleted; the record quantities must always equal the sum of their log
// deltas (verified by workflow.CheckLedgerConsistency and rebuildable via
// cmd/inventory-rebuild).
type InventoryLog struct {
	ID              int                    `gorm:"primary_key" json:"id"`
	MaterialId      int                    `gorm:"index;not null" json:"material_id"`
	StorageLocation string                 `gorm:"size:100;not null" json:"storage_location"`
	BatchNumber     string                 `gorm:"size:100" json:"batch_number"`
	QtyDelta        decimal.Decimal        `gorm:"type:decimal(20,4);not null" json:"qty_delta"`
	QtyAfter        decimal.Decimal        `gorm:"type:decimal(20,4);not null" json:"qty_after"`
	Reason          string                 `gorm:"size:255;not null" json:"reason"`
	ReferenceType   InventoryReferenceType `gorm:"type:enum('PO','PB','ADJ','TR');default:'ADJ'" json:"reference_type"`
	ReferenceId     int                    `json:"reference_id"`
	CorrelationId   string                 `gorm:"size:64;index" json:"correlation_id"`
	CreatedBy       string                 `gorm:"size:100" json:"created_by"`
	CreatedAt       time.Time              `gorm:"autoCreateTime" json:"created_at"`
}

type NewInventoryAdjustment struct {
	MaterialId      int             `json:"material_id" validate:"required"`
	StorageLocation string          `json:"storage_location" validate:"required"`
	BatchNumber     string          `json:"batch_number"`
	ExpiryDate      *time.Time      `json:"expiry_date"`
	QtyDelta        decimal.Decimal `json:"qty_delta" validate:"required"`
	Reason          string          `json:"reason" validate:"required"`
}

type NewInventoryTransfer struct {
	MaterialId   int             `json:"material_id" validate:"required"`
	FromLocation string          `json:"from_location" validate:"required"`
	ToLocation   string          `json:"to_location" validate:"required"`
	BatchNumber  string          `json:"batch_number"`
	Quantity     decimal.Decimal `json:"quantity" validate:"required"`
}

type LocationStock struct {
	StorageLocation string          `json:"storage_location"`
	TotalQuantity   decimal.Decimal `json:"total_quantity"`
}

type MaterialValuation struct {
	MaterialId   int             `json:"material_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	StandardCost decimal.Decimal `json:"standard_cost"`
	StockValue   decimal.Decimal `json:"stock_value"`
}

// lockInventoryCell locks (FOR UPDATE) the ledger cell, creating it if the
// cell has never been seen. The caller must be inside a transaction.
func lockInventoryCell(tx *gorm.DB, materialId int, location string, batch string, expiry *time.Time) (*InventoryRecord, error) {
	record := InventoryRecord{
		MaterialId:      materialId,
		StorageLocation: location,
		BatchNumber:     batch,
		ExpiryDate:      expiry,
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("material_id = ? AND storage_location = ? AND batch_number = ?", materialId, location, batch).
		FirstOrCreate(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	return &record, nil
}

// bulkLockInventoryCells takes FOR UPDATE locks on every cell of the given
// materials in one statement, so concurrent check-then-deduct sequences on
// overlapping materials serialize instead of racing.
func bulkLockInventoryCells(tx *gorm.DB, materialIds []int) error {
	if len(materialIds) == 0 {
		return nil
	}
	var records []InventoryRecord
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("material_id IN ?", materialIds).
		Order("id").
		Find(&records).Error
}

// applyInventoryDelta mutates a locked cell and appends the audit log row.
// Fails with InsufficientStock when the delta would drive the cell negative;
// nothing is written in that case.
func applyInventoryDelta(tx *gorm.DB, ctx context.Context, record *InventoryRecord, delta decimal.Decimal, reason string, refType InventoryReferenceType, refId int) (decimal.Decimal, error) {

	newQty := record.Quantity.Add(delta)
	if newQty.IsNegative() {
		material, _ := GetRawMaterial(ctx, record.MaterialId)
		name, code := "", ""
		if material != nil {
			name, code = material.Name, material.Code
		}
		return record.Quantity, NewInsufficientStockError(ShortageItem{
			Name:      name,
			Code:      code,
			Required:  delta.Neg(),
			Available: record.Quantity,
			Shortage:  newQty.Neg(),
		})
	}

	if err := tx.Model(record).UpdateColumn("Quantity", newQty).Error; err != nil {
		return record.Quantity, err
	}
	record.Quantity = newQty

	logRow := InventoryLog{
		MaterialId:      record.MaterialId,
		StorageLocation: record.StorageLocation,
		BatchNumber:     record.BatchNumber,
		QtyDelta:        delta,
		QtyAfter:        newQty,
		Reason:          reason,
		ReferenceType:   refType,
		ReferenceId:     refId,
		CorrelationId:   correlationIdFromContextOrNew(ctx),
		CreatedBy:       usernameFromContext(ctx),
	}
	if err := tx.Create(&logRow).Error; err != nil {
		return newQty, err
	}
	return newQty, nil
}

// consumeMaterialStock deducts qty of one material across its locked cells,
// oldest expiry first (FEFO), blank-expiry cells last. The caller must hold
// FOR UPDATE locks on the material's cells and must have verified total
// availability beforehand; running out of cells here is a programming error
// surfaced as InsufficientStock.
func consumeMaterialStock(tx *gorm.DB, ctx context.Context, materialId int, qty decimal.Decimal, reason string, refType InventoryReferenceType, refId int) error {

	var cells []InventoryRecord
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("material_id = ? AND quantity > 0", materialId).
		Order("expiry_date IS NULL, expiry_date, id").
		Find(&cells).Error; err != nil {
		return err
	}

	remaining := qty
	for i := range cells {
		if !remaining.IsPositive() {
			break
		}
		cell := &cells[i]
		take := decimal.Min(cell.Quantity, remaining)
		if _, err := applyInventoryDelta(tx, ctx, cell, take.Neg(), reason, refType, refId); err != nil {
			return err
		}
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		material, _ := GetRawMaterial(ctx, materialId)
		name, code := "", ""
		if material != nil {
			name, code = material.Name, material.Code
		}
		return NewInsufficientStockError(ShortageItem{
			Name:      name,
			Code:      code,
			Required:  qty,
			Available: qty.Sub(remaining),
			Shortage:  remaining,
		})
	}
	return nil
}

func usernameFromContext(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetUsernameFromContext(ctx); ok {
			return v
		}
	}
	return "System"
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// AdjustInventory applies a signed delta to one ledger cell. All-or-nothing:
// a negative delta that would overdraw the cell fails with an itemized
// InsufficientStock and leaves the ledger untouched.
func AdjustInventory(ctx context.Context, input *NewInventoryAdjustment) (*InventoryRecord, error) {

	if input.QtyDelta.IsZero() {
		return nil, NewValidationError("qty_delta cannot be zero")
	}
	if input.Reason == "" {
		return nil, NewValidationError("reason is required")
	}
	if err := utils.ValidateResourceId[RawMaterial](ctx, input.MaterialId); err != nil {
		return nil, NewNotFoundError("raw material", input.MaterialId)
	}

	var record *InventoryRecord
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireStockPostingLock(tx); err != nil {
			return err
		}
		// RELEASE_LOCK must run on the still-open tx: advisory locks are
		// session-scoped and would otherwise ride the pooled connection.
		defer ReleaseStockPostingLock(tx)

		var err error
		record, err = lockInventoryCell(tx, input.MaterialId, input.StorageLocation, input.BatchNumber, input.ExpiryDate)
		if err != nil {
			return err
		}
		_, err = applyInventoryDelta(tx, ctx, record, input.QtyDelta, input.Reason, InventoryReferenceAdjustment, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	invalidateInventoryCaches()
	return record, nil
}

// TransferInventory moves quantity between locations atomically; the whole
// transfer fails when the source cell is short.
func TransferInventory(ctx context.Context, input *NewInventoryTransfer) (*InventoryRecord, error) {

	if !input.Quantity.IsPositive() {
		return nil, NewValidationError("transfer quantity must be positive")
	}
	if input.FromLocation == input.ToLocation {
		return nil, NewValidationError("from_location and to_location must differ")
	}
	if err := utils.ValidateResourceId[RawMaterial](ctx, input.MaterialId); err != nil {
		return nil, NewNotFoundError("raw material", input.MaterialId)
	}

	var dest *InventoryRecord
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireStockPostingLock(tx); err != nil {
			return err
		}
		defer ReleaseStockPostingLock(tx)

		source, err := lockInventoryCell(tx, input.MaterialId, input.FromLocation, input.BatchNumber, nil)
		if err != nil {
			return err
		}
		dest, err = lockInventoryCell(tx, input.MaterialId, input.ToLocation, input.BatchNumber, source.ExpiryDate)
		if err != nil {
			return err
		}

		reason := "transfer " + input.FromLocation + " -> " + input.ToLocation
		if _, err := applyInventoryDelta(tx, ctx, source, input.Quantity.Neg(), reason, InventoryReferenceTransfer, 0); err != nil {
			return err
		}
		_, err = applyInventoryDelta(tx, ctx, dest, input.Quantity, reason, InventoryReferenceTransfer, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	invalidateInventoryCaches()
	return dest, nil
}

// GetAvailableStock returns a material's total quantity across all cells as
// one consistent snapshot.
func GetAvailableStock(ctx context.Context, materialId int) (decimal.Decimal, error) {
	var total decimal.Decimal
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&InventoryRecord{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("material_id = ?", materialId).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// GetAvailableStockAt returns one cell's quantity. batch may be blank.
func GetAvailableStockAt(ctx context.Context, materialId int, location string, batch string) (decimal.Decimal, error) {
	var total decimal.Decimal
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&InventoryRecord{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("material_id = ? AND storage_location = ? AND batch_number = ?", materialId, location, batch).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// GetStockTotalsByMaterial returns current totals for every material in one
// query (consistent snapshot for dashboards).
func GetStockTotalsByMaterial(ctx context.Context) (map[int]decimal.Decimal, error) {
	type row struct {
		MaterialId int
		Total      decimal.Decimal
	}
	var rows []row
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&InventoryRecord{}).
		Select("material_id, COALESCE(SUM(quantity), 0) AS total").
		Group("material_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[int]decimal.Decimal, len(rows))
	for _, r := range rows {
		totals[r.MaterialId] = r.Total
	}
	return totals, nil
}

const inventorySummaryCacheKey = "inventory:summary"

// GetInventorySummary lists non-zero cells with their material, cache-aside
// through redis.
func GetInventorySummary(ctx context.Context) ([]*InventoryRecord, error) {

	var records []*InventoryRecord
	if found, err := config.GetRedisObject(inventorySummaryCacheKey, &records); err == nil && found {
		return records, nil
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Preload("Material").
		Where("quantity > 0").
		Order("material_id, storage_location, batch_number").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	_ = config.SetRedisObject(inventorySummaryCacheKey, records, 5*time.Minute)
	return records, nil
}

func GetInventoryByLocation(ctx context.Context) ([]*LocationStock, error) {
	var rows []*LocationStock
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&InventoryRecord{}).
		Select("storage_location, COALESCE(SUM(quantity), 0) AS total_quantity").
		Where("quantity > 0").
		Group("storage_location").
		Order("storage_location").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetInventoryDetails lists the non-zero cells plus the audit trail of one
// material.
func GetInventoryDetails(ctx context.Context, materialId int) ([]*InventoryRecord, []*InventoryLog, error) {

	if err := utils.ValidateResourceId[RawMaterial](ctx, materialId); err != nil {
		return nil, nil, NewNotFoundError("raw material", materialId)
	}

	db := config.GetDB()
	var records []*InventoryRecord
	if err := db.WithContext(ctx).
		Where("material_id = ? AND quantity > 0", materialId).
		Order("storage_location, batch_number").
		Find(&records).Error; err != nil {
		return nil, nil, err
	}
	var logs []*InventoryLog
	if err := db.WithContext(ctx).
		Where("material_id = ?", materialId).
		Order("id DESC").
		Limit(100).
		Find(&logs).Error; err != nil {
		return nil, nil, err
	}
	return records, logs, nil
}

// GetInventoryValuation prices current stock at standard cost.
func GetInventoryValuation(ctx context.Context) ([]*MaterialValuation, decimal.Decimal, error) {

	materials, err := utils.FetchAllModels[RawMaterial](ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	totals, err := GetStockTotalsByMaterial(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}

	rows := make([]*MaterialValuation, 0, len(materials))
	grandTotal := decimal.Zero
	for _, m := range materials {
		qty := totals[m.ID]
		value := qty.Mul(m.StandardCost)
		grandTotal = grandTotal.Add(value)
		rows = append(rows, &MaterialValuation{
			MaterialId:   m.ID,
			Code:         m.Code,
			Name:         m.Name,
			Quantity:     qty,
			StandardCost: m.StandardCost,
			StockValue:   value,
		})
	}
	return rows, grandTotal, nil
}

// invalidateInventoryCaches drops cached inventory reads after a posting.
// Best effort: a stale summary self-heals at TTL expiry.
func invalidateInventoryCaches() {
	_ = config.DeleteRedisKeys(inventorySummaryCacheKey)
}
