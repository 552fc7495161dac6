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

type FinishedGoodsBatch struct {
	ID              int                 `gorm:"primary_key" json:"id"`
	ProductCode     string              `gorm:"size:100;index;not null" json:"product_code"`
	ProductName     string              `gorm:"size:255" json:"product_name"`
	BatchNumber     string              `gorm:"size:100;index;not null" json:"batch_number"`
	Quantity        decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	Status          FinishedGoodsStatus `gorm:"type:enum('Available','Reserved','Shipped','Damaged','Expired');default:'Available'" json:"status"`
	ProductionDate  time.Time           `gorm:"not null;index" json:"production_date"`
	ExpiryDate      *time.Time          `json:"expiry_date"`
	StorageLocation string              `gorm:"size:100" json:"storage_location"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type FinishedGoodsSummary struct {
	ProductCode       string          `json:"product_code"`
	ProductName       string          `json:"product_name"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	BatchCount        int             `json:"batch_count"`
}

type FinishedGoodsStatistics struct {
	TotalAvailable decimal.Decimal `json:"total_available"`
	TotalReserved  decimal.Decimal `json:"total_reserved"`
	TotalShipped   decimal.Decimal `json:"total_shipped"`
	TotalDamaged   decimal.Decimal `json:"total_damaged"`
	TotalExpired   decimal.Decimal `json:"total_expired"`
	ProductCount   int64           `json:"product_count"`
}

// availableFinishedGoods sums Available-status quantity for a product inside
// the given handle (pass a locked tx during fulfillment for a correct
// check-then-deduct read).
func availableFinishedGoods(tx *gorm.DB, productCode string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.Model(&FinishedGoodsBatch{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("product_code = ? AND status = ? AND quantity > 0", productCode, FinishedGoodsStatusAvailable).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// allocateFinishedGoods deducts qty for a product FIFO across its Available
// batches, oldest production date first. Batches drained to zero are marked
// Shipped. The caller holds the transaction and has verified availability.
func allocateFinishedGoods(tx *gorm.DB, productCode string, qty decimal.Decimal) error {

	var batches []FinishedGoodsBatch
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_code = ? AND status = ? AND quantity > 0", productCode, FinishedGoodsStatusAvailable).
		Order("production_date, id").
		Find(&batches).Error; err != nil {
		return err
	}

	remaining := qty
	for i := range batches {
		if !remaining.IsPositive() {
			break
		}
		batch := &batches[i]
		take := decimal.Min(batch.Quantity, remaining)
		newQty := batch.Quantity.Sub(take)

		updates := map[string]interface{}{"Quantity": newQty}
		if newQty.IsZero() {
			updates["Status"] = FinishedGoodsStatusShipped
		}
		if err := tx.Model(batch).Updates(updates).Error; err != nil {
			return err
		}
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return NewInsufficientInventoryError([]ShortageItem{{
			Name:      productCode,
			Code:      productCode,
			Required:  qty,
			Available: qty.Sub(remaining),
			Shortage:  remaining,
		}})
	}
	return nil
}

// GetFinishedGoodsSummary aggregates Available stock per product.
func GetFinishedGoodsSummary(ctx context.Context) ([]*FinishedGoodsSummary, error) {
	var rows []*FinishedGoodsSummary
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&FinishedGoodsBatch{}).
		Select("product_code, MAX(product_name) AS product_name, COALESCE(SUM(quantity), 0) AS available_quantity, COUNT(*) AS batch_count").
		Where("status = ? AND quantity > 0", FinishedGoodsStatusAvailable).
		Group("product_code").
		Order("product_code").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func GetFinishedGoodsByProductCode(ctx context.Context, productCode string) ([]*FinishedGoodsBatch, error) {
	var batches []*FinishedGoodsBatch
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("product_code = ?", productCode).
		Order("production_date, id").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func GetFinishedGoodsStatistics(ctx context.Context) (*FinishedGoodsStatistics, error) {

	type row struct {
		Status FinishedGoodsStatus
		Total  decimal.Decimal
	}
	var rows []row
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&FinishedGoodsBatch{}).
		Select("status, COALESCE(SUM(quantity), 0) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := FinishedGoodsStatistics{}
	for _, r := range rows {
		switch r.Status {
		case FinishedGoodsStatusAvailable:
			stats.TotalAvailable = r.Total
		case FinishedGoodsStatusReserved:
			stats.TotalReserved = r.Total
		case FinishedGoodsStatusShipped:
			stats.TotalShipped = r.Total
		case FinishedGoodsStatusDamaged:
			stats.TotalDamaged = r.Total
		case FinishedGoodsStatusExpired:
			stats.TotalExpired = r.Total
		}
	}
	if err := db.WithContext(ctx).Model(&FinishedGoodsBatch{}).
		Distinct("product_code").Count(&stats.ProductCount).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

// UpdateFinishedGoodsStatus sets an explicit status on one batch (damaged,
// expired, ...). Shipped is owned by fulfillment and cannot be set manually.
func UpdateFinishedGoodsStatus(ctx context.Context, id int, status string) (*FinishedGoodsBatch, error) {

	target, ok := ParseFinishedGoodsStatus(status)
	if !ok {
		return nil, NewValidationError("unknown finished goods status %q", status)
	}
	if target == FinishedGoodsStatusShipped {
		return nil, NewValidationError("Shipped is set by order fulfillment, not manually")
	}

	batch, err := utils.FetchModel[FinishedGoodsBatch](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("finished goods batch", id)
	}
	if batch.Status == FinishedGoodsStatusShipped {
		return nil, NewInvalidStateError("finished goods batch %s has shipped", batch.BatchNumber)
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(batch).UpdateColumn("Status", target).Error; err != nil {
		return nil, err
	}
	batch.Status = target
	return batch, nil
}

// AdjustFinishedGoodsQuantity corrects a batch quantity (damage write-off,
// stocktake). Never below zero.
func AdjustFinishedGoodsQuantity(ctx context.Context, id int, delta decimal.Decimal, reason string) (*FinishedGoodsBatch, error) {

	if delta.IsZero() {
		return nil, NewValidationError("quantity delta cannot be zero")
	}
	if reason == "" {
		return nil, NewValidationError("reason is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()

	var batch FinishedGoodsBatch
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&batch, id).Error; err != nil {
		tx.Rollback()
		return nil, NewNotFoundError("finished goods batch", id)
	}

	newQty := batch.Quantity.Add(delta)
	if newQty.IsNegative() {
		tx.Rollback()
		return nil, NewInsufficientInventoryError([]ShortageItem{{
			Name:      batch.ProductName,
			Code:      batch.ProductCode,
			Required:  delta.Neg(),
			Available: batch.Quantity,
			Shortage:  newQty.Neg(),
		}})
	}

	if err := tx.Model(&batch).UpdateColumn("Quantity", newQty).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	batch.Quantity = newQty

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &batch, nil
}
