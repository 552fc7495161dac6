package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mzalendo-mfg/factory_backend/config"
	"github.com/mzalendo-mfg/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductionBatch struct {
	ID              int                   `gorm:"primary_key" json:"id"`
	BatchNumber     string                `gorm:"size:100;uniqueIndex;not null" json:"batch_number"`
	BomId           int                   `gorm:"index;not null" json:"bom_id"`
	PlannedQuantity decimal.Decimal       `gorm:"type:decimal(20,4);not null" json:"planned_quantity"`
	ActualQuantity  *decimal.Decimal      `gorm:"type:decimal(20,4)" json:"actual_quantity"`
	Status          ProductionBatchStatus `gorm:"type:enum('Planned','In Progress','Completed','Cancelled');default:'Planned'" json:"status"`
	ProductionLine  string                `gorm:"size:100" json:"production_line"`
	Supervisor      string                `gorm:"size:100" json:"supervisor"`
	StartedAt       *time.Time            `json:"started_at"`
	CompletedAt     *time.Time            `json:"completed_at"`
	CreatedAt       time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time             `gorm:"autoUpdateTime" json:"updated_at"`

	Bom *BillOfMaterials `gorm:"foreignKey:BomId" json:"bom,omitempty"`
}

type NewProductionBatch struct {
	BatchNumber     string          `json:"batch_number"`
	BomId           int             `json:"bom_id" validate:"required"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity" validate:"required"`
	ProductionLine  string          `json:"production_line"`
	Supervisor      string          `json:"supervisor"`
}

type CompleteProductionBatchInput struct {
	ActualQuantity  decimal.Decimal `json:"actual_quantity" validate:"required"`
	StorageLocation string          `json:"storage_location"`
	ExpiryDate      *time.Time      `json:"expiry_date"`
}

var productionBatchTransitions = map[ProductionBatchStatus][]ProductionBatchStatus{
	ProductionBatchStatusPlanned:    {ProductionBatchStatusInProgress, ProductionBatchStatusCancelled},
	ProductionBatchStatusInProgress: {ProductionBatchStatusCompleted},
	ProductionBatchStatusCompleted:  {},
	ProductionBatchStatusCancelled:  {},
}

func canTransitionBatch(from ProductionBatchStatus, to ProductionBatchStatus) bool {
	for _, allowed := range productionBatchTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func CreateProductionBatch(ctx context.Context, input *NewProductionBatch) (*ProductionBatch, error) {

	if !input.PlannedQuantity.IsPositive() {
		return nil, NewValidationError("planned_quantity must be positive")
	}
	bom, err := GetBOM(ctx, input.BomId)
	if err != nil {
		return nil, err
	}
	if bom.Status != BOMStatusActive {
		return nil, NewInvalidStateError("bom %s is %s; only Active BOMs can be scheduled", bom.BomNumber, bom.Status)
	}

	batchNumber := input.BatchNumber
	if batchNumber == "" {
		batchNumber = fmt.Sprintf("PB-%s", time.Now().UTC().Format("20060102-150405"))
	}
	if err := utils.ValidateUnique[ProductionBatch](ctx, "batch_number", batchNumber, 0); err != nil {
		return nil, NewValidationError("batch number %q already exists", batchNumber)
	}

	batch := ProductionBatch{
		BatchNumber:     batchNumber,
		BomId:           input.BomId,
		PlannedQuantity: input.PlannedQuantity,
		Status:          ProductionBatchStatusPlanned,
		ProductionLine:  input.ProductionLine,
		Supervisor:      input.Supervisor,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&batch).Error; err != nil {
		if isDuplicateEntry(err) {
			return nil, NewValidationError("batch number %q already exists", batchNumber)
		}
		return nil, err
	}
	return &batch, nil
}

// StartProductionBatch moves Planned -> In Progress. It explodes the BOM for
// the planned quantity, verifies every material against the ledger and, only
// when everything is available, deducts all requirements in the same
// transaction. Any shortage fails the whole start with the itemized list and
// the batch stays Planned with nothing deducted. Concurrent starts against
// overlapping materials serialize on the batch row lock, the bulk cell locks
// and the posting advisory lock.
func StartProductionBatch(ctx context.Context, id int) (*ProductionBatch, error) {

	bestEffort := ObtainBestEffortPostingLock()
	defer ReleaseBestEffortPostingLock(bestEffort)

	var batch ProductionBatch
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireStockPostingLock(tx); err != nil {
			return err
		}
		defer ReleaseStockPostingLock(tx)

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&batch, id).Error; err != nil {
			return NewNotFoundError("production batch", id)
		}
		if !canTransitionBatch(batch.Status, ProductionBatchStatusInProgress) {
			return NewInvalidTransitionError("production batch", string(batch.Status), string(ProductionBatchStatusInProgress))
		}

		bom, err := GetBOM(ctx, batch.BomId)
		if err != nil {
			return err
		}
		requirements, err := bom.Explode(batch.PlannedQuantity)
		if err != nil {
			return err
		}

		materialIds := make([]int, 0, len(requirements))
		for _, req := range requirements {
			materialIds = append(materialIds, req.MaterialId)
		}
		if err := bulkLockInventoryCells(tx, materialIds); err != nil {
			return err
		}

		// check every material before touching anything
		shortages := make([]ShortageItem, 0)
		for _, req := range requirements {
			var available decimal.Decimal
			if err := tx.Model(&InventoryRecord{}).
				Select("COALESCE(SUM(quantity), 0)").
				Where("material_id = ?", req.MaterialId).
				Scan(&available).Error; err != nil {
				return err
			}
			if available.LessThan(req.RequiredQuantity) {
				shortages = append(shortages, ShortageItem{
					Name:      req.MaterialName,
					Code:      req.MaterialCode,
					Required:  req.RequiredQuantity,
					Available: available,
					Shortage:  req.RequiredQuantity.Sub(available),
				})
			}
		}
		if len(shortages) > 0 {
			return NewInsufficientMaterialsError(shortages)
		}

		reason := "consumed by production batch " + batch.BatchNumber
		for _, req := range requirements {
			if err := consumeMaterialStock(tx, ctx, req.MaterialId, req.RequiredQuantity, reason, InventoryReferenceProductionBatch, batch.ID); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if err := tx.Model(&batch).Updates(map[string]interface{}{
			"Status":    ProductionBatchStatusInProgress,
			"StartedAt": &now,
		}).Error; err != nil {
			return err
		}
		batch.Status = ProductionBatchStatusInProgress
		batch.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	invalidateInventoryCaches()
	return &batch, nil
}

// CompleteProductionBatch moves In Progress -> Completed and books the yield
// as an Available finished-goods batch. actual_quantity may differ from
// planned (yield variance); materials were already consumed at start and are
// not re-checked.
func CompleteProductionBatch(ctx context.Context, id int, input *CompleteProductionBatchInput) (*ProductionBatch, *FinishedGoodsBatch, error) {

	if !input.ActualQuantity.IsPositive() {
		return nil, nil, NewValidationError("actual_quantity must be positive")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()

	var batch ProductionBatch
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&batch, id).Error; err != nil {
		tx.Rollback()
		return nil, nil, NewNotFoundError("production batch", id)
	}
	if !canTransitionBatch(batch.Status, ProductionBatchStatusCompleted) {
		tx.Rollback()
		return nil, nil, NewInvalidTransitionError("production batch", string(batch.Status), string(ProductionBatchStatusCompleted))
	}

	bom, err := GetBOM(ctx, batch.BomId)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	location := input.StorageLocation
	if location == "" {
		location = config.DefaultReceivingLocation()
	}

	fg := FinishedGoodsBatch{
		ProductCode:     bom.ProductCode,
		ProductName:     bom.ProductName,
		BatchNumber:     batch.BatchNumber,
		Quantity:        input.ActualQuantity,
		Status:          FinishedGoodsStatusAvailable,
		ProductionDate:  time.Now().UTC(),
		ExpiryDate:      input.ExpiryDate,
		StorageLocation: location,
	}
	if err := tx.Create(&fg).Error; err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	now := time.Now().UTC()
	if err := tx.Model(&batch).Updates(map[string]interface{}{
		"Status":         ProductionBatchStatusCompleted,
		"ActualQuantity": input.ActualQuantity,
		"CompletedAt":    &now,
	}).Error; err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	batch.Status = ProductionBatchStatusCompleted
	batch.ActualQuantity = &input.ActualQuantity
	batch.CompletedAt = &now

	if err := tx.Commit().Error; err != nil {
		return nil, nil, err
	}
	return &batch, &fg, nil
}

// CancelProductionBatch is only legal while Planned: materials have not been
// consumed yet, so cancelling keeps the ledger untouched.
func CancelProductionBatch(ctx context.Context, id int) (*ProductionBatch, error) {

	batch, err := utils.FetchModel[ProductionBatch](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("production batch", id)
	}
	if !canTransitionBatch(batch.Status, ProductionBatchStatusCancelled) {
		return nil, NewInvalidTransitionError("production batch", string(batch.Status), string(ProductionBatchStatusCancelled))
	}

	db := config.GetDB()
	res := db.WithContext(ctx).Model(&ProductionBatch{}).
		Where("id = ? AND status = ?", batch.ID, ProductionBatchStatusPlanned).
		UpdateColumn("Status", ProductionBatchStatusCancelled)
	if res.Error != nil {
		return nil, res.Error
	}
	// zero rows means the batch moved on (a concurrent Start) since we read it
	if res.RowsAffected == 0 {
		return nil, NewInvalidTransitionError("production batch", string(batch.Status), string(ProductionBatchStatusCancelled))
	}
	batch.Status = ProductionBatchStatusCancelled
	return batch, nil
}

// DeleteProductionBatch removes a Planned batch. In Progress and Completed
// batches have already moved stock and must stay for ledger consistency.
func DeleteProductionBatch(ctx context.Context, id int) (*ProductionBatch, error) {

	batch, err := utils.FetchModel[ProductionBatch](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("production batch", id)
	}
	if batch.Status != ProductionBatchStatusPlanned {
		return nil, NewInvalidStateError("production batch %s is %s and cannot be deleted", batch.BatchNumber, batch.Status)
	}

	db := config.GetDB()
	res := db.WithContext(ctx).
		Where("id = ? AND status = ?", batch.ID, ProductionBatchStatusPlanned).
		Delete(&ProductionBatch{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, NewInvalidStateError("production batch %s is no longer Planned and cannot be deleted", batch.BatchNumber)
	}
	return batch, nil
}

func GetProductionBatch(ctx context.Context, id int) (*ProductionBatch, error) {
	batch, err := utils.FetchModel[ProductionBatch](ctx, id, "Bom", "Bom.Details", "Bom.Details.Material")
	if err != nil {
		return nil, NewNotFoundError("production batch", id)
	}
	return batch, nil
}

func GetProductionBatches(ctx context.Context) ([]*ProductionBatch, error) {
	return utils.FetchAllModels[ProductionBatch](ctx, "Bom")
}

// GetProductionBatchRequirements previews the material situation for a batch:
// the exploded requirements with current availability and shortfalls.
func GetProductionBatchRequirements(ctx context.Context, id int) ([]MaterialRequirement, []ShortageItem, error) {

	batch, err := GetProductionBatch(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	requirements, err := batch.Bom.Explode(batch.PlannedQuantity)
	if err != nil {
		return nil, nil, err
	}

	totals, err := GetStockTotalsByMaterial(ctx)
	if err != nil {
		return nil, nil, err
	}
	shortages := make([]ShortageItem, 0)
	for _, req := range requirements {
		available := totals[req.MaterialId]
		if available.LessThan(req.RequiredQuantity) {
			shortages = append(shortages, ShortageItem{
				Name:      req.MaterialName,
				Code:      req.MaterialCode,
				Required:  req.RequiredQuantity,
				Available: available,
				Shortage:  req.RequiredQuantity.Sub(available),
			})
		}
	}
	return requirements, shortages, nil
}
