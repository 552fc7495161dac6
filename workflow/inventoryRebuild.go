package workflow

import (
	"context"
	"fmt"

	"github.com/mzalendo-mfg/factory_backend/config"
	"github.com/mzalendo-mfg/factory_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func acquireInventoryRebuildLock(tx *gorm.DB) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", "inventory_rebuild").Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire inventory rebuild lock")
	}
	return nil
}

func releaseInventoryRebuildLock(tx *gorm.DB) {
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", "inventory_rebuild").Scan(&_ok).Error
}

// RebuildResult reports one repaired cell.
type RebuildResult struct {
	MaterialId      int             `json:"material_id"`
	StorageLocation string          `json:"storage_location"`
	BatchNumber     string          `json:"batch_number"`
	OldQuantity     decimal.Decimal `json:"old_quantity"`
	NewQuantity     decimal.Decimal `json:"new_quantity"`
}

// RebuildInventoryFromLogs recomputes every inventory cell quantity as the
// sum of its audit log deltas and rewrites cells that drifted. The log is the
// source of truth; cells are derived state. Runs in one transaction under the
// rebuild advisory lock and the stock posting lock, so no receipt or
// consumption can interleave.
func RebuildInventoryFromLogs(ctx context.Context, logger *logrus.Logger) ([]RebuildResult, error) {

	if logger == nil {
		logger = config.GetLogger()
	}

	var repaired []RebuildResult
	var checked int
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := acquireInventoryRebuildLock(tx); err != nil {
			return err
		}
		// advisory locks are session-scoped: release on the open tx, not after commit
		defer releaseInventoryRebuildLock(tx)
		if err := models.AcquireStockPostingLock(tx); err != nil {
			return err
		}
		defer models.ReleaseStockPostingLock(tx)

		type cellSum struct {
			MaterialId      int
			StorageLocation string
			BatchNumber     string
			Total           decimal.Decimal
		}
		var sums []cellSum
		if err := tx.Model(&models.InventoryLog{}).
			Select("material_id, storage_location, batch_number, COALESCE(SUM(qty_delta), 0) AS total").
			Group("material_id, storage_location, batch_number").
			Scan(&sums).Error; err != nil {
			return err
		}

		logTotals := map[string]cellSum{}
		cellKey := func(materialId int, location, batch string) string {
			return fmt.Sprintf("%d|%s|%s", materialId, location, batch)
		}
		for _, s := range sums {
			logTotals[cellKey(s.MaterialId, s.StorageLocation, s.BatchNumber)] = s
		}

		var records []models.InventoryRecord
		if err := tx.Order("id").Find(&records).Error; err != nil {
			return err
		}
		checked = len(records)

		seen := map[string]bool{}
		for i := range records {
			record := &records[i]
			key := cellKey(record.MaterialId, record.StorageLocation, record.BatchNumber)
			seen[key] = true

			expected := decimal.Zero
			if s, ok := logTotals[key]; ok {
				expected = s.Total
			}
			if record.Quantity.Equal(expected) {
				continue
			}

			repaired = append(repaired, RebuildResult{
				MaterialId:      record.MaterialId,
				StorageLocation: record.StorageLocation,
				BatchNumber:     record.BatchNumber,
				OldQuantity:     record.Quantity,
				NewQuantity:     expected,
			})
			if err := tx.Model(record).UpdateColumn("Quantity", expected).Error; err != nil {
				return err
			}
		}

		// log rows whose cell record is missing entirely
		for key, s := range logTotals {
			if seen[key] {
				continue
			}
			record := models.InventoryRecord{
				MaterialId:      s.MaterialId,
				StorageLocation: s.StorageLocation,
				BatchNumber:     s.BatchNumber,
				Quantity:        s.Total,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			repaired = append(repaired, RebuildResult{
				MaterialId:      s.MaterialId,
				StorageLocation: s.StorageLocation,
				BatchNumber:     s.BatchNumber,
				OldQuantity:     decimal.Zero,
				NewQuantity:     s.Total,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"cells_checked":  checked,
		"cells_repaired": len(repaired),
	}).Info("inventory rebuild completed")

	return repaired, nil
}
