package workflow

import (
	"context"

	"github.com/mzalendo-mfg/factory_backend/config"
	"github.com/mzalendo-mfg/factory_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LedgerMismatch is one cell whose stored quantity disagrees with the sum of
// its audit log deltas.
type LedgerMismatch struct {
	MaterialId      int             `json:"material_id"`
	StorageLocation string          `json:"storage_location"`
	BatchNumber     string          `json:"batch_number"`
	RecordQuantity  decimal.Decimal `json:"record_quantity"`
	LogQuantity     decimal.Decimal `json:"log_quantity"`
	Difference      decimal.Decimal `json:"difference"`
}

// CheckLedgerConsistency compares every inventory cell against its log sum
// without repairing anything. Intended for a nightly schedule or an admin
// trigger; mismatches mean a posting bypassed the ledger and warrant a
// rebuild.
func CheckLedgerConsistency(ctx context.Context, logger *logrus.Logger) ([]LedgerMismatch, error) {

	if logger == nil {
		logger = config.GetLogger()
	}

	type row struct {
		MaterialId      int
		StorageLocation string
		BatchNumber     string
		RecordQuantity  decimal.Decimal
		LogQuantity     decimal.Decimal
	}
	var rows []row

	db := config.GetDB()
	err := db.WithContext(ctx).Model(&models.InventoryRecord{}).
		Select(`inventory_records.material_id,
			inventory_records.storage_location,
			inventory_records.batch_number,
			inventory_records.quantity AS record_quantity,
			COALESCE(l.total, 0) AS log_quantity`).
		Joins(`LEFT JOIN (
			SELECT material_id, storage_location, batch_number, SUM(qty_delta) AS total
			FROM inventory_logs
			GROUP BY material_id, storage_location, batch_number
		) l ON l.material_id = inventory_records.material_id
		   AND l.storage_location = inventory_records.storage_location
		   AND l.batch_number = inventory_records.batch_number`).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	var mismatches []LedgerMismatch
	for _, r := range rows {
		if r.RecordQuantity.Equal(r.LogQuantity) {
			continue
		}
		mismatches = append(mismatches, LedgerMismatch{
			MaterialId:      r.MaterialId,
			StorageLocation: r.StorageLocation,
			BatchNumber:     r.BatchNumber,
			RecordQuantity:  r.RecordQuantity,
			LogQuantity:     r.LogQuantity,
			Difference:      r.RecordQuantity.Sub(r.LogQuantity),
		})
	}

	if len(mismatches) > 0 {
		logger.WithFields(logrus.Fields{
			"mismatch_count": len(mismatches),
		}).Warn("inventory ledger consistency check found drift")
	}

	return mismatches, nil
}
