package models

import (
	"log"

	"github.com/mzalendo-mfg/factory_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&RawMaterial{}, &Supplier{},
		&InventoryRecord{}, &InventoryLog{},
		&BillOfMaterials{}, &BOMDetail{},
		&PurchaseOrder{}, &PurchaseOrderDetail{},
		&ProductionBatch{}, &FinishedGoodsBatch{},
		&SalesOrder{}, &SalesOrderDetail{}, &Payment{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
