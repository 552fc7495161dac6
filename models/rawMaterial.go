package models

import (
	"context"
	"time"

	"github.com/mzalendo-mfg/factory_backend/config"
	"github.com/mzalendo-mfg/factory_backend/utils"
	"github.com/shopspring/decimal"
)

type RawMaterial struct {
	ID                int             `gorm:"primary_key" json:"id"`
	Code              string          `gorm:"size:100;uniqueIndex;not null" json:"code"`
	Name              string          `gorm:"size:255;not null" json:"name"`
	UnitOfMeasure     string          `gorm:"size:50;not null" json:"unit_of_measure"`
	MinimumStockLevel decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"minimum_stock_level"`
	ReorderPoint      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reorder_point"`
	StandardCost      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"standard_cost"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRawMaterial struct {
	Code              string          `json:"code" validate:"required"`
	Name              string          `json:"name" validate:"required"`
	UnitOfMeasure     string          `json:"unit_of_measure" validate:"required"`
	MinimumStockLevel decimal.Decimal `json:"minimum_stock_level"`
	ReorderPoint      decimal.Decimal `json:"reorder_point"`
	StandardCost      decimal.Decimal `json:"standard_cost"`
}

// MaterialInventoryStatus is the reorder dashboard row: current stock held
// against the material's thresholds.
type MaterialInventoryStatus struct {
	MaterialId    int             `json:"material_id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	CurrentStock  decimal.Decimal `json:"current_stock"`
	MinimumLevel  decimal.Decimal `json:"minimum_stock_level"`
	ReorderPoint  decimal.Decimal `json:"reorder_point"`
	Status        string          `json:"status"` // normal | low | critical
}

func (input *NewRawMaterial) validate() error {
	if input.MinimumStockLevel.IsNegative() {
		return NewValidationError("minimum_stock_level cannot be negative")
	}
	if input.ReorderPoint.IsNegative() {
		return NewValidationError("reorder_point cannot be negative")
	}
	if input.StandardCost.IsNegative() {
		return NewValidationError("standard_cost cannot be negative")
	}
	return nil
}

func CreateRawMaterial(ctx context.Context, input *NewRawMaterial) (*RawMaterial, error) {

	if err := input.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[RawMaterial](ctx, "code", input.Code, 0); err != nil {
		return nil, NewValidationError("material code %q already exists", input.Code)
	}

	material := RawMaterial{
		Code:              input.Code,
		Name:              input.Name,
		UnitOfMeasure:     input.UnitOfMeasure,
		MinimumStockLevel: input.MinimumStockLevel,
		ReorderPoint:      input.ReorderPoint,
		StandardCost:      input.StandardCost,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&material).Error; err != nil {
		if isDuplicateEntry(err) {
			return nil, NewValidationError("material code %q already exists", input.Code)
		}
		return nil, err
	}
	return &material, nil
}

// UpdateRawMaterial mutates cost/thresholds/name. Code is immutable identity.
func UpdateRawMaterial(ctx context.Context, id int, input *NewRawMaterial) (*RawMaterial, error) {

	if err := input.validate(); err != nil {
		return nil, err
	}

	material, err := utils.FetchModel[RawMaterial](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("raw material", id)
	}
	if input.Code != "" && input.Code != material.Code {
		return nil, NewValidationError("material code is immutable")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(material).Updates(map[string]interface{}{
		"Name":              input.Name,
		"UnitOfMeasure":     input.UnitOfMeasure,
		"MinimumStockLevel": input.MinimumStockLevel,
		"ReorderPoint":      input.ReorderPoint,
		"StandardCost":      input.StandardCost,
	}).Error
	if err != nil {
		return nil, err
	}
	return material, nil
}

func DeleteRawMaterial(ctx context.Context, id int) (*RawMaterial, error) {

	material, err := utils.FetchModel[RawMaterial](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("raw material", id)
	}

	// refuse to delete a material that still has stock or BOM references
	stock, err := GetAvailableStock(ctx, id)
	if err != nil {
		return nil, err
	}
	if stock.IsPositive() {
		return nil, NewInvalidStateError("material %s still has stock on hand", material.Code)
	}
	count, err := utils.ResourceCountWhere[BOMDetail](ctx, "material_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, NewInvalidStateError("material %s is referenced by a bill of materials", material.Code)
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(material).Error; err != nil {
		return nil, err
	}
	return material, nil
}

func GetRawMaterial(ctx context.Context, id int) (*RawMaterial, error) {
	material, err := utils.FetchModel[RawMaterial](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("raw material", id)
	}
	return material, nil
}

// SearchRawMaterials matches code or name, capped for typeahead use.
func SearchRawMaterials(ctx context.Context, term string) ([]*RawMaterial, error) {
	var materials []*RawMaterial
	pattern := "%" + term + "%"
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("code LIKE ? OR name LIKE ?", pattern, pattern).
		Order("code").
		Limit(config.SearchLimit).
		Find(&materials).Error
	if err != nil {
		return nil, err
	}
	return materials, nil
}

func GetRawMaterialByCode(ctx context.Context, code string) (*RawMaterial, error) {
	var material RawMaterial
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("code = ?", code).First(&material).Error; err != nil {
		return nil, NewNotFoundError("raw material", code)
	}
	return &material, nil
}

func GetRawMaterials(ctx context.Context) ([]*RawMaterial, error) {
	return utils.FetchAllModels[RawMaterial](ctx)
}

// GetMaterialInventoryStatus reports each material's total stock against its
// reorder point and minimum level. critical < minimum <= low < reorder point.
func GetMaterialInventoryStatus(ctx context.Context) ([]*MaterialInventoryStatus, error) {

	materials, err := utils.FetchAllModels[RawMaterial](ctx)
	if err != nil {
		return nil, err
	}

	totals, err := GetStockTotalsByMaterial(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]*MaterialInventoryStatus, 0, len(materials))
	for _, m := range materials {
		current := totals[m.ID]
		status := "normal"
		if current.LessThan(m.MinimumStockLevel) {
			status = "critical"
		} else if current.LessThan(m.ReorderPoint) {
			status = "low"
		}
		statuses = append(statuses, &MaterialInventoryStatus{
			MaterialId:    m.ID,
			Code:          m.Code,
			Name:          m.Name,
			UnitOfMeasure: m.UnitOfMeasure,
			CurrentStock:  current,
			MinimumLevel:  m.MinimumStockLevel,
			ReorderPoint:  m.ReorderPoint,
			Status:        status,
		})
	}
	return statuses, nil
}
