package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mzalendo-mfg/factory_backend/config"
	"github.com/mzalendo-mfg/factory_backend/utils"
	"github.com/shopspring/decimal"
)

type BillOfMaterials struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BomNumber    string          `gorm:"size:100;uniqueIndex;not null" json:"bom_number"`
	ProductCode  string          `gorm:"size:100;index;not null" json:"product_code"`
	ProductName  string          `gorm:"size:255" json:"product_name"`
	Version      string          `gorm:"size:20;not null;default:'1.0'" json:"version"`
	Status       BOMStatus       `gorm:"type:enum('Draft','Active','Obsolete');default:'Draft'" json:"status"`
	BaseQuantity decimal.Decimal `gorm:"type:decimal(20,4);default:1" json:"base_quantity"`
	UnitOfMeasure string         `gorm:"size:50" json:"unit_of_measure"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Details []BOMDetail `json:"details"`
}

type BOMDetail struct {
	ID               int             `gorm:"primary_key" json:"id"`
	BillOfMaterialsId int            `gorm:"index;not null" json:"bill_of_materials_id"`
	MaterialId       int             `gorm:"index;not null" json:"material_id"`
	QuantityRequired decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity_required"`
	ScrapPercentage  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"scrap_percentage"`
	UnitOfMeasure    string          `gorm:"size:50" json:"unit_of_measure"`
	SequenceNumber   int             `json:"sequence_number"`
	Notes            string          `gorm:"size:255" json:"notes"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Material *RawMaterial `gorm:"foreignKey:MaterialId" json:"material,omitempty"`
}

type NewBOM struct {
	BomNumber     string          `json:"bom_number" validate:"required"`
	ProductCode   string          `json:"product_code" validate:"required"`
	ProductName   string          `json:"product_name"`
	Version       string          `json:"version"`
	BaseQuantity  decimal.Decimal `json:"base_quantity"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	Details       []NewBOMDetail  `json:"details" validate:"required,dive"`
}

type NewBOMDetail struct {
	MaterialId       int             `json:"material_id" validate:"required"`
	QuantityRequired decimal.Decimal `json:"quantity_required" validate:"required"`
	ScrapPercentage  decimal.Decimal `json:"scrap_percentage"`
	UnitOfMeasure    string          `json:"unit_of_measure"`
	SequenceNumber   int             `json:"sequence_number"`
	Notes            string          `json:"notes"`
}

// MaterialRequirement is one line of a BOM explosion.
type MaterialRequirement struct {
	MaterialId       int             `json:"material_id"`
	MaterialCode     string          `json:"material_code"`
	MaterialName     string          `json:"material_name"`
	RequiredQuantity decimal.Decimal `json:"required_quantity"`
	UnitOfMeasure    string          `json:"unit_of_measure"`
}

type BOMCostRollup struct {
	BomId       int             `json:"bom_id"`
	BomNumber   string          `json:"bom_number"`
	ProductCode string          `json:"product_code"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
}

var percentBase = decimal.NewFromInt(100)

// Explode computes per-material requirements for producing targetQuantity
// units. Scrap is applied multiplicatively per line:
//
//	required = quantity_required * (target / base) * (1 + scrap/100)
//
// Pure computation on the loaded Details; callers wanting name/code filled
// should load Details with Material preloaded (ExplodeBOM does).
func (b *BillOfMaterials) Explode(targetQuantity decimal.Decimal) ([]MaterialRequirement, error) {
	if !targetQuantity.IsPositive() {
		return nil, NewValidationError("target quantity must be positive")
	}
	if !b.BaseQuantity.IsPositive() {
		return nil, NewValidationError("bom %s has non-positive base quantity", b.BomNumber)
	}

	ratio := targetQuantity.Div(b.BaseQuantity)
	requirements := make([]MaterialRequirement, 0, len(b.Details))
	for _, line := range b.Details {
		scrapFactor := decimal.NewFromInt(1).Add(line.ScrapPercentage.Div(percentBase))
		required := line.QuantityRequired.Mul(ratio).Mul(scrapFactor)

		req := MaterialRequirement{
			MaterialId:       line.MaterialId,
			RequiredQuantity: required,
			UnitOfMeasure:    line.UnitOfMeasure,
		}
		if line.Material != nil {
			req.MaterialCode = line.Material.Code
			req.MaterialName = line.Material.Name
			if req.UnitOfMeasure == "" {
				req.UnitOfMeasure = line.Material.UnitOfMeasure
			}
		}
		requirements = append(requirements, req)
	}
	return requirements, nil
}

// CostRollup prices one base-quantity run at the given standard costs.
// A material with no known cost contributes zero (costing is best-effort).
func (b *BillOfMaterials) CostRollup(standardCosts map[int]decimal.Decimal) (totalCost decimal.Decimal, costPerUnit decimal.Decimal, err error) {
	requirements, err := b.Explode(b.BaseQuantity)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	total := decimal.Zero
	for _, req := range requirements {
		cost, ok := standardCosts[req.MaterialId]
		if !ok {
			continue
		}
		total = total.Add(req.RequiredQuantity.Mul(cost))
	}
	return total, total.Div(b.BaseQuantity), nil
}

func (input *NewBOM) validate(ctx context.Context) error {
	if len(input.Details) == 0 {
		return NewValidationError("a bill of materials requires at least one line")
	}
	// zero base quantity defaults to 1 at create time
	if input.BaseQuantity.IsNegative() {
		return NewValidationError("base_quantity must be positive")
	}

	materialIds := make([]int, 0, len(input.Details))
	for i, line := range input.Details {
		if !line.QuantityRequired.IsPositive() {
			return NewValidationError("line %d: quantity_required must be positive", i+1)
		}
		if line.ScrapPercentage.IsNegative() {
			return NewValidationError("line %d: scrap_percentage cannot be negative", i+1)
		}
		materialIds = append(materialIds, line.MaterialId)
	}
	if err := utils.ValidateResourcesId[RawMaterial](ctx, materialIds); err != nil {
		return NewValidationError("one or more BOM materials do not exist")
	}
	return nil
}

func CreateBOM(ctx context.Context, input *NewBOM) (*BillOfMaterials, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[BillOfMaterials](ctx, "bom_number", input.BomNumber, 0); err != nil {
		return nil, NewValidationError("bom number %q already exists", input.BomNumber)
	}

	baseQty := input.BaseQuantity
	if baseQty.IsZero() {
		baseQty = decimal.NewFromInt(1)
	}
	version := input.Version
	if version == "" {
		version = "1.0"
	}

	bom := BillOfMaterials{
		BomNumber:     input.BomNumber,
		ProductCode:   input.ProductCode,
		ProductName:   input.ProductName,
		Version:       version,
		Status:        BOMStatusDraft,
		BaseQuantity:  baseQty,
		UnitOfMeasure: input.UnitOfMeasure,
	}
	for _, line := range input.Details {
		bom.Details = append(bom.Details, BOMDetail{
			MaterialId:       line.MaterialId,
			QuantityRequired: line.QuantityRequired,
			ScrapPercentage:  line.ScrapPercentage,
			UnitOfMeasure:    line.UnitOfMeasure,
			SequenceNumber:   line.SequenceNumber,
			Notes:            line.Notes,
		})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&bom).Error; err != nil {
		if isDuplicateEntry(err) {
			return nil, NewValidationError("bom number %q already exists", bom.BomNumber)
		}
		return nil, err
	}
	return &bom, nil
}

// CreateBOMVersion is the versioned edit: it clones the product's recipe into
// a new Draft version instead of destructively rewriting the live BOM, so
// production batches keep their link to the version they consumed.
func CreateBOMVersion(ctx context.Context, productCode string, input *NewBOM) (*BillOfMaterials, error) {

	count, err := utils.ResourceCountWhere[BillOfMaterials](ctx, "product_code = ?", productCode)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, NewNotFoundError("bill of materials for product", productCode)
	}

	input.ProductCode = productCode
	input.Version = fmt.Sprintf("%d.0", count+1)
	if input.BomNumber == "" {
		return nil, NewValidationError("bom_number is required for a new version")
	}
	return CreateBOM(ctx, input)
}

// Draft -> Obsolete is not a transition: a Draft that never shipped is
// discarded with DeleteBOM, Obsolete is reserved for retired Active versions.
var bomTransitions = map[BOMStatus][]BOMStatus{
	BOMStatusDraft:    {BOMStatusActive},
	BOMStatusActive:   {BOMStatusObsolete},
	BOMStatusObsolete: {},
}

func canTransitionBOM(from BOMStatus, to BOMStatus) bool {
	for _, allowed := range bomTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// UpdateBOMStatus moves a BOM to an explicit target status. Activating a BOM
// demotes any other Active version of the same product to Obsolete, so at
// most one version per product is Active.
func UpdateBOMStatus(ctx context.Context, id int, status string) (*BillOfMaterials, error) {

	target, ok := ParseBOMStatus(status)
	if !ok {
		return nil, NewValidationError("unknown bom status %q", status)
	}

	bom, err := utils.FetchModel[BillOfMaterials](ctx, id, "Details")
	if err != nil {
		return nil, NewNotFoundError("bill of materials", id)
	}
	if !canTransitionBOM(bom.Status, target) {
		return nil, NewInvalidTransitionError("bill of materials", string(bom.Status), string(target))
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if target == BOMStatusActive {
		if err := tx.Model(&BillOfMaterials{}).
			Where("product_code = ? AND status = ? AND id != ?", bom.ProductCode, BOMStatusActive, bom.ID).
			UpdateColumn("status", BOMStatusObsolete).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	res := tx.Model(&BillOfMaterials{}).
		Where("id = ? AND status = ?", bom.ID, bom.Status).
		UpdateColumn("status", target)
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// the status moved under us since the read
		tx.Rollback()
		return nil, NewInvalidTransitionError("bill of materials", string(bom.Status), string(target))
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	bom.Status = target
	return bom, nil
}

// DeleteBOM removes a Draft recipe. Active/Obsolete versions and anything a
// production batch references stay, preserving batch-to-recipe linkage.
func DeleteBOM(ctx context.Context, id int) (*BillOfMaterials, error) {

	bom, err := utils.FetchModel[BillOfMaterials](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("bill of materials", id)
	}
	if bom.Status != BOMStatusDraft {
		return nil, NewInvalidStateError("only Draft BOMs can be deleted; obsolete %s instead", bom.BomNumber)
	}
	count, err := utils.ResourceCountWhere[ProductionBatch](ctx, "bom_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, NewInvalidStateError("bom %s is referenced by production batches", bom.BomNumber)
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	res := tx.Where("id = ? AND status = ?", bom.ID, BOMStatusDraft).Delete(&BillOfMaterials{})
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, NewInvalidStateError("bom %s is no longer Draft and cannot be deleted", bom.BomNumber)
	}
	if err := tx.Where("bill_of_materials_id = ?", id).Delete(&BOMDetail{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return bom, nil
}

func GetBOM(ctx context.Context, id int) (*BillOfMaterials, error) {
	bom, err := utils.FetchModel[BillOfMaterials](ctx, id, "Details", "Details.Material")
	if err != nil {
		return nil, NewNotFoundError("bill of materials", id)
	}
	return bom, nil
}

func GetBOMs(ctx context.Context) ([]*BillOfMaterials, error) {
	return utils.FetchAllModels[BillOfMaterials](ctx, "Details")
}

// GetBOMsByProductCode returns all versions of a product's recipe, newest
// first.
func GetBOMsByProductCode(ctx context.Context, productCode string) ([]*BillOfMaterials, error) {
	var boms []*BillOfMaterials
	db := config.GetDB()
	err := db.WithContext(ctx).Preload("Details").
		Where("product_code = ?", productCode).
		Order("id DESC").
		Find(&boms).Error
	if err != nil {
		return nil, err
	}
	if len(boms) == 0 {
		return nil, NewNotFoundError("bill of materials for product", productCode)
	}
	return boms, nil
}

// GetActiveBOMByProductCode resolves the one Active version of a product's
// recipe.
func GetActiveBOMByProductCode(ctx context.Context, productCode string) (*BillOfMaterials, error) {
	var bom BillOfMaterials
	db := config.GetDB()
	err := db.WithContext(ctx).Preload("Details").Preload("Details.Material").
		Where("product_code = ? AND status = ?", productCode, BOMStatusActive).
		First(&bom).Error
	if err != nil {
		return nil, NewNotFoundError("active bill of materials for product", productCode)
	}
	return &bom, nil
}

// ExplodeBOM loads the BOM and computes requirements for targetQuantity.
func ExplodeBOM(ctx context.Context, id int, targetQuantity decimal.Decimal) ([]MaterialRequirement, error) {
	bom, err := GetBOM(ctx, id)
	if err != nil {
		return nil, err
	}
	return bom.Explode(targetQuantity)
}

// GetBOMCostRollup prices one base run of the BOM at material standard costs.
func GetBOMCostRollup(ctx context.Context, id int) (*BOMCostRollup, error) {
	bom, err := GetBOM(ctx, id)
	if err != nil {
		return nil, err
	}
	costs, err := standardCostsForBOM(ctx, bom)
	if err != nil {
		return nil, err
	}
	total, perUnit, err := bom.CostRollup(costs)
	if err != nil {
		return nil, err
	}
	return &BOMCostRollup{
		BomId:       bom.ID,
		BomNumber:   bom.BomNumber,
		ProductCode: bom.ProductCode,
		TotalCost:   total,
		CostPerUnit: perUnit,
	}, nil
}

// GetBOMCostAnalysis rolls up every non-obsolete BOM for the costing screen.
func GetBOMCostAnalysis(ctx context.Context) ([]*BOMCostRollup, error) {
	var boms []*BillOfMaterials
	db := config.GetDB()
	err := db.WithContext(ctx).Preload("Details").Preload("Details.Material").
		Where("status != ?", BOMStatusObsolete).
		Find(&boms).Error
	if err != nil {
		return nil, err
	}

	rollups := make([]*BOMCostRollup, 0, len(boms))
	for _, bom := range boms {
		costs, err := standardCostsForBOM(ctx, bom)
		if err != nil {
			return nil, err
		}
		total, perUnit, err := bom.CostRollup(costs)
		if err != nil {
			return nil, err
		}
		rollups = append(rollups, &BOMCostRollup{
			BomId:       bom.ID,
			BomNumber:   bom.BomNumber,
			ProductCode: bom.ProductCode,
			TotalCost:   total,
			CostPerUnit: perUnit,
		})
	}
	return rollups, nil
}

func standardCostsForBOM(ctx context.Context, bom *BillOfMaterials) (map[int]decimal.Decimal, error) {
	costs := make(map[int]decimal.Decimal, len(bom.Details))
	for _, line := range bom.Details {
		if line.Material != nil {
			costs[line.MaterialId] = line.Material.StandardCost
			continue
		}
		material, err := GetRawMaterial(ctx, line.MaterialId)
		if err != nil {
			// best-effort costing: unknown material prices at zero
			continue
		}
		costs[line.MaterialId] = material.StandardCost
	}
	return costs, nil
}
