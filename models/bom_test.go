package models_test

import (
	"testing"

	"github.com/mzalendo-mfg/factory_backend/models"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func flourBOM() *models.BillOfMaterials {
	// 1 unit of product consumes 2.0 kg of flour with 10% scrap.
	return &models.BillOfMaterials{
		BomNumber:    "BOM-001",
		ProductCode:  "FP001",
		BaseQuantity: dec("1"),
		Details: []models.BOMDetail{
			{
				MaterialId:       1,
				QuantityRequired: dec("2.0"),
				ScrapPercentage:  dec("10"),
				UnitOfMeasure:    "kg",
			},
		},
	}
}

func TestExplode_AppliesScrapPercentage(t *testing.T) {
	bom := flourBOM()

	reqs, err := bom.Explode(dec("10"))
	if err != nil {
		t.Fatalf("Explode: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 requirement, got %d", len(reqs))
	}
	// 2.0 * 10 * 1.10 = 22.0
	if !reqs[0].RequiredQuantity.Equal(dec("22")) {
		t.Fatalf("expected required 22, got %s", reqs[0].RequiredQuantity.String())
	}
}

func TestExplode_ScalesLinearlyWithTarget(t *testing.T) {
	bom := flourBOM()

	one, err := bom.Explode(dec("1"))
	if err != nil {
		t.Fatalf("Explode(1): %v", err)
	}
	seven, err := bom.Explode(dec("7"))
	if err != nil {
		t.Fatalf("Explode(7): %v", err)
	}
	if !seven[0].RequiredQuantity.Equal(one[0].RequiredQuantity.Mul(dec("7"))) {
		t.Fatalf("explosion is not linear: 1 -> %s, 7 -> %s",
			one[0].RequiredQuantity.String(), seven[0].RequiredQuantity.String())
	}
}

func TestExplode_NormalizesByBaseQuantity(t *testing.T) {
	// BOM defined per 5-unit run: 10 kg per run, no scrap.
	bom := &models.BillOfMaterials{
		BomNumber:    "BOM-002",
		BaseQuantity: dec("5"),
		Details: []models.BOMDetail{
			{MaterialId: 1, QuantityRequired: dec("10")},
		},
	}

	reqs, err := bom.Explode(dec("8"))
	if err != nil {
		t.Fatalf("Explode: %v", err)
	}
	// 10 * (8/5) = 16
	if !reqs[0].RequiredQuantity.Equal(dec("16")) {
		t.Fatalf("expected required 16, got %s", reqs[0].RequiredQuantity.String())
	}
}

func TestExplode_RejectsNonPositiveTarget(t *testing.T) {
	bom := flourBOM()

	for _, target := range []string{"0", "-3"} {
		if _, err := bom.Explode(dec(target)); err == nil {
			t.Fatalf("expected error for target quantity %s", target)
		}
	}
}

func TestExplode_FractionalScrapStaysExact(t *testing.T) {
	bom := &models.BillOfMaterials{
		BaseQuantity: dec("1"),
		Details: []models.BOMDetail{
			{MaterialId: 1, QuantityRequired: dec("0.3"), ScrapPercentage: dec("2.5")},
		},
	}

	reqs, err := bom.Explode(dec("100"))
	if err != nil {
		t.Fatalf("Explode: %v", err)
	}
	// 0.3 * 100 * 1.025 = 30.75, exactly
	if !reqs[0].RequiredQuantity.Equal(dec("30.75")) {
		t.Fatalf("expected required 30.75, got %s", reqs[0].RequiredQuantity.String())
	}
}

func TestCostRollup_SumsStandardCosts(t *testing.T) {
	bom := &models.BillOfMaterials{
		BaseQuantity: dec("1"),
		Details: []models.BOMDetail{
			{MaterialId: 1, QuantityRequired: dec("2"), ScrapPercentage: dec("10")},
			{MaterialId: 2, QuantityRequired: dec("0.5")},
		},
	}
	costs := map[int]decimal.Decimal{
		1: dec("5.50"),
		2: dec("12"),
	}

	total, perUnit, err := bom.CostRollup(costs)
	if err != nil {
		t.Fatalf("CostRollup: %v", err)
	}
	// 2 * 1.10 * 5.50 + 0.5 * 12 = 12.1 + 6 = 18.1
	if !total.Equal(dec("18.1")) {
		t.Fatalf("expected total 18.1, got %s", total.String())
	}
	if !perUnit.Equal(dec("18.1")) {
		t.Fatalf("expected per-unit 18.1 for base quantity 1, got %s", perUnit.String())
	}
}

func TestCostRollup_MissingCostContributesZero(t *testing.T) {
	bom := &models.BillOfMaterials{
		BaseQuantity: dec("1"),
		Details: []models.BOMDetail{
			{MaterialId: 1, QuantityRequired: dec("2")},
			{MaterialId: 99, QuantityRequired: dec("4")},
		},
	}

	total, _, err := bom.CostRollup(map[int]decimal.Decimal{1: dec("3")})
	if err != nil {
		t.Fatalf("CostRollup: %v", err)
	}
	if !total.Equal(dec("6")) {
		t.Fatalf("expected total 6 (unknown material priced at zero), got %s", total.String())
	}
}
