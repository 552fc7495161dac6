package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mzalendo-mfg/factory_backend/config"
	"github.com/mzalendo-mfg/factory_backend/middlewares"
	"github.com/mzalendo-mfg/factory_backend/models"
	"github.com/mzalendo-mfg/factory_backend/utils"
	"github.com/mzalendo-mfg/factory_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("factory-backend")

var validate = validator.New()

func paramInt(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// respondError maps engine error kinds onto HTTP statuses. Shortage errors
// carry their itemized lines so callers can render them per material.
func respondError(c *gin.Context, err error) {
	kind := models.ErrorKindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case models.ErrorKindValidation:
		status = http.StatusBadRequest
	case models.ErrorKindNotFound:
		status = http.StatusNotFound
	case models.ErrorKindInvalidState, models.ErrorKindInvalidTransition:
		status = http.StatusConflict
	case models.ErrorKindInsufficientStock, models.ErrorKindInsufficientMaterials, models.ErrorKindInsufficientInventory:
		status = http.StatusUnprocessableEntity
	}

	body := gin.H{"error": err.Error(), "kind": kind}
	var shortage *models.ShortageError
	if errors.As(err, &shortage) {
		body["shortages"] = shortage.Shortages
	}
	if status == http.StatusInternalServerError {
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(config.GetLogger(), "api", c.FullPath(), cid, nil, err)
	}
	c.JSON(status, body)
}

func bindAndValidate(c *gin.Context, input interface{}) bool {
	if err := c.ShouldBindJSON(input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	if err := validate.Struct(input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation failed",
			"fields": utils.ProcessValidationErrors(err),
		})
		return false
	}
	return true
}

func registerRawMaterialRoutes(api *gin.RouterGroup) {
	api.GET("/raw-materials/code/:code", func(c *gin.Context) {
		material, err := models.GetRawMaterialByCode(c.Request.Context(), c.Param("code"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, material)
	})
	api.GET("/raw-materials", func(c *gin.Context) {
		if term := strings.TrimSpace(c.Query("search")); term != "" {
			materials, err := models.SearchRawMaterials(c.Request.Context(), term)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, materials)
			return
		}
		materials, err := models.GetRawMaterials(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, materials)
	})
	api.POST("/raw-materials", func(c *gin.Context) {
		var input models.NewRawMaterial
		if !bindAndValidate(c, &input) {
			return
		}
		material, err := models.CreateRawMaterial(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, material)
	})
	api.GET("/raw-materials/inventory-status", func(c *gin.Context) {
		statuses, err := models.GetMaterialInventoryStatus(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, statuses)
	})
	api.GET("/raw-materials/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		material, err := models.GetRawMaterial(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, material)
	})
	api.PUT("/raw-materials/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input models.NewRawMaterial
		if !bindAndValidate(c, &input) {
			return
		}
		material, err := models.UpdateRawMaterial(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, material)
	})
	api.DELETE("/raw-materials/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		material, err := models.DeleteRawMaterial(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, material)
	})
}

func registerSupplierRoutes(api *gin.RouterGroup) {
	api.GET("/suppliers", func(c *gin.Context) {
		suppliers, err := models.GetSuppliers(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, suppliers)
	})
	api.POST("/suppliers", func(c *gin.Context) {
		var input models.NewSupplier
		if !bindAndValidate(c, &input) {
			return
		}
		supplier, err := models.CreateSupplier(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, supplier)
	})
	api.GET("/suppliers/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		supplier, err := models.GetSupplier(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, supplier)
	})
	api.PUT("/suppliers/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input models.NewSupplier
		if !bindAndValidate(c, &input) {
			return
		}
		supplier, err := models.UpdateSupplier(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, supplier)
	})
	api.PATCH("/suppliers/:id/toggle-active", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		supplier, err := models.ToggleSupplierActive(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, supplier)
	})
	api.DELETE("/suppliers/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		supplier, err := models.DeleteSupplier(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, supplier)
	})
}

func registerPurchaseOrderRoutes(api *gin.RouterGroup) {
	api.GET("/purchase-orders", func(c *gin.Context) {
		orders, err := models.GetPurchaseOrders(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, orders)
	})
	api.POST("/purchase-orders", func(c *gin.Context) {
		var input models.NewPurchaseOrder
		if !bindAndValidate(c, &input) {
			return
		}
		po, err := models.CreatePurchaseOrder(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, po)
	})
	api.GET("/purchase-orders/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		po, err := models.GetPurchaseOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, po)
	})
	api.PATCH("/purchase-orders/:id/status", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input struct {
			Status string `json:"status" validate:"required"`
		}
		if !bindAndValidate(c, &input) {
			return
		}
		po, err := models.UpdatePurchaseOrderStatus(c.Request.Context(), id, input.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, po)
	})
	api.DELETE("/purchase-orders/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		po, err := models.DeletePurchaseOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, po)
	})
	api.POST("/goods-receipt/receive-po/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "goods_receipt")
		defer span.End()
		result, err := models.ReceivePurchaseOrder(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func registerInventoryRoutes(api *gin.RouterGroup) {
	api.GET("/inventory/summary", func(c *gin.Context) {
		records, err := models.GetInventorySummary(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, records)
	})
	api.GET("/inventory/by-location", func(c *gin.Context) {
		locations, err := models.GetInventoryByLocation(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, locations)
	})
	api.GET("/inventory/details/:materialId", func(c *gin.Context) {
		materialId, ok := paramInt(c, "materialId")
		if !ok {
			return
		}
		records, logs, err := models.GetInventoryDetails(c.Request.Context(), materialId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records, "logs": logs})
	})
	api.POST("/inventory/adjust", func(c *gin.Context) {
		var input models.NewInventoryAdjustment
		if !bindAndValidate(c, &input) {
			return
		}
		record, err := models.AdjustInventory(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	})
	api.POST("/inventory/transfer", func(c *gin.Context) {
		var input models.NewInventoryTransfer
		if !bindAndValidate(c, &input) {
			return
		}
		record, err := models.TransferInventory(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	})
	api.GET("/inventory/low-stock", func(c *gin.Context) {
		statuses, err := models.GetMaterialInventoryStatus(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		low := make([]*models.MaterialInventoryStatus, 0)
		for _, s := range statuses {
			if s.Status != "normal" {
				low = append(low, s)
			}
		}
		c.JSON(http.StatusOK, low)
	})
	api.GET("/inventory/valuation", func(c *gin.Context) {
		rows, total, err := models.GetInventoryValuation(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"materials": rows, "total_value": total})
	})
}

func registerBOMRoutes(api *gin.RouterGroup) {
	api.GET("/bom", func(c *gin.Context) {
		boms, err := models.GetBOMs(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, boms)
	})
	api.POST("/bom", func(c *gin.Context) {
		var input models.NewBOM
		if !bindAndValidate(c, &input) {
			return
		}
		bom, err := models.CreateBOM(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, bom)
	})
	api.GET("/bom/cost-analysis/summary", func(c *gin.Context) {
		rollups, err := models.GetBOMCostAnalysis(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rollups)
	})
	api.GET("/bom/product/:code", func(c *gin.Context) {
		boms, err := models.GetBOMsByProductCode(c.Request.Context(), c.Param("code"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, boms)
	})
	api.GET("/bom/product/:code/active", func(c *gin.Context) {
		bom, err := models.GetActiveBOMByProductCode(c.Request.Context(), c.Param("code"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, bom)
	})
	api.POST("/bom/product/:code/versions", func(c *gin.Context) {
		var input models.NewBOM
		if !bindAndValidate(c, &input) {
			return
		}
		bom, err := models.CreateBOMVersion(c.Request.Context(), c.Param("code"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, bom)
	})
	api.GET("/bom/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		bom, err := models.GetBOM(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, bom)
	})
	api.PATCH("/bom/:id/status", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input struct {
			Status string `json:"status" validate:"required"`
		}
		if !bindAndValidate(c, &input) {
			return
		}
		bom, err := models.UpdateBOMStatus(c.Request.Context(), id, input.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, bom)
	})
	api.GET("/bom/:id/explode", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		qty, err := decimal.NewFromString(c.DefaultQuery("quantity", "1"))
		if err != nil || !qty.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be a positive number"})
			return
		}
		requirements, err := models.ExplodeBOM(c.Request.Context(), id, qty)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, requirements)
	})
	api.GET("/bom/:id/cost-rollup", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		rollup, err := models.GetBOMCostRollup(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rollup)
	})
	api.DELETE("/bom/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		bom, err := models.DeleteBOM(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, bom)
	})
}

func registerProductionRoutes(api *gin.RouterGroup) {
	api.GET("/production", func(c *gin.Context) {
		batches, err := models.GetProductionBatches(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, batches)
	})
	api.POST("/production", func(c *gin.Context) {
		var input models.NewProductionBatch
		if !bindAndValidate(c, &input) {
			return
		}
		batch, err := models.CreateProductionBatch(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, batch)
	})
	api.GET("/production/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		batch, err := models.GetProductionBatch(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, batch)
	})
	api.GET("/production/:id/requirements", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		requirements, shortages, err := models.GetProductionBatchRequirements(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"requirements": requirements, "shortages": shortages})
	})
	api.POST("/production/:id/start", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "production_start")
		defer span.End()
		batch, err := models.StartProductionBatch(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, batch)
	})
	api.POST("/production/:id/complete", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input models.CompleteProductionBatchInput
		if !bindAndValidate(c, &input) {
			return
		}
		batch, finished, err := models.CompleteProductionBatch(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"batch": batch, "finished_goods": finished})
	})
	api.POST("/production/:id/cancel", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		batch, err := models.CancelProductionBatch(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, batch)
	})
	api.DELETE("/production/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		batch, err := models.DeleteProductionBatch(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, batch)
	})
}

func registerFinishedGoodsRoutes(api *gin.RouterGroup) {
	api.GET("/finished-goods/summary", func(c *gin.Context) {
		summary, err := models.GetFinishedGoodsSummary(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
	api.GET("/finished-goods/statistics", func(c *gin.Context) {
		stats, err := models.GetFinishedGoodsStatistics(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})
	api.GET("/finished-goods/product/:code", func(c *gin.Context) {
		batches, err := models.GetFinishedGoodsByProductCode(c.Request.Context(), c.Param("code"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, batches)
	})
	api.PATCH("/finished-goods/:id/status", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input struct {
			Status string `json:"status" validate:"required"`
		}
		if !bindAndValidate(c, &input) {
			return
		}
		batch, err := models.UpdateFinishedGoodsStatus(c.Request.Context(), id, input.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, batch)
	})
	api.POST("/finished-goods/:id/adjust", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input struct {
			QtyDelta decimal.Decimal `json:"qty_delta" validate:"required"`
			Reason   string          `json:"reason" validate:"required"`
		}
		if !bindAndValidate(c, &input) {
			return
		}
		batch, err := models.AdjustFinishedGoodsQuantity(c.Request.Context(), id, input.QtyDelta, input.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, batch)
	})
}

func registerSalesRoutes(api *gin.RouterGroup) {
	api.GET("/sales", func(c *gin.Context) {
		orders, err := models.GetSalesOrders(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, orders)
	})
	api.POST("/sales", func(c *gin.Context) {
		var input models.NewSalesOrder
		if !bindAndValidate(c, &input) {
			return
		}
		so, err := models.CreateSalesOrder(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, so)
	})
	api.GET("/sales/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		so, err := models.GetSalesOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, so)
	})
	api.POST("/sales/:id/confirm", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		so, err := models.ConfirmSalesOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, so)
	})
	api.POST("/sales/:id/fulfill", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "sales_fulfillment")
		defer span.End()
		so, err := models.FulfillSalesOrder(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, so)
	})
	api.POST("/sales/:id/cancel", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		so, err := models.CancelSalesOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, so)
	})
	api.POST("/sales/:id/payments", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input models.NewPayment
		if !bindAndValidate(c, &input) {
			return
		}
		so, err := models.RecordPayment(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"order":    so,
			"overpaid": so.PaidAmount.GreaterThan(so.TotalAmount),
		})
	})
	api.GET("/sales/:id/payments", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		payments, err := models.GetPaymentsForOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, payments)
	})
	api.DELETE("/sales/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		so, err := models.DeleteSalesOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, so)
	})
}

func registerOpsRoutes(r *gin.Engine, logger *logrus.Logger) {
	// Ops tooling (admin only): repair cells from the audit log and spot drift.
	r.POST("/internal/ops/inventory/rebuild", func(c *gin.Context) {
		repaired, err := workflow.RebuildInventoryFromLogs(c.Request.Context(), logger)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"repaired": repaired, "repaired_count": len(repaired)})
	})
	r.GET("/internal/ops/inventory/consistency", func(c *gin.Context) {
		mismatches, err := workflow.CheckLedgerConsistency(c.Request.Context(), logger)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"mismatches": mismatches, "mismatch_count": len(mismatches)})
	})
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// customErrorLogger logs only requests that accumulated gin errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server before the DB is ready; app routes return 503
	// until the connection retry loop succeeds.
	r := gin.New()
	r.Use(middlewares.RequestContextMiddleware())
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id", "x-username")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api")
	registerRawMaterialRoutes(api)
	registerSupplierRoutes(api)
	registerPurchaseOrderRoutes(api)
	registerInventoryRoutes(api)
	registerBOMRoutes(api)
	registerProductionRoutes(api)
	registerFinishedGoodsRoutes(api)
	registerSalesRoutes(api)
	registerOpsRoutes(r, logger)
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a
	// separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// READ COMMITTED pairs with the explicit FOR UPDATE locks in the stock
	// posting paths.
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<minInt(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port ", port)

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
