package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mzalendo-mfg/factory_backend/config"
	"github.com/mzalendo-mfg/factory_backend/models"
	"github.com/mzalendo-mfg/factory_backend/utils"
	"github.com/mzalendo-mfg/factory_backend/workflow"
)

// End-to-end ledger flow: receive a purchase order, start and complete a
// production batch against an exploded BOM, fulfill a sales order from
// finished goods and record payments. Every stock movement must keep the
// inventory log in agreement with the cell quantities.
func TestProductionFlow_ReceiveStartCompleteFulfill(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "factory_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUsernameInContext(ctx, "test@local")
	ctx = utils.SetCorrelationIdInContext(ctx, "test-flow")

	flour, err := models.CreateRawMaterial(ctx, &models.NewRawMaterial{
		Code:              "RM001",
		Name:              "Wheat Flour",
		UnitOfMeasure:     "kg",
		MinimumStockLevel: dec("10"),
		ReorderPoint:      dec("20"),
		StandardCost:      dec("5.50"),
	})
	if err != nil {
		t.Fatalf("CreateRawMaterial: %v", err)
	}

	supplier, err := models.CreateSupplier(ctx, &models.NewSupplier{
		Code: "SUP001",
		Name: "Millers Ltd",
	})
	if err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}

	po, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		OrderNumber: "PO-1001",
		SupplierId:  supplier.ID,
		Details: []models.NewPurchaseOrderDetail{
			{MaterialId: flour.ID, QuantityOrdered: dec("30"), UnitPrice: dec("5.50")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}

	receipt, err := models.ReceivePurchaseOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("ReceivePurchaseOrder: %v", err)
	}
	if receipt.Status != models.PurchaseOrderStatusReceived {
		t.Fatalf("expected PO status Received, got %s", receipt.Status)
	}
	stock, err := models.GetAvailableStock(ctx, flour.ID)
	if err != nil {
		t.Fatalf("GetAvailableStock: %v", err)
	}
	if !stock.Equal(dec("30")) {
		t.Fatalf("expected 30 in stock after receipt, got %s", stock.String())
	}

	// Receiving a fully-received order again must fail and post nothing.
	if _, err := models.ReceivePurchaseOrder(ctx, po.ID); models.ErrorKindOf(err) != models.ErrorKindInvalidState {
		t.Fatalf("expected InvalidState on double receive, got %v", err)
	}

	bom, err := models.CreateBOM(ctx, &models.NewBOM{
		BomNumber:   "BOM-001",
		ProductCode: "FP001",
		ProductName: "Bread Loaf",
		Details: []models.NewBOMDetail{
			{MaterialId: flour.ID, QuantityRequired: dec("2.0"), ScrapPercentage: dec("10")},
		},
	})
	if err != nil {
		t.Fatalf("CreateBOM: %v", err)
	}
	if _, err := models.UpdateBOMStatus(ctx, bom.ID, "Active"); err != nil {
		t.Fatalf("UpdateBOMStatus: %v", err)
	}

	batch, err := models.CreateProductionBatch(ctx, &models.NewProductionBatch{
		BatchNumber:     "PB-001",
		BomId:           bom.ID,
		PlannedQuantity: dec("10"),
	})
	if err != nil {
		t.Fatalf("CreateProductionBatch: %v", err)
	}

	// 10 units * 2.0 kg * 1.10 scrap = 22 kg consumed.
	if _, err := models.StartProductionBatch(ctx, batch.ID); err != nil {
		t.Fatalf("StartProductionBatch: %v", err)
	}
	stock, err = models.GetAvailableStock(ctx, flour.ID)
	if err != nil {
		t.Fatalf("GetAvailableStock: %v", err)
	}
	if !stock.Equal(dec("8")) {
		t.Fatalf("expected 8 in stock after start, got %s", stock.String())
	}

	// A second batch needs 22 but only 8 remain: itemized failure, no deduction.
	batch2, err := models.CreateProductionBatch(ctx, &models.NewProductionBatch{
		BatchNumber:     "PB-002",
		BomId:           bom.ID,
		PlannedQuantity: dec("10"),
	})
	if err != nil {
		t.Fatalf("CreateProductionBatch(2): %v", err)
	}
	_, err = models.StartProductionBatch(ctx, batch2.ID)
	if models.ErrorKindOf(err) != models.ErrorKindInsufficientMaterials {
		t.Fatalf("expected InsufficientMaterials, got %v", err)
	}
	shortage, ok := err.(*models.ShortageError)
	if !ok || len(shortage.Shortages) != 1 {
		t.Fatalf("expected one shortage line, got %v", err)
	}
	if !shortage.Shortages[0].Shortage.Equal(dec("14")) {
		t.Fatalf("expected shortage 14, got %s", shortage.Shortages[0].Shortage.String())
	}
	stock, _ = models.GetAvailableStock(ctx, flour.ID)
	if !stock.Equal(dec("8")) {
		t.Fatalf("failed start must not consume stock; got %s", stock.String())
	}

	_, finished, err := models.CompleteProductionBatch(ctx, batch.ID, &models.CompleteProductionBatchInput{
		ActualQuantity:  dec("9"),
		StorageLocation: "FG Store",
	})
	if err != nil {
		t.Fatalf("CompleteProductionBatch: %v", err)
	}
	if finished.ProductCode != "FP001" || !finished.Quantity.Equal(dec("9")) {
		t.Fatalf("unexpected finished goods batch: %+v", finished)
	}

	so, err := models.CreateSalesOrder(ctx, &models.NewSalesOrder{
		OrderNumber:  "SO-001",
		CustomerName: "Corner Bakery",
		Details: []models.NewSalesOrderDetail{
			{ProductCode: "FP001", ProductName: "Bread Loaf", Quantity: dec("5"), UnitPrice: dec("99")},
		},
	})
	if err != nil {
		t.Fatalf("CreateSalesOrder: %v", err)
	}
	if !so.TotalAmount.Equal(dec("495")) {
		t.Fatalf("expected total 495, got %s", so.TotalAmount.String())
	}

	so, err = models.FulfillSalesOrder(ctx, so.ID)
	if err != nil {
		t.Fatalf("FulfillSalesOrder: %v", err)
	}
	if so.Status != models.SalesOrderStatusFulfilled {
		t.Fatalf("expected Fulfilled, got %s", so.Status)
	}

	// 4 loaves remain; ordering 10 must fail itemized with nothing shipped.
	so2, err := models.CreateSalesOrder(ctx, &models.NewSalesOrder{
		OrderNumber:  "SO-002",
		CustomerName: "Hotel Kitchen",
		Details: []models.NewSalesOrderDetail{
			{ProductCode: "FP001", Quantity: dec("10"), UnitPrice: dec("99")},
		},
	})
	if err != nil {
		t.Fatalf("CreateSalesOrder(2): %v", err)
	}
	_, err = models.FulfillSalesOrder(ctx, so2.ID)
	if models.ErrorKindOf(err) != models.ErrorKindInsufficientInventory {
		t.Fatalf("expected InsufficientInventory, got %v", err)
	}

	so, err = models.RecordPayment(ctx, so.ID, &models.NewPayment{
		Amount: dec("200"),
		Method: "mpesa",
	})
	if err != nil {
		t.Fatalf("RecordPayment(200): %v", err)
	}
	if so.PaymentStatus != models.PaymentStatusPartial {
		t.Fatalf("expected Partial after 200/495, got %s", so.PaymentStatus)
	}
	so, err = models.RecordPayment(ctx, so.ID, &models.NewPayment{
		Amount: dec("295"),
		Method: "cash",
	})
	if err != nil {
		t.Fatalf("RecordPayment(295): %v", err)
	}
	if so.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("expected Paid after 495/495, got %s", so.PaymentStatus)
	}
	if !so.PaidAmount.Equal(dec("495")) {
		t.Fatalf("expected paid 495, got %s", so.PaidAmount.String())
	}

	// Fulfilled orders are stock history; deletion must be refused.
	if _, err := models.DeleteSalesOrder(ctx, so.ID); models.ErrorKindOf(err) != models.ErrorKindInvalidState {
		t.Fatalf("expected InvalidState deleting a fulfilled order, got %v", err)
	}

	// After all of the above every cell must still match its log sum.
	mismatches, err := workflow.CheckLedgerConsistency(ctx, nil)
	if err != nil {
		t.Fatalf("CheckLedgerConsistency: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("ledger drifted: %+v", mismatches)
	}
}

func TestInventoryAdjustAndTransfer_KeepLedgerConsistent(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", "")
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "factory_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx = utils.SetUsernameInContext(ctx, "test@local")

	sugar, err := models.CreateRawMaterial(ctx, &models.NewRawMaterial{
		Code:          "RM002",
		Name:          "Sugar",
		UnitOfMeasure: "kg",
	})
	if err != nil {
		t.Fatalf("CreateRawMaterial: %v", err)
	}

	if _, err := models.AdjustInventory(ctx, &models.NewInventoryAdjustment{
		MaterialId:      sugar.ID,
		StorageLocation: "Main Warehouse",
		QtyDelta:        dec("50"),
		Reason:          "opening stock",
	}); err != nil {
		t.Fatalf("AdjustInventory(+50): %v", err)
	}

	// Driving a cell negative must fail without writing anything.
	_, err = models.AdjustInventory(ctx, &models.NewInventoryAdjustment{
		MaterialId:      sugar.ID,
		StorageLocation: "Main Warehouse",
		QtyDelta:        dec("-80"),
		Reason:          "bad count",
	})
	if models.ErrorKindOf(err) != models.ErrorKindInsufficientStock {
		t.Fatalf("expected InsufficientStock, got %v", err)
	}

	if _, err := models.TransferInventory(ctx, &models.NewInventoryTransfer{
		MaterialId:   sugar.ID,
		FromLocation: "Main Warehouse",
		ToLocation:   "Production Floor",
		Quantity:     dec("20"),
	}); err != nil {
		t.Fatalf("TransferInventory: %v", err)
	}

	total, err := models.GetAvailableStock(ctx, sugar.ID)
	if err != nil {
		t.Fatalf("GetAvailableStock: %v", err)
	}
	if !total.Equal(dec("50")) {
		t.Fatalf("transfer must not change total stock; got %s", total.String())
	}
	atFloor, err := models.GetAvailableStockAt(ctx, sugar.ID, "Production Floor", "")
	if err != nil {
		t.Fatalf("GetAvailableStockAt: %v", err)
	}
	if !atFloor.Equal(dec("20")) {
		t.Fatalf("expected 20 at Production Floor, got %s", atFloor.String())
	}

	mismatches, err := workflow.CheckLedgerConsistency(ctx, nil)
	if err != nil {
		t.Fatalf("CheckLedgerConsistency: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("ledger drifted: %+v", mismatches)
	}
}

// Concurrent postings must serialize on the posting locks: a second receipt
// of the same purchase order is rejected instead of double-crediting the
// ledger, and of N simultaneous batch starts only as many succeed as stock
// supports, with no cell ever going negative.
func TestConcurrentPostings_SerializeOnPostingLock(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// No redis: the DB advisory lock must carry serialization on its own.
	t.Setenv("REDIS_ADDRESS", "")
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "factory_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx = utils.SetUsernameInContext(ctx, "test@local")

	resin, err := models.CreateRawMaterial(ctx, &models.NewRawMaterial{
		Code:          "RM003",
		Name:          "Resin",
		UnitOfMeasure: "kg",
	})
	if err != nil {
		t.Fatalf("CreateRawMaterial: %v", err)
	}

	supplier, err := models.CreateSupplier(ctx, &models.NewSupplier{
		Code: "SUP002",
		Name: "Polymer Traders",
	})
	if err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}

	po, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		OrderNumber: "PO-2001",
		SupplierId:  supplier.ID,
		Details: []models.NewPurchaseOrderDetail{
			{MaterialId: resin.ID, QuantityOrdered: dec("30"), UnitPrice: dec("3.25")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}

	// Two racing receives of the same Pending order: one posts, one is told
	// the order is already Received.
	receiveErrs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := models.ReceivePurchaseOrder(ctx, po.ID)
			receiveErrs <- err
		}()
	}
	wg.Wait()
	close(receiveErrs)

	var receiveOk, receiveRejected int
	for err := range receiveErrs {
		switch {
		case err == nil:
			receiveOk++
		case models.ErrorKindOf(err) == models.ErrorKindInvalidState:
			receiveRejected++
		default:
			t.Fatalf("unexpected receive error: %v", err)
		}
	}
	if receiveOk != 1 || receiveRejected != 1 {
		t.Fatalf("expected exactly one receive to post, got ok=%d rejected=%d", receiveOk, receiveRejected)
	}

	stock, err := models.GetAvailableStock(ctx, resin.ID)
	if err != nil {
		t.Fatalf("GetAvailableStock: %v", err)
	}
	if !stock.Equal(dec("30")) {
		t.Fatalf("double receive credited the ledger: expected 30, got %s", stock.String())
	}

	if _, err := models.AdjustInventory(ctx, &models.NewInventoryAdjustment{
		MaterialId:      resin.ID,
		StorageLocation: "Main Warehouse",
		QtyDelta:        dec("5"),
		Reason:          "cycle count",
	}); err != nil {
		t.Fatalf("AdjustInventory(+5): %v", err)
	}

	bom, err := models.CreateBOM(ctx, &models.NewBOM{
		BomNumber:   "BOM-C01",
		ProductCode: "FP002",
		ProductName: "Resin Panel",
		Details: []models.NewBOMDetail{
			{MaterialId: resin.ID, QuantityRequired: dec("1.0")},
		},
	})
	if err != nil {
		t.Fatalf("CreateBOM: %v", err)
	}
	if _, err := models.UpdateBOMStatus(ctx, bom.ID, "Active"); err != nil {
		t.Fatalf("UpdateBOMStatus: %v", err)
	}

	// 35 kg on hand, each batch consumes 10 kg: exactly 3 of 5 may start.
	const batches = 5
	batchIds := make([]int, 0, batches)
	for i := 0; i < batches; i++ {
		batch, err := models.CreateProductionBatch(ctx, &models.NewProductionBatch{
			BatchNumber:     fmt.Sprintf("PB-C%02d", i+1),
			BomId:           bom.ID,
			PlannedQuantity: dec("10"),
		})
		if err != nil {
			t.Fatalf("CreateProductionBatch %d: %v", i+1, err)
		}
		batchIds = append(batchIds, batch.ID)
	}

	startErrs := make(chan error, batches)
	for _, id := range batchIds {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := models.StartProductionBatch(ctx, id)
			startErrs <- err
		}(id)
	}
	wg.Wait()
	close(startErrs)

	var started, short int
	for err := range startErrs {
		switch {
		case err == nil:
			started++
		case models.ErrorKindOf(err) == models.ErrorKindInsufficientMaterials:
			short++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	if started != 3 || short != 2 {
		t.Fatalf("expected 3 starts and 2 shortages, got started=%d short=%d", started, short)
	}

	stock, err = models.GetAvailableStock(ctx, resin.ID)
	if err != nil {
		t.Fatalf("GetAvailableStock: %v", err)
	}
	if !stock.Equal(dec("5")) {
		t.Fatalf("expected 5 kg left after 3 starts, got %s", stock.String())
	}
	if stock.IsNegative() {
		t.Fatalf("stock went negative: %s", stock.String())
	}

	// A batch that started holds consumed materials: it can neither be
	// cancelled nor deleted after the fact.
	for _, id := range batchIds {
		batch, err := models.GetProductionBatch(ctx, id)
		if err != nil {
			t.Fatalf("GetProductionBatch: %v", err)
		}
		if batch.Status != models.ProductionBatchStatusInProgress {
			continue
		}
		if _, err := models.CancelProductionBatch(ctx, id); models.ErrorKindOf(err) != models.ErrorKindInvalidTransition {
			t.Fatalf("cancelling a started batch must fail with InvalidTransition, got %v", err)
		}
		if _, err := models.DeleteProductionBatch(ctx, id); models.ErrorKindOf(err) != models.ErrorKindInvalidState {
			t.Fatalf("deleting a started batch must fail with InvalidState, got %v", err)
		}
		break
	}

	mismatches, err := workflow.CheckLedgerConsistency(ctx, nil)
	if err != nil {
		t.Fatalf("CheckLedgerConsistency: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("ledger drifted under concurrency: %+v", mismatches)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("factory-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("factory-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=factory_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
