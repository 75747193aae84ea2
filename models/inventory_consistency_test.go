package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mobilemart/pos_backend/config"
	"github.com/mobilemart/pos_backend/models"
	"github.com/mobilemart/pos_backend/utils"
	"github.com/shopspring/decimal"
)

// Spins up throwaway mysql+redis containers and walks the full flow:
// receive serialized stock into two stores, transfer units between
// them, sell a unit, return it to stock and sell it again. Quantities
// and serial sets are checked after every step.
func TestSaleTransferReturnFlow(t *testing.T) {
	ctx := setupIntegrationEnv(t)

	downtown, airport, cashier1, cashier2 := seedStores(t, ctx)
	phone := seedProduct(t, ctx, "PHN-100", true)

	// Downtown holds S1..S3, Airport holds S4..S5.
	receive(t, ctx, downtown.ID, phone.ID, 3, []string{"S1", "S2", "S3"})
	receive(t, ctx, airport.ID, phone.ID, 2, []string{"S4", "S5"})

	assertStock(t, ctx, phone.ID, downtown.ID, 3, []string{"S1", "S2", "S3"})
	assertStock(t, ctx, phone.ID, airport.ID, 2, []string{"S4", "S5"})
	assertAggregate(t, ctx, phone.ID, 5)

	// Move S1+S2 to the airport store.
	transfer, err := models.CreateTransfer(ctx, &models.NewTransfer{
		ProductId:     phone.ID,
		SourceStoreId: downtown.ID,
		DestStoreId:   airport.ID,
		Qty:           decimal.NewFromInt(2),
		Serials:       []string{"S1", "S2"},
	})
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if transfer.Status != models.TransferStatusSending {
		t.Fatalf("expected transfer status sending; got %s", transfer.Status)
	}
	if transfer.SourceQty.Cmp(decimal.NewFromInt(1)) != 0 || transfer.DestQty.Cmp(decimal.NewFromInt(4)) != 0 {
		t.Fatalf("expected updated quantities 1/4; got %s/%s", transfer.SourceQty, transfer.DestQty)
	}
	assertStock(t, ctx, phone.ID, downtown.ID, 1, []string{"S3"})
	assertStock(t, ctx, phone.ID, airport.ID, 4, []string{"S1", "S2", "S4", "S5"})
	assertAggregate(t, ctx, phone.ID, 5)

	// Acknowledge at the destination; replay must be rejected.
	received, err := models.ReceiveTransfer(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("ReceiveTransfer: %v", err)
	}
	if received.Status != models.TransferStatusReceived {
		t.Fatalf("expected transfer status received; got %s", received.Status)
	}
	if _, err := models.ReceiveTransfer(ctx, transfer.ID); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on receive replay; got %v", err)
	}
	// The acknowledgment moves nothing.
	assertStock(t, ctx, phone.ID, airport.ID, 4, []string{"S1", "S2", "S4", "S5"})

	// Cashier 1 sells S3 out of the downtown store.
	sale, err := models.MakeSale(ctx, &models.NewSale{
		UserId: cashier1.ID,
		Lines: []*models.NewSaleLine{
			{ProductId: phone.ID, Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(300), Serial: "S3", WarrantyMonths: 12},
		},
	})
	if err != nil {
		t.Fatalf("MakeSale: %v", err)
	}
	if !strings.HasPrefix(sale.SaleNumber, downtown.Prefix) {
		t.Fatalf("sale number %q should carry store prefix %q", sale.SaleNumber, downtown.Prefix)
	}
	if sale.TotalAmount.Cmp(decimal.NewFromInt(300)) != 0 {
		t.Fatalf("expected total 300; got %s", sale.TotalAmount)
	}
	assertStock(t, ctx, phone.ID, downtown.ID, 0, nil)
	assertAggregate(t, ctx, phone.ID, 4)

	// A serial that was never sold cannot open a return.
	if _, err := models.RequestReturn(ctx, &models.NewReturn{Serial: "S9"}); !errors.Is(err, models.ErrSaleItemNotFound) {
		t.Fatalf("expected ErrSaleItemNotFound; got %v", err)
	}

	// Return S3; cashier 2 restocks it at the airport store.
	ret, err := models.RequestReturn(ctx, &models.NewReturn{Serial: "S3", Reason: "screen flicker"})
	if err != nil {
		t.Fatalf("RequestReturn: %v", err)
	}
	if ret.Status != models.ReturnStatusPending {
		t.Fatalf("expected pending return; got %s", ret.Status)
	}

	// A second request for the same unit while one is pending would
	// line up a double refund.
	if _, err := models.RequestReturn(ctx, &models.NewReturn{Serial: "S3"}); !errors.Is(err, models.ErrDuplicateSerial) {
		t.Fatalf("expected ErrDuplicateSerial on repeated return request; got %v", err)
	}

	fetched, err := models.GetReturn(ctx, ret.ID)
	if err != nil {
		t.Fatalf("GetReturn: %v", err)
	}
	if fetched.Serial != "S3" {
		t.Fatalf("expected return for S3; got %q", fetched.Serial)
	}

	resolved, err := models.ResolveReturnToStock(ctx, ret.ID, cashier2.ID)
	if err != nil {
		t.Fatalf("ResolveReturnToStock: %v", err)
	}
	if resolved.Status != models.ReturnStatusStock {
		t.Fatalf("expected status stock; got %s", resolved.Status)
	}
	assertStock(t, ctx, phone.ID, airport.ID, 5, []string{"S1", "S2", "S3", "S4", "S5"})
	assertAggregate(t, ctx, phone.ID, 5)

	// The refund came off the sale total and the line lost its serial.
	saleAfter, err := models.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if !saleAfter.TotalAmount.IsZero() {
		t.Fatalf("expected sale total 0 after refund; got %s", saleAfter.TotalAmount)
	}
	if saleAfter.LineItems[0].Serial != "" {
		t.Fatalf("expected cleared line serial; got %q", saleAfter.LineItems[0].Serial)
	}
	expenses, err := models.GetExpenses(ctx, airport.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetExpenses: %v", err)
	}
	if len(expenses) != 1 || expenses[0].Category != models.ExpenseCategoryRefund {
		t.Fatalf("expected one refund expense; got %+v", expenses)
	}

	// Both resolution paths are one-shot.
	if _, err := models.ResolveReturnToStock(ctx, ret.ID, cashier2.ID); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on resolve replay; got %v", err)
	}
	if _, err := models.ResolveReturnConfirmed(ctx, ret.ID, cashier2.ID); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on confirm after stock; got %v", err)
	}

	// A stale pending row pointed at an already refunded line (the line
	// serial was cleared above) must not hand out a second refund.
	stale := models.Return{
		Serial:         "S3",
		SaleId:         ret.SaleId,
		SaleLineItemId: ret.SaleLineItemId,
		ProductId:      phone.ID,
		RefundAmount:   ret.RefundAmount,
		Status:         models.ReturnStatusPending,
		RequestedBy:    cashier1.ID,
	}
	if err := config.GetDB().WithContext(ctx).Create(&stale).Error; err != nil {
		t.Fatalf("seeding stale return row: %v", err)
	}
	if _, err := models.ResolveReturnConfirmed(ctx, stale.ID, cashier2.ID); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState resolving stale return; got %v", err)
	}
	expenses, err = models.GetExpenses(ctx, airport.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetExpenses: %v", err)
	}
	if len(expenses) != 1 {
		t.Fatalf("stale return must not add expenses; got %d", len(expenses))
	}

	// S3 is back on a shelf and sellable again.
	sale2, err := models.MakeSale(ctx, &models.NewSale{
		UserId: cashier2.ID,
		Lines: []*models.NewSaleLine{
			{ProductId: phone.ID, Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(280), Serial: "S3"},
		},
	})
	if err != nil {
		t.Fatalf("MakeSale (resold unit): %v", err)
	}
	if sale2.SaleNumber == sale.SaleNumber {
		t.Fatalf("sale numbers must be unique; both %q", sale.SaleNumber)
	}
	if !strings.HasPrefix(sale2.SaleNumber, airport.Prefix) {
		t.Fatalf("sale number %q should carry store prefix %q", sale2.SaleNumber, airport.Prefix)
	}

	// Every step left an audit row: 2 receipts, 2 transfer sides,
	// 2 sales, 1 return credit.
	movements, err := models.GetMovements(ctx, phone.ID, 0)
	if err != nil {
		t.Fatalf("GetMovements: %v", err)
	}
	if len(movements) != 7 {
		t.Fatalf("expected 7 movements; got %d", len(movements))
	}
	sum := decimal.Zero
	for _, m := range movements {
		sum = sum.Add(m.Qty)
	}
	if sum.Cmp(decimal.NewFromInt(4)) != 0 {
		t.Fatalf("movement sum should equal on-hand quantity 4; got %s", sum)
	}
}

func TestDebitFailuresLeaveStockUntouched(t *testing.T) {
	ctx := setupIntegrationEnv(t)

	downtown, _, cashier1, _ := seedStores(t, ctx)
	phone := seedProduct(t, ctx, "PHN-200", true)
	cable := seedProduct(t, ctx, "ACC-200", false)

	receive(t, ctx, downtown.ID, phone.ID, 1, []string{"K1"})
	receive(t, ctx, downtown.ID, cable.ID, 5, nil)

	// More than on hand.
	_, err := models.MakeSale(ctx, &models.NewSale{
		UserId: cashier1.ID,
		Lines: []*models.NewSaleLine{
			{ProductId: cable.ID, Qty: decimal.NewFromInt(8), UnitPrice: decimal.NewFromInt(4)},
		},
	})
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock; got %v", err)
	}

	// Serial from another store's set (none exists).
	_, err = models.MakeSale(ctx, &models.NewSale{
		UserId: cashier1.ID,
		Lines: []*models.NewSaleLine{
			{ProductId: phone.ID, Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(300), Serial: "K9"},
		},
	})
	if !errors.Is(err, models.ErrInvalidSerial) {
		t.Fatalf("expected ErrInvalidSerial; got %v", err)
	}

	// Serialized line without a serial.
	_, err = models.MakeSale(ctx, &models.NewSale{
		UserId: cashier1.ID,
		Lines: []*models.NewSaleLine{
			{ProductId: phone.ID, Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(300)},
		},
	})
	if !errors.Is(err, models.ErrInvalidSerial) {
		t.Fatalf("expected ErrInvalidSerial for missing serial; got %v", err)
	}

	// A multi-line sale is all or nothing: the good cable line must
	// not survive the bad phone line.
	_, err = models.MakeSale(ctx, &models.NewSale{
		UserId: cashier1.ID,
		Lines: []*models.NewSaleLine{
			{ProductId: cable.ID, Qty: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(4)},
			{ProductId: phone.ID, Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(300), Serial: "K9"},
		},
	})
	if !errors.Is(err, models.ErrInvalidSerial) {
		t.Fatalf("expected ErrInvalidSerial; got %v", err)
	}

	assertStock(t, ctx, phone.ID, downtown.ID, 1, []string{"K1"})
	assertStock(t, ctx, cable.ID, downtown.ID, 5, nil)
	assertAggregate(t, ctx, phone.ID, 1)
	assertAggregate(t, ctx, cable.ID, 5)

	var sales int64
	if err := config.GetDB().Model(&models.Sale{}).Count(&sales).Error; err != nil {
		t.Fatalf("count sales: %v", err)
	}
	if sales != 0 {
		t.Fatalf("expected no persisted sales; got %d", sales)
	}

	// Crediting a serial that is already on a shelf is rejected.
	_, err = models.ReceiveStock(ctx, &models.NewStockReceipt{
		StoreId:   downtown.ID,
		ProductId: phone.ID,
		Qty:       decimal.NewFromInt(1),
		Serials:   []string{"K1"},
	})
	if !errors.Is(err, models.ErrDuplicateSerial) {
		t.Fatalf("expected ErrDuplicateSerial; got %v", err)
	}
	assertAggregate(t, ctx, phone.ID, 1)

	// Dropping the product takes its stock rows with it.
	if err := models.DeleteProduct(ctx, cable.ID); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if _, err := models.GetProduct(ctx, cable.ID); !errors.Is(err, models.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound after delete; got %v", err)
	}
	var stocks int64
	if err := config.GetDB().Model(&models.StoreStock{}).Where("product_id = ?", cable.ID).Count(&stocks).Error; err != nil {
		t.Fatalf("count stock rows: %v", err)
	}
	if stocks != 0 {
		t.Fatalf("expected no stock rows for deleted product; got %d", stocks)
	}
}

// Two cashiers race for the last unit; exactly one checkout wins and
// stock never goes negative.
func TestConcurrentLastUnitSale(t *testing.T) {
	ctx := setupIntegrationEnv(t)

	downtown, _, cashier1, _ := seedStores(t, ctx)
	cashier1b, err := models.CreateUser(ctx, &models.NewUser{
		Name:     "Second Cashier",
		Username: "cashier1b",
		StoreId:  downtown.ID,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	phone := seedProduct(t, ctx, "PHN-300", true)
	receive(t, ctx, downtown.ID, phone.ID, 1, []string{"R1"})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, userId := range []int{cashier1.ID, cashier1b.ID} {
		wg.Add(1)
		go func(i, userId int) {
			defer wg.Done()
			_, err := models.MakeSale(ctx, &models.NewSale{
				UserId: userId,
				Lines: []*models.NewSaleLine{
					{ProductId: phone.ID, Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(300), Serial: "R1"},
				},
			})
			results[i] = err
		}(i, userId)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, models.ErrInvalidSerial) &&
			!errors.Is(err, models.ErrInsufficientStock) &&
			!errors.Is(err, models.ErrBusy) {
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning sale; got %d (errors: %v)", wins, results)
	}

	assertStock(t, ctx, phone.ID, downtown.ID, 0, nil)
	assertAggregate(t, ctx, phone.ID, 0)
	var sales int64
	if err := config.GetDB().Model(&models.Sale{}).Count(&sales).Error; err != nil {
		t.Fatalf("count sales: %v", err)
	}
	if sales != 1 {
		t.Fatalf("expected exactly one sale row; got %d", sales)
	}
}

func setupIntegrationEnv(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "mobilemart_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if err := models.MigrateTable(); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

func seedStores(t *testing.T, ctx context.Context) (*models.Store, *models.Store, *models.User, *models.User) {
	t.Helper()
	downtown, err := models.CreateStore(ctx, &models.NewStore{Name: "Downtown", Prefix: "dt"})
	if err != nil {
		t.Fatalf("CreateStore downtown: %v", err)
	}
	airport, err := models.CreateStore(ctx, &models.NewStore{Name: "Airport", Prefix: "ap"})
	if err != nil {
		t.Fatalf("CreateStore airport: %v", err)
	}
	cashier1, err := models.CreateUser(ctx, &models.NewUser{Name: "Cashier One", Username: "cashier1", StoreId: downtown.ID})
	if err != nil {
		t.Fatalf("CreateUser cashier1: %v", err)
	}
	cashier2, err := models.CreateUser(ctx, &models.NewUser{Name: "Cashier Two", Username: "cashier2", StoreId: airport.ID})
	if err != nil {
		t.Fatalf("CreateUser cashier2: %v", err)
	}
	return downtown, airport, cashier1, cashier2
}

func seedProduct(t *testing.T, ctx context.Context, sku string, serialized bool) *models.Product {
	t.Helper()
	flag := utils.NewFalse()
	if serialized {
		flag = utils.NewTrue()
	}
	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Test " + sku,
		Sku:        sku,
		Serialized: flag,
		UnitPrice:  decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("CreateProduct %s: %v", sku, err)
	}
	return product
}

func receive(t *testing.T, ctx context.Context, storeId, productId, qty int, serials []string) {
	t.Helper()
	_, err := models.ReceiveStock(ctx, &models.NewStockReceipt{
		StoreId:   storeId,
		ProductId: productId,
		Qty:       decimal.NewFromInt(int64(qty)),
		Serials:   serials,
	})
	if err != nil {
		t.Fatalf("ReceiveStock store=%d product=%d: %v", storeId, productId, err)
	}
}

func assertStock(t *testing.T, ctx context.Context, productId, storeId, wantQty int, wantSerials []string) {
	t.Helper()
	view, err := models.GetProductStock(ctx, productId)
	if err != nil {
		t.Fatalf("GetProductStock: %v", err)
	}
	var row *models.StoreStockView
	for _, s := range view.Stores {
		if s.StoreId == storeId {
			row = s
		}
	}
	if row == nil {
		if wantQty == 0 && len(wantSerials) == 0 {
			return
		}
		t.Fatalf("no stock row for product=%d store=%d", productId, storeId)
	}
	if row.Qty.Cmp(decimal.NewFromInt(int64(wantQty))) != 0 {
		t.Fatalf("product=%d store=%d qty: want %d, got %s", productId, storeId, wantQty, row.Qty)
	}
	if len(row.Serials) != len(wantSerials) {
		t.Fatalf("product=%d store=%d serials: want %v, got %v", productId, storeId, wantSerials, row.Serials)
	}
	for i := range wantSerials {
		if row.Serials[i] != wantSerials[i] {
			t.Fatalf("product=%d store=%d serials: want %v, got %v", productId, storeId, wantSerials, row.Serials)
		}
	}
}

func assertAggregate(t *testing.T, ctx context.Context, productId, want int) {
	t.Helper()
	view, err := models.GetProductStock(ctx, productId)
	if err != nil {
		t.Fatalf("GetProductStock: %v", err)
	}
	if view.Quantity.Cmp(decimal.NewFromInt(int64(want))) != 0 {
		t.Fatalf("product=%d aggregate: want %d, got %s", productId, want, view.Quantity)
	}
	sum := decimal.Zero
	for _, s := range view.Stores {
		sum = sum.Add(s.Qty)
	}
	if sum.Cmp(view.Quantity) != 0 {
		t.Fatalf("product=%d store quantities sum to %s, aggregate is %s", productId, sum, view.Quantity)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pos-test-redis-%d", time.Now().UnixNano())
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
	// wait until ready
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
	name := fmt.Sprintf("pos-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=mobilemart_test",
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
	// wait until ready
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
	// Example: "127.0.0.1:49154\n"
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
