// seed-demo seeds two stores, a cashier per store and a small catalog
// for local development.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-demo
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mobilemart/pos_backend/config"
	"github.com/mobilemart/pos_backend/models"
	"github.com/mobilemart/pos_backend/utils"
	"github.com/shopspring/decimal"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if err := models.MigrateTable(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	ctx = utils.SetUserNameInContext(ctx, "Seed")

	stores := []*models.NewStore{
		{Name: "Downtown", Prefix: "dt", Address: "12 Main Street"},
		{Name: "Airport", Prefix: "ap", Address: "Terminal 2 Concourse B"},
	}
	for i, input := range stores {
		store, err := models.CreateStore(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create store %s: %v\n", input.Name, err)
			os.Exit(1)
		}
		user, err := models.CreateUser(ctx, &models.NewUser{
			StoreId:  store.ID,
			Username: fmt.Sprintf("cashier%d", i+1),
			Name:     fmt.Sprintf("Cashier %d", i+1),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "create user for %s: %v\n", store.Name, err)
			os.Exit(1)
		}
		fmt.Printf("store %s (%s) user %s\n", store.Name, store.Prefix, user.Username)
	}

	products := []*models.NewProduct{
		{Sku: "PHN-A54", Name: "Galaxy A54 128GB", Category: "Phones", Serialized: utils.NewTrue(), UnitPrice: decimal.NewFromInt(320), WholesalePrice: decimal.NewFromInt(255)},
		{Sku: "PHN-13C", Name: "Redmi 13C 256GB", Category: "Phones", Serialized: utils.NewTrue(), UnitPrice: decimal.NewFromInt(145), WholesalePrice: decimal.NewFromInt(110)},
		{Sku: "ACC-C2C", Name: "USB-C Cable 1m", Category: "Accessories", Serialized: utils.NewFalse(), UnitPrice: decimal.NewFromInt(4), WholesalePrice: decimal.NewFromInt(1)},
		{Sku: "ACC-TG6", Name: "Tempered Glass 6.1\"", Category: "Accessories", Serialized: utils.NewFalse(), UnitPrice: decimal.NewFromInt(3), WholesalePrice: decimal.NewFromInt(1)},
	}
	for _, input := range products {
		product, err := models.CreateProduct(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create product %s: %v\n", input.Sku, err)
			os.Exit(1)
		}
		fmt.Printf("product %s (%d)\n", product.Sku, product.ID)
	}

	fmt.Println("Done.")
}
