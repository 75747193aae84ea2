package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/mobilemart/pos_backend/config"
	"github.com/mobilemart/pos_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Recomputes the denormalized quantity columns from the source of
// truth: serial rows for serialized products, the movement ledger for
// the rest. Run after manual data surgery or a suspected drift.
func main() {
	productID := flag.Int("product-id", 0, "Optional: rebuild one product only")
	dryRun := flag.Bool("dry-run", false, "Report drift without writing")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing products and continue")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := context.Background()
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "rebuild:inventory", 10*time.Minute, nil)
		if err != nil {
			if err == redislock.ErrNotObtained {
				fmt.Fprintln(os.Stderr, "another rebuild is running")
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "obtain lock: %v\n", err)
			os.Exit(1)
		}
		defer lock.Release(ctx)
	}

	var products []*models.Product
	query := db.WithContext(ctx)
	if *productID > 0 {
		query = query.Where("id = ?", *productID)
	}
	if err := query.Find(&products).Error; err != nil {
		fmt.Fprintf(os.Stderr, "load products: %v\n", err)
		os.Exit(1)
	}

	for _, product := range products {
		if err := rebuildProduct(ctx, db, product, *dryRun); err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "product %d failed (skipping): %v\n", product.ID, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "product %d failed: %v\n", product.ID, err)
			os.Exit(1)
		}
	}

	// Cached product lists are stale after a rebuild. Sale sequence
	// counters reseed themselves from the sales table, so a full flush
	// is safe here.
	if !*dryRun {
		if err := config.ClearRedis(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "clear redis cache: %v\n", err)
		}
	}
	fmt.Println("Done.")
}

func rebuildProduct(ctx context.Context, db *gorm.DB, product *models.Product, dryRun bool) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		type storeQty struct {
			StoreId int
			Qty     decimal.Decimal
		}
		var perStore []storeQty
		if product.IsSerialized() {
			err := tx.Raw(`
				SELECT store_id, COUNT(*) AS qty
				FROM stock_serials
				WHERE product_id = ?
				GROUP BY store_id
			`, product.ID).Scan(&perStore).Error
			if err != nil {
				return err
			}
		} else {
			err := tx.Raw(`
				SELECT store_id, COALESCE(SUM(qty), 0) AS qty
				FROM inventory_movements
				WHERE product_id = ?
				GROUP BY store_id
			`, product.ID).Scan(&perStore).Error
			if err != nil {
				return err
			}
		}

		total := decimal.Zero
		truth := make(map[int]decimal.Decimal, len(perStore))
		for _, row := range perStore {
			truth[row.StoreId] = row.Qty
			total = total.Add(row.Qty)
		}

		var stocks []*models.StoreStock
		if err := tx.Where("product_id = ?", product.ID).Find(&stocks).Error; err != nil {
			return err
		}
		seen := map[int]bool{}
		for _, stock := range stocks {
			seen[stock.StoreId] = true
			want, ok := truth[stock.StoreId]
			if !ok {
				want = decimal.Zero
			}
			if stock.Qty.Equal(want) {
				continue
			}
			fmt.Printf("product=%d store=%d qty %s -> %s\n", product.ID, stock.StoreId, stock.Qty, want)
			if dryRun {
				continue
			}
			err := tx.Model(&models.StoreStock{}).Where("id = ?", stock.ID).Update("qty", want).Error
			if err != nil {
				return err
			}
		}
		for storeId, want := range truth {
			if seen[storeId] {
				continue
			}
			fmt.Printf("product=%d store=%d missing stock row, qty %s\n", product.ID, storeId, want)
			if dryRun {
				continue
			}
			row := models.StoreStock{StoreId: storeId, ProductId: product.ID, Qty: want}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if !product.Quantity.Equal(total) {
			fmt.Printf("product=%d aggregate %s -> %s\n", product.ID, product.Quantity, total)
			if !dryRun {
				err := tx.Model(&models.Product{}).Where("id = ?", product.ID).Update("quantity", total).Error
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
}
