package models

import (
	"context"
	"time"

	"github.com/mobilemart/pos_backend/config"
	"github.com/mobilemart/pos_backend/utils"
	"github.com/shopspring/decimal"
)

// StoreStock is the per-store breakdown of a product's aggregate stock.
// Rows are created on the first inbound stock event for a (store,
// product) pair and only the InventoryLedger may change Qty.
type StoreStock struct {
	ID        int             `gorm:"primary_key" json:"id"`
	StoreId   int             `gorm:"uniqueIndex:idx_store_product,priority:1;not null" json:"store_id"`
	ProductId int             `gorm:"uniqueIndex:idx_store_product,priority:2;not null" json:"product_id"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockSerial is one physically-present serialized unit. The unique
// index on Serial is what makes "a serial lives in exactly one store
// set" a database guarantee instead of a convention; a sold or
// in-transit unit simply has no row.
type StockSerial struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Serial    string    `gorm:"size:100;uniqueIndex;not null" json:"serial"`
	ProductId int       `gorm:"index:idx_serial_product_store,priority:1;not null" json:"product_id"`
	StoreId   int       `gorm:"index:idx_serial_product_store,priority:2;not null" json:"store_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// StoreStockView is the read model for one (store, product) row
// including its serial set.
type StoreStockView struct {
	StoreId   int             `json:"store_id"`
	ProductId int             `json:"product_id"`
	Qty       decimal.Decimal `json:"qty"`
	Serials   []string        `json:"serials"`
}

// ProductStockView is the aggregate read model: the product-level
// totals plus the per-store breakdown.
type ProductStockView struct {
	ProductId int               `json:"product_id"`
	Quantity  decimal.Decimal   `json:"quantity"`
	Serials   []string          `json:"serials"`
	Stores    []*StoreStockView `json:"stores"`
}

func storeSerials(ctx context.Context, productId int, storeId int) ([]string, error) {
	db := config.GetDB()
	var serials []string
	err := db.WithContext(ctx).Model(&StockSerial{}).
		Where("product_id = ? AND store_id = ?", productId, storeId).
		Order("serial").
		Pluck("serial", &serials).Error
	if err != nil {
		return nil, err
	}
	return serials, nil
}

// GetProductStock returns the aggregate quantity/serial set and every
// store's share of it.
func GetProductStock(ctx context.Context, productId int) (*ProductStockView, error) {
	product, err := utils.FetchModel[Product](ctx, productId)
	if err != nil {
		return nil, ErrProductNotFound
	}

	db := config.GetDB()
	var aggregate []string
	if err := db.WithContext(ctx).Model(&StockSerial{}).
		Where("product_id = ?", productId).
		Order("serial").
		Pluck("serial", &aggregate).Error; err != nil {
		return nil, err
	}

	var stocks []*StoreStock
	if err := db.WithContext(ctx).
		Where("product_id = ?", productId).
		Order("store_id").
		Find(&stocks).Error; err != nil {
		return nil, err
	}

	view := &ProductStockView{
		ProductId: product.ID,
		Quantity:  product.Quantity,
		Serials:   aggregate,
	}
	for _, stock := range stocks {
		serials, err := storeSerials(ctx, productId, stock.StoreId)
		if err != nil {
			return nil, err
		}
		view.Stores = append(view.Stores, &StoreStockView{
			StoreId:   stock.StoreId,
			ProductId: stock.ProductId,
			Qty:       stock.Qty,
			Serials:   serials,
		})
	}
	return view, nil
}

// GetStoreStocks lists every product stocked at a store.
func GetStoreStocks(ctx context.Context, storeId int) ([]*StoreStockView, error) {
	if err := utils.ValidateResourceId[Store](ctx, storeId); err != nil {
		return nil, ErrStoreNotFound
	}

	db := config.GetDB()
	var stocks []*StoreStock
	if err := db.WithContext(ctx).
		Where("store_id = ?", storeId).
		Order("product_id").
		Find(&stocks).Error; err != nil {
		return nil, err
	}

	views := make([]*StoreStockView, 0, len(stocks))
	for _, stock := range stocks {
		serials, err := storeSerials(ctx, stock.ProductId, storeId)
		if err != nil {
			return nil, err
		}
		views = append(views, &StoreStockView{
			StoreId:   stock.StoreId,
			ProductId: stock.ProductId,
			Qty:       stock.Qty,
			Serials:   serials,
		})
	}
	return views, nil
}
