package models

import (
	"context"
	"errors"
	"time"

	"github.com/mobilemart/pos_backend/config"
	"github.com/mobilemart/pos_backend/utils"
	"github.com/shopspring/decimal"
)

// StockReceipt documents inbound stock from a supplier.
type StockReceipt struct {
	ID         int             `gorm:"primary_key" json:"id"`
	StoreId    int             `gorm:"index;not null" json:"store_id"`
	ProductId  int             `gorm:"index;not null" json:"product_id"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4)" json:"qty"`
	Serials    SerialList      `gorm:"type:text" json:"serials"`
	UnitCost   decimal.Decimal `gorm:"type:decimal(20,4)" json:"unit_cost"`
	Supplier   string          `gorm:"size:100" json:"supplier"`
	ReceivedBy int             `json:"received_by"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewStockReceipt struct {
	StoreId   int             `json:"store_id" binding:"required"`
	ProductId int             `json:"product_id" binding:"required"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
	Serials   []string        `json:"serials"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Supplier  string          `json:"supplier"`
}

// ReceiveStock credits inbound units to a store. First inbound event
// for a (store, product) pair creates the stock row on the way.
func ReceiveStock(ctx context.Context, input *NewStockReceipt) (*StockReceipt, error) {
	logger := config.GetLogger()
	moduleName := "StockReceipt"
	functionName := "ReceiveStock"

	if err := utils.ValidateResourceId[Store](ctx, input.StoreId); err != nil {
		return nil, ErrStoreNotFound
	}
	if err := utils.ValidateResourceId[Product](ctx, input.ProductId); err != nil {
		return nil, ErrProductNotFound
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	receipt := &StockReceipt{
		StoreId:    input.StoreId,
		ProductId:  input.ProductId,
		Qty:        input.Qty,
		Serials:    input.Serials,
		UnitCost:   input.UnitCost,
		Supplier:   input.Supplier,
		ReceivedBy: userId,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()
	if err := tx.Exec("SET innodb_lock_wait_timeout = 5").Error; err != nil {
		return nil, err
	}

	if err := tx.Create(receipt).Error; err != nil {
		config.LogError(logger, moduleName, functionName, "creating receipt document", input, err)
		return nil, translateDBError(err)
	}

	docRef := FormatReceiptRef(receipt.ID)
	err := CreditStock(tx, ctx, StockDocTypeReceipt, docRef, input.ProductId, input.StoreId, input.Qty, input.Serials)
	if err != nil {
		if !errors.Is(err, ErrDuplicateSerial) && !errors.Is(err, ErrInvalidSerial) {
			config.LogError(logger, moduleName, functionName, "crediting stock for "+docRef, input, err)
		}
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, moduleName, functionName, "committing "+docRef, input, err)
		return nil, translateDBError(err)
	}
	return receipt, nil
}
