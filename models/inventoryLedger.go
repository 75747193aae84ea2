package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mobilemart/pos_backend/config"
	"github.com/mobilemart/pos_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryMovement is an append-only audit row. One row per side of a
// ledger operation, so a transfer writes two.
type InventoryMovement struct {
	ID          string          `gorm:"primary_key;size:36" json:"id"`
	DocType     StockDocType    `gorm:"size:2;index:idx_movement_doc,priority:1" json:"doc_type"`
	DocRef      string          `gorm:"size:50;index:idx_movement_doc,priority:2" json:"doc_ref"`
	ProductId   int             `gorm:"index;not null" json:"product_id"`
	StoreId     int             `gorm:"index;not null" json:"store_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4)" json:"qty"`
	SerialList  SerialList      `gorm:"type:text" json:"serial_list"`
	PerformedBy string          `gorm:"size:100" json:"performed_by"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// Qty convention: debits record a negative Qty, credits a positive one,
// so summing movements per (product, store) reproduces StoreStock.Qty.

// lockProduct loads the product row under FOR UPDATE. Ledger operations
// always lock the product first, then store stock rows in ascending
// store id, so concurrent transfers cannot deadlock on each other.
func lockProduct(tx *gorm.DB, ctx context.Context, productId int) (*Product, error) {
	var product Product
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&product, productId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, translateDBError(err)
	}
	return &product, nil
}

// lockStoreStock loads the (store, product) stock row under FOR UPDATE,
// creating a zero row first if none exists so there is always something
// to lock.
func lockStoreStock(tx *gorm.DB, ctx context.Context, storeId int, productId int) (*StoreStock, error) {
	var stock StoreStock
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("store_id = ? AND product_id = ?", storeId, productId).
		First(&stock).Error
	if err == nil {
		return &stock, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, translateDBError(err)
	}

	stock = StoreStock{StoreId: storeId, ProductId: productId, Qty: decimal.Zero}
	if err := tx.WithContext(ctx).Create(&stock).Error; err != nil {
		// Lost the insert race; the row exists now, lock it.
		err2 := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("store_id = ? AND product_id = ?", storeId, productId).
			First(&stock).Error
		if err2 != nil {
			return nil, translateDBError(err)
		}
	}
	return &stock, nil
}

func checkSerialInput(product *Product, qty decimal.Decimal, serials []string) error {
	if !product.IsSerialized() {
		if len(serials) > 0 {
			return ErrInvalidSerial
		}
		return nil
	}
	if !qty.Equal(decimal.NewFromInt(int64(len(serials)))) {
		return ErrInvalidSerial
	}
	seen := make(map[string]bool, len(serials))
	for _, serial := range serials {
		if serial == "" || seen[serial] {
			return ErrInvalidSerial
		}
		seen[serial] = true
	}
	return nil
}

func movementActor(ctx context.Context) string {
	if name, ok := utils.GetUserNameFromContext(ctx); ok {
		return name
	}
	return ""
}

// DebitStock removes qty units (and, for serialized products, the named
// serials) from one store's stock inside the caller's transaction. The
// caller owns commit and rollback; any error here means nothing in the
// transaction should be kept.
func DebitStock(tx *gorm.DB, ctx context.Context, docType StockDocType, docRef string, productId int, storeId int, qty decimal.Decimal, serials []string) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("debit qty must be positive, got %s", qty)
	}

	product, err := lockProduct(tx, ctx, productId)
	if err != nil {
		return err
	}
	if err := checkSerialInput(product, qty, serials); err != nil {
		return err
	}

	if product.Quantity.LessThan(qty) {
		return ErrInsufficientStock
	}

	stock, err := lockStoreStock(tx, ctx, storeId, productId)
	if err != nil {
		return err
	}
	if stock.Qty.LessThan(qty) {
		return ErrInsufficientStock
	}

	if product.IsSerialized() {
		// Every named serial must currently sit in this store's set.
		var count int64
		err := tx.WithContext(ctx).Model(&StockSerial{}).
			Where("product_id = ? AND store_id = ? AND serial IN ?", productId, storeId, serials).
			Count(&count).Error
		if err != nil {
			return translateDBError(err)
		}
		if count != int64(len(serials)) {
			return ErrInvalidSerial
		}
		err = tx.WithContext(ctx).
			Where("product_id = ? AND store_id = ? AND serial IN ?", productId, storeId, serials).
			Delete(&StockSerial{}).Error
		if err != nil {
			return translateDBError(err)
		}
	}

	err = tx.WithContext(ctx).Model(&StoreStock{}).
		Where("id = ?", stock.ID).
		Update("qty", stock.Qty.Sub(qty)).Error
	if err != nil {
		return translateDBError(err)
	}
	err = tx.WithContext(ctx).Model(&Product{}).
		Where("id = ?", product.ID).
		Update("quantity", product.Quantity.Sub(qty)).Error
	if err != nil {
		return translateDBError(err)
	}

	return recordMovement(tx, ctx, docType, docRef, productId, storeId, qty.Neg(), serials)
}

// CreditStock adds qty units (and serials) to one store's stock inside
// the caller's transaction.
func CreditStock(tx *gorm.DB, ctx context.Context, docType StockDocType, docRef string, productId int, storeId int, qty decimal.Decimal, serials []string) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("credit qty must be positive, got %s", qty)
	}

	product, err := lockProduct(tx, ctx, productId)
	if err != nil {
		return err
	}
	if err := checkSerialInput(product, qty, serials); err != nil {
		return err
	}

	stock, err := lockStoreStock(tx, ctx, storeId, productId)
	if err != nil {
		return err
	}

	if product.IsSerialized() {
		for _, serial := range serials {
			row := StockSerial{Serial: serial, ProductId: productId, StoreId: storeId}
			if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
				// The unique index on serial rejects a unit that is
				// already present somewhere, for any product.
				if isDuplicateEntry(err) {
					return ErrDuplicateSerial
				}
				return translateDBError(err)
			}
		}
	}

	err = tx.WithContext(ctx).Model(&StoreStock{}).
		Where("id = ?", stock.ID).
		Update("qty", stock.Qty.Add(qty)).Error
	if err != nil {
		return translateDBError(err)
	}
	err = tx.WithContext(ctx).Model(&Product{}).
		Where("id = ?", product.ID).
		Update("quantity", product.Quantity.Add(qty)).Error
	if err != nil {
		return translateDBError(err)
	}

	return recordMovement(tx, ctx, docType, docRef, productId, storeId, qty, serials)
}

// TransferStock moves qty units between two stores of the same product
// in one atomic step. The product aggregate is untouched; only the two
// store shares change.
func TransferStock(tx *gorm.DB, ctx context.Context, docType StockDocType, docRef string, productId int, fromStoreId int, toStoreId int, qty decimal.Decimal, serials []string) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("transfer qty must be positive, got %s", qty)
	}
	if fromStoreId == toStoreId {
		return fmt.Errorf("transfer source and destination store are the same")
	}

	product, err := lockProduct(tx, ctx, productId)
	if err != nil {
		return err
	}
	if err := checkSerialInput(product, qty, serials); err != nil {
		return err
	}

	// Ascending store id keeps the lock order stable no matter which
	// direction the transfer runs.
	firstStore, secondStore := fromStoreId, toStoreId
	if secondStore < firstStore {
		firstStore, secondStore = secondStore, firstStore
	}
	locked := map[int]*StoreStock{}
	for _, storeId := range []int{firstStore, secondStore} {
		stock, err := lockStoreStock(tx, ctx, storeId, productId)
		if err != nil {
			return err
		}
		locked[storeId] = stock
	}

	source := locked[fromStoreId]
	dest := locked[toStoreId]
	if source.Qty.LessThan(qty) {
		return ErrInsufficientStock
	}

	if product.IsSerialized() {
		var count int64
		err := tx.WithContext(ctx).Model(&StockSerial{}).
			Where("product_id = ? AND store_id = ? AND serial IN ?", productId, fromStoreId, serials).
			Count(&count).Error
		if err != nil {
			return translateDBError(err)
		}
		if count != int64(len(serials)) {
			return ErrInvalidSerial
		}
		err = tx.WithContext(ctx).Model(&StockSerial{}).
			Where("product_id = ? AND store_id = ? AND serial IN ?", productId, fromStoreId, serials).
			Update("store_id", toStoreId).Error
		if err != nil {
			return translateDBError(err)
		}
	}

	err = tx.WithContext(ctx).Model(&StoreStock{}).
		Where("id = ?", source.ID).
		Update("qty", source.Qty.Sub(qty)).Error
	if err != nil {
		return translateDBError(err)
	}
	err = tx.WithContext(ctx).Model(&StoreStock{}).
		Where("id = ?", dest.ID).
		Update("qty", dest.Qty.Add(qty)).Error
	if err != nil {
		return translateDBError(err)
	}

	if err := recordMovement(tx, ctx, docType, docRef, productId, fromStoreId, qty.Neg(), serials); err != nil {
		return err
	}
	return recordMovement(tx, ctx, docType, docRef, productId, toStoreId, qty, serials)
}

func recordMovement(tx *gorm.DB, ctx context.Context, docType StockDocType, docRef string, productId int, storeId int, qty decimal.Decimal, serials []string) error {
	movement := InventoryMovement{
		ID:          uuid.NewString(),
		DocType:     docType,
		DocRef:      docRef,
		ProductId:   productId,
		StoreId:     storeId,
		Qty:         qty,
		SerialList:  serials,
		PerformedBy: movementActor(ctx),
	}
	if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
		return translateDBError(err)
	}
	return nil
}

// GetMovements lists the audit trail for a product, newest first.
func GetMovements(ctx context.Context, productId int, limit int) ([]*InventoryMovement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var movements []*InventoryMovement
	err := config.GetDB().WithContext(ctx).
		Where("product_id = ?", productId).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}
