package models

import (
	"context"
	"errors"
	"time"

	"github.com/mobilemart/pos_backend/config"
	"github.com/mobilemart/pos_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Transfer struct {
	ID            int             `gorm:"primary_key" json:"id"`
	ProductId     int             `gorm:"index;not null" json:"product_id"`
	SourceStoreId int             `gorm:"index;not null" json:"source_store_id"`
	DestStoreId   int             `gorm:"index;not null" json:"dest_store_id"`
	Qty           decimal.Decimal `gorm:"type:decimal(20,4)" json:"qty"`
	Serials       SerialList      `gorm:"type:text" json:"serials"`
	Status        TransferStatus  `gorm:"size:20;index" json:"status"`
	CreatedBy     int             `json:"created_by"`
	ReceivedBy    int             `json:"received_by"`
	ReceivedAt    *time.Time      `json:"received_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	// Filled on creation so the caller sees both sides' new balances.
	SourceQty decimal.Decimal `gorm:"-" json:"source_qty"`
	DestQty   decimal.Decimal `gorm:"-" json:"dest_qty"`
}

type NewTransfer struct {
	ProductId     int             `json:"product_id" binding:"required"`
	SourceStoreId int             `json:"source_store_id" binding:"required"`
	DestStoreId   int             `json:"dest_store_id" binding:"required"`
	Qty           decimal.Decimal `json:"qty" binding:"required"`
	Serials       []string        `json:"serials"`
}

func (input *NewTransfer) validate(ctx context.Context) error {
	if err := utils.ValidateResourceId[Store](ctx, input.SourceStoreId); err != nil {
		return ErrStoreNotFound
	}
	if err := utils.ValidateResourceId[Store](ctx, input.DestStoreId); err != nil {
		return ErrStoreNotFound
	}
	if err := utils.ValidateResourceId[Product](ctx, input.ProductId); err != nil {
		return ErrProductNotFound
	}
	return nil
}

// CreateTransfer moves stock between two stores. The ledger move and
// the transfer document commit together, so a transfer row in the table
// always means the stock already sits at the destination; the
// subsequent receive is an acknowledgment, not a second move.
func CreateTransfer(ctx context.Context, input *NewTransfer) (*Transfer, error) {
	logger := config.GetLogger()
	moduleName := "Transfer"
	functionName := "CreateTransfer"

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	unlock, err := utils.ObtainProductLock(ctx, input.ProductId, moduleName, functionName)
	if err == nil {
		defer unlock()
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	transfer := &Transfer{
		ProductId:     input.ProductId,
		SourceStoreId: input.SourceStoreId,
		DestStoreId:   input.DestStoreId,
		Qty:           input.Qty,
		Serials:       input.Serials,
		Status:        TransferStatusSending,
		CreatedBy:     userId,
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

	if err := tx.Create(transfer).Error; err != nil {
		config.LogError(logger, moduleName, functionName, "creating transfer document", input, err)
		return nil, translateDBError(err)
	}

	docRef := FormatTransferRef(transfer.ID)
	err = TransferStock(tx, ctx, StockDocTypeTransfer, docRef, input.ProductId, input.SourceStoreId, input.DestStoreId, input.Qty, input.Serials)
	if err != nil {
		if !errors.Is(err, ErrInsufficientStock) && !errors.Is(err, ErrInvalidSerial) {
			config.LogError(logger, moduleName, functionName, "moving stock for "+docRef, input, err)
		}
		return nil, err
	}

	var source, dest StoreStock
	if err := tx.Where("store_id = ? AND product_id = ?", input.SourceStoreId, input.ProductId).First(&source).Error; err != nil {
		return nil, translateDBError(err)
	}
	if err := tx.Where("store_id = ? AND product_id = ?", input.DestStoreId, input.ProductId).First(&dest).Error; err != nil {
		return nil, translateDBError(err)
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, moduleName, functionName, "committing "+docRef, input, err)
		return nil, translateDBError(err)
	}

	transfer.SourceQty = source.Qty
	transfer.DestQty = dest.Qty
	return transfer, nil
}

// ReceiveTransfer marks a sending transfer as received at the
// destination. Replaying a received transfer is rejected; the stock
// itself moved when the transfer was created.
func ReceiveTransfer(ctx context.Context, id int) (*Transfer, error) {
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	if err := tx.Exec("SET innodb_lock_wait_timeout = 5").Error; err != nil {
		return nil, err
	}

	var transfer Transfer
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&transfer, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, translateDBError(err)
	}
	if transfer.Status != TransferStatusSending {
		return nil, ErrInvalidState
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	now := time.Now()
	err = tx.Model(&transfer).Updates(map[string]interface{}{
		"status":      TransferStatusReceived,
		"received_by": userId,
		"received_at": now,
	}).Error
	if err != nil {
		return nil, translateDBError(err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, translateDBError(err)
	}

	transfer.Status = TransferStatusReceived
	transfer.ReceivedBy = userId
	transfer.ReceivedAt = &now
	return &transfer, nil
}

func GetTransfer(ctx context.Context, id int) (*Transfer, error) {
	return utils.FetchModel[Transfer](ctx, id)
}

func GetTransfers(ctx context.Context, storeId int, limit int, offset int) ([]*Transfer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	db := config.GetDB().WithContext(ctx)
	if storeId > 0 {
		db = db.Where("source_store_id = ? OR dest_store_id = ?", storeId, storeId)
	}
	var transfers []*Transfer
	err := db.Order("id DESC").Limit(limit).Offset(offset).Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}
