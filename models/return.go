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

type Return struct {
	ID             int             `gorm:"primary_key" json:"id"`
	Serial         string          `gorm:"size:100;index;not null" json:"serial"`
	SaleId         int             `gorm:"index;not null" json:"sale_id"`
	SaleLineItemId int             `gorm:"index;not null" json:"sale_line_item_id"`
	ProductId      int             `gorm:"index;not null" json:"product_id"`
	RefundAmount   decimal.Decimal `gorm:"type:decimal(20,4)" json:"refund_amount"`
	Reason         string          `gorm:"size:255" json:"reason"`
	Status         ReturnStatus    `gorm:"size:20;index" json:"status"`
	RequestedBy    int             `json:"requested_by"`
	ResolvedBy     int             `json:"resolved_by"`
	ResolvedAt     *time.Time      `json:"resolved_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewReturn struct {
	Serial string          `json:"serial" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// ExtraExpense is an optional additional cost attached to a restock
// resolution, e.g. a repair charge on the way back to the shelf.
type ExtraExpense struct {
	Category ExpenseCategory `json:"category" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	StoreId  int             `json:"store_id" binding:"required"`
	Remark   string          `json:"remark"`
}

// RequestReturn opens a pending return for a sold serialized unit. The
// unit is identified by its serial on the sale line items. One line can
// only ever have one return per serial; without that guard a second
// pending row would refund the same physical unit twice.
func RequestReturn(ctx context.Context, input *NewReturn) (*Return, error) {
	item, err := findLineItemBySerial(ctx, input.Serial)
	if err != nil {
		return nil, err
	}
	count, err := utils.ResourceCountWhere[Return](ctx, "sale_line_item_id = ? AND serial = ?", item.ID, input.Serial)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrDuplicateSerial
	}

	// Refund defaults to what the customer actually paid for the line.
	amount := input.Amount
	if amount.LessThanOrEqual(decimal.Zero) {
		amount = item.LineTotal
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	ret := &Return{
		Serial:         input.Serial,
		SaleId:         item.SaleId,
		SaleLineItemId: item.ID,
		ProductId:      item.ProductId,
		RefundAmount:   amount,
		Reason:         input.Reason,
		Status:         ReturnStatusPending,
		RequestedBy:    userId,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(ret).Error; err != nil {
		return nil, translateDBError(err)
	}
	return ret, nil
}

// ResolveReturnToStock puts the unit back into the acting user's store
// and refunds the customer: credit the serial, reduce the sale total,
// clear the sold line's serial, record a refund expense.
func ResolveReturnToStock(ctx context.Context, returnId int, actingUserId int) (*Return, error) {
	return resolveReturn(ctx, returnId, actingUserId, ReturnStatusStock, nil)
}

// ResolveReturnConfirmed closes the return without restocking; the unit
// stays out (written off, sent to the supplier). The refund side is the
// same as the stock path.
func ResolveReturnConfirmed(ctx context.Context, returnId int, actingUserId int) (*Return, error) {
	return resolveReturn(ctx, returnId, actingUserId, ReturnStatusConfirmed, nil)
}

// ResolveReturnToStockWithExpense is the stock resolution plus one
// extra expense committed in the same transaction.
func ResolveReturnToStockWithExpense(ctx context.Context, returnId int, actingUserId int, extra *ExtraExpense) (*Return, error) {
	return resolveReturn(ctx, returnId, actingUserId, ReturnStatusStock, extra)
}

func resolveReturn(ctx context.Context, returnId int, actingUserId int, target ReturnStatus, extra *ExtraExpense) (*Return, error) {
	logger := config.GetLogger()
	moduleName := "Return"
	functionName := "resolveReturn"

	store, err := GetUserStore(ctx, actingUserId)
	if err != nil {
		return nil, err
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

	var ret Return
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ret, returnId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReturnNotFound
		}
		return nil, translateDBError(err)
	}
	if ret.Status != ReturnStatusPending {
		return nil, ErrInvalidState
	}

	// The line must still carry the serial. A duplicate pending row left
	// over after another return already refunded this unit would
	// otherwise pass the per-row status check.
	var item SaleLineItem
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, ret.SaleLineItemId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSaleItemNotFound
		}
		return nil, translateDBError(err)
	}
	if item.Serial != ret.Serial {
		return nil, ErrInvalidState
	}

	docRef := FormatReturnRef(ret.ID)
	if target == ReturnStatusStock {
		err = CreditStock(tx, ctx, StockDocTypeReturn, docRef, ret.ProductId, store.ID, decimal.NewFromInt(1), []string{ret.Serial})
		if err != nil {
			if !errors.Is(err, ErrDuplicateSerial) {
				config.LogError(logger, moduleName, functionName, "restocking "+docRef, ret, err)
			}
			return nil, err
		}
	}

	// The refund adjusts the sale total; the line item keeps its price
	// history but loses the serial so the unit can be sold again.
	var sale Sale
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sale, ret.SaleId).Error
	if err != nil {
		return nil, translateDBError(err)
	}
	err = tx.Model(&Sale{}).Where("id = ?", sale.ID).
		Update("total_amount", sale.TotalAmount.Sub(ret.RefundAmount)).Error
	if err != nil {
		return nil, translateDBError(err)
	}
	err = tx.Model(&SaleLineItem{}).Where("id = ?", ret.SaleLineItemId).
		Update("serial", "").Error
	if err != nil {
		return nil, translateDBError(err)
	}

	refund := &Expense{
		StoreId:   store.ID,
		Category:  ExpenseCategoryRefund,
		Amount:    ret.RefundAmount,
		Reference: docRef,
		Remark:    "refund for serial " + ret.Serial,
		CreatedBy: actingUserId,
	}
	if err := tx.Create(refund).Error; err != nil {
		return nil, translateDBError(err)
	}
	if extra != nil {
		expense := &Expense{
			StoreId:   extra.StoreId,
			Category:  extra.Category,
			Amount:    extra.Amount,
			Reference: docRef,
			Remark:    extra.Remark,
			CreatedBy: actingUserId,
		}
		if err := tx.Create(expense).Error; err != nil {
			return nil, translateDBError(err)
		}
	}

	now := time.Now()
	err = tx.Model(&Return{}).Where("id = ?", ret.ID).Updates(map[string]interface{}{
		"status":      target,
		"resolved_by": actingUserId,
		"resolved_at": now,
	}).Error
	if err != nil {
		return nil, translateDBError(err)
	}
	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, moduleName, functionName, "committing "+docRef, ret, err)
		return nil, translateDBError(err)
	}

	ret.Status = target
	ret.ResolvedBy = actingUserId
	ret.ResolvedAt = &now
	return &ret, nil
}

func GetReturn(ctx context.Context, id int) (*Return, error) {
	return utils.FetchModel[Return](ctx, id)
}

func GetReturns(ctx context.Context, status ReturnStatus, limit int, offset int) ([]*Return, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	db := config.GetDB().WithContext(ctx)
	if status != "" {
		db = db.Where("status = ?", status)
	}
	var returns []*Return
	err := db.Order("id DESC").Limit(limit).Offset(offset).Find(&returns).Error
	if err != nil {
		return nil, err
	}
	return returns, nil
}
