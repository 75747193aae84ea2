package models

import (
	"context"
	"time"

	"github.com/mobilemart/pos_backend/config"
	"github.com/shopspring/decimal"
)

// Expense records money going out of a store. The return flow writes
// these for refunds; extra categories come from the stock resolution
// endpoint.
type Expense struct {
	ID        int             `gorm:"primary_key" json:"id"`
	StoreId   int             `gorm:"index;not null" json:"store_id"`
	Category  ExpenseCategory `gorm:"size:50;index" json:"category"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	Reference string          `gorm:"size:50" json:"reference"`
	Remark    string          `gorm:"size:255" json:"remark"`
	CreatedBy int             `json:"created_by"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func GetExpenses(ctx context.Context, storeId int, limit int, offset int) ([]*Expense, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	db := config.GetDB().WithContext(ctx)
	if storeId > 0 {
		db = db.Where("store_id = ?", storeId)
	}
	var expenses []*Expense
	err := db.Order("id DESC").Limit(limit).Offset(offset).Find(&expenses).Error
	if err != nil {
		return nil, err
	}
	return expenses, nil
}
