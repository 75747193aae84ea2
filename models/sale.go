package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mobilemart/pos_backend/config"
	"github.com/mobilemart/pos_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Sale struct {
	ID           int             `gorm:"primary_key" json:"id"`
	SaleNumber   string          `gorm:"size:20;uniqueIndex;not null" json:"sale_number"`
	SequenceNo   int64           `gorm:"index;not null" json:"sequence_no"`
	StoreId      int             `gorm:"index;not null" json:"store_id"`
	Store        *Store          `json:"store,omitempty"`
	UserId       int             `gorm:"index;not null" json:"user_id"`
	SalesPerson  string          `gorm:"size:100" json:"sales_person"`
	CustomerName string          `gorm:"size:100" json:"customer_name"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(20,4)" json:"total_amount"`
	Remark       string          `gorm:"size:255" json:"remark"`
	LineItems    []*SaleLineItem `json:"line_items,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type SaleLineItem struct {
	ID             int             `gorm:"primary_key" json:"id"`
	SaleId         int             `gorm:"index;not null" json:"sale_id"`
	ProductId      int             `gorm:"index;not null" json:"product_id"`
	Qty            decimal.Decimal `gorm:"type:decimal(20,4)" json:"qty"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(20,4)" json:"unit_price"`
	Discount       decimal.Decimal `gorm:"type:decimal(20,4)" json:"discount"`
	LineTotal      decimal.Decimal `gorm:"type:decimal(20,4)" json:"line_total"`
	Serial         string          `gorm:"size:100;index" json:"serial"`
	WarrantyMonths int             `json:"warranty_months"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSaleLine struct {
	ProductId      int             `json:"product_id" binding:"required"`
	Qty            decimal.Decimal `json:"qty" binding:"required"`
	UnitPrice      decimal.Decimal `json:"unit_price" binding:"required"`
	Discount       decimal.Decimal `json:"discount"`
	Serial         string          `json:"serial"`
	WarrantyMonths int             `json:"warranty_months"`
}

type NewSale struct {
	UserId       int            `json:"user_id" binding:"required"`
	SalesPerson  string         `json:"sales_person"`
	CustomerName string         `json:"customer_name"`
	Remark       string         `json:"remark"`
	Lines        []*NewSaleLine `json:"lines" binding:"required,min=1,dive"`
}

// FormatSaleNumber renders a sale number from a store prefix and a
// sequence value. Four digits zero padded; the number grows past four
// digits with the sequence.
func FormatSaleNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s%04d", prefix, seq)
}

func (line *NewSaleLine) total() decimal.Decimal {
	return line.UnitPrice.Mul(line.Qty).Sub(line.Discount)
}

// MakeSale records a checkout: allocates the store-scoped sale number,
// then in one transaction debits every cart line from the acting user's
// store and persists the sale with its line items. On any failure the
// transaction rolls back and stock is untouched.
func MakeSale(ctx context.Context, input *NewSale) (*Sale, error) {
	logger := config.GetLogger()
	moduleName := "Sale"
	functionName := "MakeSale"

	store, err := GetUserStore(ctx, input.UserId)
	if err != nil {
		return nil, err
	}

	for _, line := range input.Lines {
		product, err := utils.FetchModel[Product](ctx, line.ProductId)
		if err != nil {
			return nil, ErrProductNotFound
		}
		if product.IsSerialized() {
			if line.Serial == "" || !line.Qty.Equal(decimal.NewFromInt(1)) {
				return nil, ErrInvalidSerial
			}
		} else if line.Serial != "" {
			return nil, ErrInvalidSerial
		}
	}

	seqNo, err := utils.GetStoreSequence[Sale](ctx, store.ID, store.Prefix)
	if err != nil {
		config.LogError(logger, moduleName, functionName, "allocating sale sequence", input, err)
		return nil, err
	}
	saleNumber := FormatSaleNumber(store.Prefix, seqNo)

	sale := &Sale{
		SaleNumber:   saleNumber,
		SequenceNo:   seqNo,
		StoreId:      store.ID,
		UserId:       input.UserId,
		SalesPerson:  input.SalesPerson,
		CustomerName: input.CustomerName,
		Remark:       input.Remark,
		TotalAmount:  decimal.Zero,
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

	for _, line := range input.Lines {
		var serials []string
		if line.Serial != "" {
			serials = []string{line.Serial}
		}
		err := DebitStock(tx, ctx, StockDocTypeSale, saleNumber, line.ProductId, store.ID, line.Qty, serials)
		if err != nil {
			config.LogError(logger, moduleName, functionName, "debiting stock for "+saleNumber, line, err)
			return nil, err
		}
		lineTotal := line.total()
		sale.LineItems = append(sale.LineItems, &SaleLineItem{
			ProductId:      line.ProductId,
			Qty:            line.Qty,
			UnitPrice:      line.UnitPrice,
			Discount:       line.Discount,
			LineTotal:      lineTotal,
			Serial:         line.Serial,
			WarrantyMonths: line.WarrantyMonths,
		})
		sale.TotalAmount = sale.TotalAmount.Add(lineTotal)
	}

	if err := tx.Create(sale).Error; err != nil {
		config.LogError(logger, moduleName, functionName, "creating sale "+saleNumber, sale, err)
		return nil, translateDBError(err)
	}
	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, moduleName, functionName, "committing sale "+saleNumber, sale, err)
		return nil, translateDBError(err)
	}

	return sale, nil
}

func GetSale(ctx context.Context, id int) (*Sale, error) {
	return utils.FetchModel[Sale](ctx, id, "LineItems", "Store")
}

// GetSales lists sales newest first, optionally scoped to one store.
func GetSales(ctx context.Context, storeId int, limit int, offset int) ([]*Sale, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	db := config.GetDB().WithContext(ctx).Preload("LineItems")
	if storeId > 0 {
		db = db.Where("store_id = ?", storeId)
	}
	var sales []*Sale
	err := db.Order("id DESC").Limit(limit).Offset(offset).Find(&sales).Error
	if err != nil {
		return nil, err
	}
	return sales, nil
}

// findLineItemBySerial locates the most recent sold line carrying a
// serial. Used by the return flow to tie a unit back to its sale.
func findLineItemBySerial(ctx context.Context, serial string) (*SaleLineItem, error) {
	var item SaleLineItem
	err := config.GetDB().WithContext(ctx).
		Where("serial = ?", serial).
		Order("id DESC").
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSaleItemNotFound
		}
		return nil, err
	}
	return &item, nil
}
