package models

import (
	"context"
	"time"

	"github.com/mobilemart/pos_backend/config"
	"github.com/mobilemart/pos_backend/utils"
	"github.com/shopspring/decimal"
)

// Product carries the aggregate side of the two-level stock model: its
// Quantity is the total across all stores and, for serialized products,
// must always equal the number of StockSerial rows of the product.
//
// Serialized is an explicit attribute. Inferring it from the category
// name (the legacy behavior) is brittle and is not done anywhere.
type Product struct {
	ID             int             `gorm:"primary_key" json:"id"`
	Name           string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Sku            string          `gorm:"size:100;uniqueIndex;not null" json:"sku" binding:"required"`
	Category       string          `gorm:"size:100" json:"category"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	WholesalePrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"wholesale_price"`
	Serialized     *bool           `gorm:"not null;default:false" json:"serialized"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Product) IsSerialized() bool {
	return p.Serialized != nil && *p.Serialized
}

type NewProduct struct {
	Name           string          `json:"name" binding:"required"`
	Sku            string          `json:"sku" binding:"required"`
	Category       string          `json:"category"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	WholesalePrice decimal.Decimal `json:"wholesale_price"`
	Serialized     *bool           `json:"serialized"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewProduct) validate(ctx context.Context, id int) error {
	if err := utils.ValidateUnique[Product](ctx, "sku", input.Sku, id); err != nil {
		return err
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	serialized := input.Serialized
	if serialized == nil {
		serialized = utils.NewFalse()
	}

	product := Product{
		Name:           input.Name,
		Sku:            input.Sku,
		Category:       input.Category,
		UnitPrice:      input.UnitPrice,
		WholesalePrice: input.WholesalePrice,
		Serialized:     serialized,
		Quantity:       decimal.Zero,
		IsActive:       utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	_ = utils.RemoveRedisList[Product]()
	return &product, nil
}

func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, ErrProductNotFound
	}

	product.Name = input.Name
	product.Sku = input.Sku
	product.Category = input.Category
	product.UnitPrice = input.UnitPrice
	product.WholesalePrice = input.WholesalePrice
	if input.Serialized != nil {
		product.Serialized = input.Serialized
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(product).Error; err != nil {
		return nil, err
	}
	_ = utils.RemoveRedisList[Product]()
	_ = utils.RemoveRedisItem[Product](id)
	return product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

// GetProducts serves the product list from Redis when cached; writes
// repopulate by invalidation.
func GetProducts(ctx context.Context) ([]*Product, error) {
	products, err := utils.RetrieveRedisList[Product]()
	if err != nil {
		return nil, err
	}
	if products == nil {
		products, err = utils.FetchAllModels[Product](ctx)
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedisList(products); err != nil {
			return nil, err
		}
	}
	return products, nil
}

// DeleteProduct removes the product and cascades to its stock rows and
// serial set. Movements are kept for audit.
func DeleteProduct(ctx context.Context, id int) error {
	if err := utils.ValidateResourceId[Product](ctx, id); err != nil {
		return ErrProductNotFound
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := tx.Where("product_id = ?", id).Delete(&StockSerial{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Where("product_id = ?", id).Delete(&StoreStock{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Delete(&Product{}, id).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}
	_ = utils.RemoveRedisList[Product]()
	_ = utils.RemoveRedisItem[Product](id)
	return nil
}
