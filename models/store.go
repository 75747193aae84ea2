package models

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/mobilemart/pos_backend/config"
	"github.com/mobilemart/pos_backend/utils"
)

type Store struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Prefix    string    `gorm:"size:2;uniqueIndex;not null" json:"prefix" binding:"required"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Address   string    `gorm:"type:text" json:"address"`
	City      string    `gorm:"size:100" json:"city"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStore struct {
	Name    string `json:"name" binding:"required"`
	Prefix  string `json:"prefix" binding:"required"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
}

// sale numbers embed the prefix, so it is a contract: 2 lowercase letters
var storePrefixPattern = regexp.MustCompile(`^[a-z]{2}$`)

// validate input for both create & update. (id = 0 for create)
func (input *NewStore) validate(ctx context.Context, id int) error {
	if !storePrefixPattern.MatchString(input.Prefix) {
		return errors.New("prefix must be exactly 2 lowercase letters")
	}
	if err := utils.ValidateUnique[Store](ctx, "name", input.Name, id); err != nil {
		return err
	}
	if err := utils.ValidateUnique[Store](ctx, "prefix", input.Prefix, id); err != nil {
		return err
	}
	return nil
}

func CreateStore(ctx context.Context, input *NewStore) (*Store, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	store := Store{
		Name:     input.Name,
		Prefix:   input.Prefix,
		Phone:    input.Phone,
		Address:  input.Address,
		City:     input.City,
		IsActive: utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&store).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}

func UpdateStore(ctx context.Context, id int, input *NewStore) (*Store, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	store, err := utils.FetchModel[Store](ctx, id)
	if err != nil {
		return nil, ErrStoreNotFound
	}

	store.Name = input.Name
	store.Prefix = input.Prefix
	store.Phone = input.Phone
	store.Address = input.Address
	store.City = input.City

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(store).Error; err != nil {
		return nil, err
	}
	return store, nil
}

func GetStore(ctx context.Context, id int) (*Store, error) {
	store, err := utils.FetchModel[Store](ctx, id)
	if err != nil {
		return nil, ErrStoreNotFound
	}
	return store, nil
}

func GetStores(ctx context.Context) ([]*Store, error) {
	return utils.FetchAllModels[Store](ctx)
}
