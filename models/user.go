package models

import (
	"context"
	"time"

	"github.com/mobilemart/pos_backend/config"
	"github.com/mobilemart/pos_backend/utils"
)

// User is the store directory entry: every acting user (cashier,
// manager) belongs to exactly one store, and that store decides where
// sales debit from and where returned units are restocked.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Username  string    `gorm:"size:100;uniqueIndex;not null" json:"username" binding:"required"`
	StoreId   int       `gorm:"index;not null" json:"store_id" binding:"required"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Store *Store `gorm:"foreignKey:StoreId" json:"store,omitempty"`
}

type NewUser struct {
	Name     string `json:"name" binding:"required"`
	Username string `json:"username" binding:"required"`
	StoreId  int    `json:"store_id" binding:"required"`
}

func (input *NewUser) validate(ctx context.Context, id int) error {
	if err := utils.ValidateUnique[User](ctx, "username", input.Username, id); err != nil {
		return err
	}
	if err := utils.ValidateResourceId[Store](ctx, input.StoreId); err != nil {
		return ErrStoreNotFound
	}
	return nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	user := User{
		Name:     input.Name,
		Username: input.Username,
		StoreId:  input.StoreId,
		IsActive: utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	user, err := utils.FetchModel[User](ctx, id, "Store")
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return user, nil
}

// GetUserStore resolves userId -> store (-> prefix). The user directory
// is the only way processors learn which store they act on.
func GetUserStore(ctx context.Context, userId int) (*Store, error) {
	user, err := utils.FetchModel[User](ctx, userId)
	if err != nil {
		return nil, ErrStoreNotFound
	}
	store, err := utils.FetchModel[Store](ctx, user.StoreId)
	if err != nil {
		return nil, ErrStoreNotFound
	}
	return store, nil
}
