package models

import (
	"github.com/mobilemart/pos_backend/config"
)

// MigrateTable creates or updates the schema for every model.
func MigrateTable() error {
	db := config.GetDB()
	err := db.AutoMigrate(
		&Store{},
		&User{},
		&Product{},
		&StoreStock{},
		&StockSerial{},
		&InventoryMovement{},
		&Sale{},
		&SaleLineItem{},
		&StockReceipt{},
		&Transfer{},
		&Return{},
		&Expense{},
	)
	if err != nil {
		config.LogError(config.GetLogger(), "Migration", "MigrateTable", "auto migrating schema", nil, err)
		return err
	}
	return nil
}
