package model

import "gorm.io/gorm"

// AutoMigrate выполняет миграцию всех таблиц движка заказов.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Slot{},
		&OrderRecord{},
		&LineItem{},
		&AuditEvent{},
	)
}
