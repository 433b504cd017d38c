package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

// Жизненный цикл заказа.
type LifecycleStatus string

const (
	LifecycleStatusActive    LifecycleStatus = "active"
	LifecycleStatusCompleted LifecycleStatus = "completed"
)

// Статус выгрузки заказа на бэкенд.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// order_records — авторитетная запись заказа. Единственный источник истины
// о составе, клиенте, суммах и статусах; слот хранит лишь ссылку на неё.
type OrderRecord struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	// Человеческий номер заказа для чеков и кухни ("0007").
	Number string `gorm:"type:varchar(8);not null;index"`

	SlotID   *uuid.UUID   `gorm:"type:uuid;index"`
	SlotName string       `gorm:"type:varchar(16)"`
	Category SlotCategory `gorm:"type:varchar(16);not null"`

	Items []LineItem `gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`

	CustomerName  string `gorm:"type:varchar(255)"`
	CustomerPhone string `gorm:"type:varchar(32)"`
	Notes         string `gorm:"type:text"`

	Subtotal float64 `gorm:"not null;default:0"`
	Tax      float64 `gorm:"not null;default:0"`
	Discount float64 `gorm:"not null;default:0"`
	Total    float64 `gorm:"not null;default:0"`

	PaymentStatus   PaymentStatus   `gorm:"type:varchar(16);not null;default:'unpaid';index"`
	PaymentMethod   string          `gorm:"type:varchar(32)"`
	LifecycleStatus LifecycleStatus `gorm:"type:varchar(16);not null;default:'active';index"`

	SyncStatus   SyncStatus `gorm:"type:varchar(16);not null;default:'pending';index"`
	SyncAttempts int        `gorm:"not null;default:0"`

	// Календарный день заказа ("2006-01-02") — ключ ретеншн-очистки.
	DateBucket string `gorm:"type:varchar(10);not null;index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

// Draft — активный неоплаченный заказ с позициями.
func (o *OrderRecord) Draft() bool {
	return o.LifecycleStatus == LifecycleStatusActive &&
		o.PaymentStatus == PaymentStatusUnpaid &&
		len(o.Items) > 0
}

// HasUnpaidItems — есть ли в заказе хоть одна неоплаченная позиция
// (смешанное состояние оплаты: часть позиций пробита, часть добавлена после).
func (o *OrderRecord) HasUnpaidItems() bool {
	for i := range o.Items {
		if !o.Items[i].IsPaid {
			return true
		}
	}
	return false
}

// line_items — позиции заказа. Оплаченная позиция — финансовый факт:
// её цена, количество и модификаторы заморожены навсегда.
type LineItem struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID uuid.UUID `gorm:"type:uuid;not null;index"`

	MenuItemID string `gorm:"type:varchar(64);not null"`
	Name       string `gorm:"type:varchar(255);not null"`

	// Цена позиции меню без модификаторов; нужна для пересчёта
	// при смене модификаторов.
	BasePrice float64 `gorm:"not null"`

	UnitPrice float64 `gorm:"not null"`
	Quantity  int     `gorm:"not null"`
	LineTotal float64 `gorm:"not null"`

	Modifiers datatypes.JSON `gorm:"type:json"`
	Note      string         `gorm:"type:text"`

	IsPaid                bool           `gorm:"not null;default:false"`
	PaidQuantity          int            `gorm:"not null;default:0"`
	OriginalPaidUnitPrice float64        `gorm:"not null;default:0"`
	OriginalPaidModifiers datatypes.JSON `gorm:"type:json"`

	// Системная корректирующая позиция (доплата при изменении оплаченной).
	IsAdjustment   bool       `gorm:"not null;default:false"`
	AdjustedItemID *uuid.UUID `gorm:"type:uuid;index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
