package model

import (
	"time"

	"github.com/google/uuid"
)

// Тип события аудита.
type EventType string

const (
	EventTypeOrderPlaced    EventType = "order_placed"
	EventTypeOrderPaid      EventType = "order_paid"
	EventTypeOrderCompleted EventType = "order_completed"
	EventTypeOrderCancelled EventType = "order_cancelled"
	EventTypeSlotChanged    EventType = "slot_changed"
	EventTypeSyncFailed     EventType = "sync_failed"
)

// audit_events — события аудита. Пишутся best-effort: ошибка записи
// логируется и не останавливает основную операцию.
type AuditEvent struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	EventType EventType `gorm:"type:varchar(64);not null;index"`

	CreatedAt time.Time `gorm:"not null;index"`

	SlotID  *uuid.UUID `gorm:"type:uuid;index"`
	OrderID *uuid.UUID `gorm:"type:uuid;index"`

	Details string `gorm:"type:text"`
}
