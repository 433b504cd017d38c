package model

import (
	"time"

	"github.com/google/uuid"
)

// Статус сервисного слота.
type SlotStatus string

const (
	SlotStatusAvailable  SlotStatus = "available"
	SlotStatusProcessing SlotStatus = "processing"
)

// Категория слота (тип обслуживания).
type SlotCategory string

const (
	SlotCategoryDineIn   SlotCategory = "dine_in"
	SlotCategoryTakeAway SlotCategory = "take_away"
	SlotCategoryDelivery SlotCategory = "delivery"
)

// Срочность занятого слота по прошедшему времени.
type SlotUrgency string

const (
	SlotUrgencyFresh   SlotUrgency = "fresh"
	SlotUrgencyWarning SlotUrgency = "warning"
	SlotUrgencyOverdue SlotUrgency = "overdue"
)

// slots — сервисные позиции терминала (стол / стойка / линия доставки).
// ID стабилен на всё время жизни слота; DisplayNumber задаёт только порядок в списке.
type Slot struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name          string       `gorm:"type:varchar(16);not null"`
	DisplayNumber int          `gorm:"not null;index:idx_slots_category_order"`
	Category      SlotCategory `gorm:"type:varchar(16);not null;index:idx_slots_category_order;index:idx_slots_category_status"`
	Status        SlotStatus   `gorm:"type:varchar(16);not null;default:'available';index:idx_slots_category_status"`

	// Динамически созданный слот можно явно удалить; слоты статического пула — нет.
	Dynamic bool `gorm:"not null;default:false"`

	ActiveOrderID *uuid.UUID `gorm:"type:uuid;index"`
	PaymentMethod string     `gorm:"type:varchar(32)"`
	PaymentStatus string     `gorm:"type:varchar(16)"`

	StartedAt *time.Time

	// Производные поля, пересчитываются тикером; хранятся ради рендера списков.
	ElapsedSeconds int64       `gorm:"not null;default:0"`
	Urgency        SlotUrgency `gorm:"type:varchar(16);not null;default:'fresh'"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Occupied — слот занят заказом.
func (s *Slot) Occupied() bool {
	return s.Status == SlotStatusProcessing && s.ActiveOrderID != nil
}

// ElapsedSince пересчитывает прошедшее время и срочность на момент now.
// Пороги в минутах: до warnMin — fresh, до overdueMin — warning, дальше — overdue.
func (s *Slot) ElapsedSince(now time.Time, warnMin, overdueMin int) (int64, SlotUrgency) {
	if s.StartedAt == nil {
		return 0, SlotUrgencyFresh
	}
	secs := int64(now.Sub(*s.StartedAt) / time.Second)
	if secs < 0 {
		secs = 0
	}
	mins := secs / 60
	switch {
	case mins >= int64(overdueMin):
		return secs, SlotUrgencyOverdue
	case mins >= int64(warnMin):
		return secs, SlotUrgencyWarning
	default:
		return secs, SlotUrgencyFresh
	}
}
