package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/counterline/pos-core/internal/model"
)

type SlotRepository interface {
	// Найти слот по ID.
	GetByID(ctx context.Context, id string) (*model.Slot, error)
	// Слоты категории в порядке DisplayNumber.
	ListByCategory(ctx context.Context, category model.SlotCategory) ([]model.Slot, error)
	// Все занятые слоты (для тикера и стартовой сверки).
	ListProcessing(ctx context.Context) ([]model.Slot, error)
	// Все слоты.
	ListAll(ctx context.Context) ([]model.Slot, error)
	// Создать слот.
	Create(ctx context.Context, slot *model.Slot) error
	// Полное сохранение слота.
	Save(ctx context.Context, slot *model.Slot) error
	// Пакетное сохранение (перенумерация категории) одной транзакцией.
	SaveAll(ctx context.Context, slots []model.Slot) error
	// Удалить слот (только динамический, проверяет сервис).
	Delete(ctx context.Context, id string) error
	// Число слотов в категории.
	CountByCategory(ctx context.Context, category model.SlotCategory) (int64, error)
}

// Реализация на GORM.
type GormSlotRepository struct {
	db *gorm.DB
}

func NewGormSlotRepository(db *gorm.DB) *GormSlotRepository {
	return &GormSlotRepository{db: db}
}

func (r *GormSlotRepository) GetByID(ctx context.Context, id string) (*model.Slot, error) {
	var slot model.Slot
	if err := r.db.WithContext(ctx).First(&slot, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *GormSlotRepository) ListByCategory(ctx context.Context, category model.SlotCategory) ([]model.Slot, error) {
	var slots []model.Slot
	err := r.db.WithContext(ctx).
		Where("category = ?", category).
		Order("display_number ASC").
		Find(&slots).Error
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (r *GormSlotRepository) ListProcessing(ctx context.Context) ([]model.Slot, error) {
	var slots []model.Slot
	err := r.db.WithContext(ctx).
		Where("status = ?", model.SlotStatusProcessing).
		Order("category ASC, display_number ASC").
		Find(&slots).Error
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (r *GormSlotRepository) ListAll(ctx context.Context) ([]model.Slot, error) {
	var slots []model.Slot
	err := r.db.WithContext(ctx).
		Order("category ASC, display_number ASC").
		Find(&slots).Error
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (r *GormSlotRepository) Create(ctx context.Context, slot *model.Slot) error {
	return r.db.WithContext(ctx).Create(slot).Error
}

func (r *GormSlotRepository) Save(ctx context.Context, slot *model.Slot) error {
	return r.db.WithContext(ctx).Save(slot).Error
}

func (r *GormSlotRepository) SaveAll(ctx context.Context, slots []model.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range slots {
			if err := tx.Save(&slots[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormSlotRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.Slot{}, "id = ?", id).Error
}

func (r *GormSlotRepository) CountByCategory(ctx context.Context, category model.SlotCategory) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Slot{}).
		Where("category = ?", category).
		Count(&total).Error
	return total, err
}
