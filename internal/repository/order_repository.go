package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/counterline/pos-core/internal/model"
)

type OrderRepository interface {
	// Создать или полностью заменить изменяемые поля заказа вместе с позициями.
	// Пересчитывает SyncStatus по правилу из UpsertSyncStatus и ставит UpdatedAt.
	Upsert(ctx context.Context, order *model.OrderRecord) error
	// Заказ по ID с позициями.
	GetByID(ctx context.Context, id string) (*model.OrderRecord, error)
	// Активный заказ слота: самый свежий по UpdatedAt среди active,
	// неоплаченный либо оплаченный с хотя бы одной неоплаченной позицией.
	// Завершённый заказ не возвращается никогда.
	GetActiveForSlot(ctx context.Context, slotID string) (*model.OrderRecord, error)
	// Заказ для открытия в редакторе: строго active.
	GetForEditing(ctx context.Context, slotID string) (*model.OrderRecord, error)
	// Завершение заказа. SyncStatus не трогает.
	MarkCompleted(ctx context.Context, id string) error
	// Жёсткое удаление — только для пустого черновика.
	Remove(ctx context.Context, id string) error
	// Чистка осиротевших активных записей. Возвращает число удалённых.
	CleanupOrphanedActive(ctx context.Context, slots []model.Slot) (int, error)
	// Ретеншн: удалить завершённые заказы со старым DateBucket.
	PurgeOlderThan(ctx context.Context, dateBucket string) (int64, error)
	// Кандидаты на выгрузку: paid и pending|failed, старые первыми.
	ListEligibleForSync(ctx context.Context) ([]model.OrderRecord, error)
	// Обновить статус выгрузки и счётчик попыток.
	UpdateSync(ctx context.Context, id string, status model.SyncStatus, attempts int) error
	// Вернуть оплаченные заказы, зависшие в syncing, обратно в pending.
	ResetStuckSyncing(ctx context.Context) (int64, error)
	// Число заказов, ожидающих выгрузки или проваливших её (бейдж оператора).
	CountPendingSync(ctx context.Context) (int64, error)
	// Число заказов за день — для выдачи следующего номера.
	CountByDateBucket(ctx context.Context, dateBucket string) (int64, error)
}

// Реализация на GORM.
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// UpsertSyncStatus — правило пересчёта статуса выгрузки при записи заказа:
// уже выгруженный и оставшийся оплаченным остаётся synced; переход
// unpaid→paid делает заказ кандидатом (pending); иначе статус сохраняется.
func UpsertSyncStatus(prev *model.OrderRecord, next *model.OrderRecord) model.SyncStatus {
	if prev == nil {
		return model.SyncStatusPending
	}
	if prev.SyncStatus == model.SyncStatusSynced && next.PaymentStatus == model.PaymentStatusPaid {
		return model.SyncStatusSynced
	}
	if prev.PaymentStatus == model.PaymentStatusUnpaid && next.PaymentStatus == model.PaymentStatusPaid {
		return model.SyncStatusPending
	}
	return prev.SyncStatus
}

func (r *GormOrderRepository) Upsert(ctx context.Context, order *model.OrderRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev model.OrderRecord
		err := tx.First(&prev, "id = ?", order.ID).Error
		switch {
		case err == nil:
			order.SyncStatus = UpsertSyncStatus(&prev, order)
			order.SyncAttempts = prev.SyncAttempts
			order.CreatedAt = prev.CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			order.SyncStatus = UpsertSyncStatus(nil, order)
			if order.CreatedAt.IsZero() {
				order.CreatedAt = time.Now().UTC()
			}
		default:
			return err
		}

		order.UpdatedAt = time.Now().UTC()

		// Позиции заменяются целиком: запись всегда полная, частичных
		// применений не бывает (последняя запись выигрывает).
		if err := tx.Where("order_id = ?", order.ID).Delete(&model.LineItem{}).Error; err != nil {
			return err
		}
		items := order.Items
		order.Items = nil
		err = tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(order).Error
		order.Items = items
		if err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.Create(&items[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormOrderRepository) GetByID(ctx context.Context, id string) (*model.OrderRecord, error) {
	var order model.OrderRecord
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *GormOrderRepository) GetActiveForSlot(ctx context.Context, slotID string) (*model.OrderRecord, error) {
	var orders []model.OrderRecord
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("slot_id = ?", slotID).
		Where("lifecycle_status = ?", model.LifecycleStatusActive).
		Order("updated_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	// Несколько активных записей на слот — аномалия данных; берём самую
	// свежую, остальные подберёт чистка осиротевших.
	for i := range orders {
		o := &orders[i]
		if o.PaymentStatus == model.PaymentStatusUnpaid || o.HasUnpaidItems() {
			return o, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *GormOrderRepository) GetForEditing(ctx context.Context, slotID string) (*model.OrderRecord, error) {
	var order model.OrderRecord
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("slot_id = ?", slotID).
		Where("lifecycle_status = ?", model.LifecycleStatusActive).
		Order("updated_at DESC").
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *GormOrderRepository) MarkCompleted(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.OrderRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"lifecycle_status": model.LifecycleStatusCompleted,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *GormOrderRepository) Remove(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&model.LineItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.OrderRecord{}, "id = ?", id).Error
	})
}

func (r *GormOrderRepository) CleanupOrphanedActive(ctx context.Context, slots []model.Slot) (int, error) {
	byID := make(map[string]*model.Slot, len(slots))
	for i := range slots {
		byID[slots[i].ID.String()] = &slots[i]
	}

	var active []model.OrderRecord
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("lifecycle_status = ?", model.LifecycleStatusActive).
		Find(&active).Error
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := range active {
		o := &active[i]
		if !orphaned(o, byID) {
			continue
		}
		if err := r.Remove(ctx, o.ID.String()); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// orphaned — активная запись осиротела, если её слот не существует, либо
// слот свободен и запись пуста, либо слот занят другим заказом. Свободный
// слот с непустой записью — валидный черновик, его не трогаем.
func orphaned(o *model.OrderRecord, slots map[string]*model.Slot) bool {
	if o.SlotID == nil {
		return len(o.Items) == 0
	}
	slot, ok := slots[o.SlotID.String()]
	if !ok {
		return true
	}
	switch slot.Status {
	case model.SlotStatusAvailable:
		return len(o.Items) == 0
	case model.SlotStatusProcessing:
		return slot.ActiveOrderID == nil || *slot.ActiveOrderID != o.ID
	}
	return false
}

func (r *GormOrderRepository) PurgeOlderThan(ctx context.Context, dateBucket string) (int64, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.OrderRecord{}).
		Where("lifecycle_status = ?", model.LifecycleStatusCompleted).
		Where("date_bucket < ?", dateBucket).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id IN ?", ids).Delete(&model.LineItem{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&model.OrderRecord{}).Error
	})
	return int64(len(ids)), err
}

func (r *GormOrderRepository) ListEligibleForSync(ctx context.Context) ([]model.OrderRecord, error) {
	var orders []model.OrderRecord
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("payment_status = ?", model.PaymentStatusPaid).
		Where("sync_status IN ?", []model.SyncStatus{model.SyncStatusPending, model.SyncStatusFailed}).
		Order("updated_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *GormOrderRepository) UpdateSync(ctx context.Context, id string, status model.SyncStatus, attempts int) error {
	// UpdateColumns, а не Updates: бухгалтерия выгрузки не должна
	// трогать UpdatedAt, по которому решается конфликт с бэкендом.
	return r.db.WithContext(ctx).
		Model(&model.OrderRecord{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"sync_status":   status,
			"sync_attempts": attempts,
		}).Error
}

func (r *GormOrderRepository) ResetStuckSyncing(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.OrderRecord{}).
		Where("payment_status = ?", model.PaymentStatusPaid).
		Where("sync_status = ?", model.SyncStatusSyncing).
		UpdateColumn("sync_status", model.SyncStatusPending)
	return res.RowsAffected, res.Error
}

func (r *GormOrderRepository) CountPendingSync(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.OrderRecord{}).
		Where("payment_status = ?", model.PaymentStatusPaid).
		Where("sync_status IN ?", []model.SyncStatus{model.SyncStatusPending, model.SyncStatusFailed}).
		Count(&total).Error
	return total, err
}

func (r *GormOrderRepository) CountByDateBucket(ctx context.Context, dateBucket string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.OrderRecord{}).
		Where("date_bucket = ?", dateBucket).
		Count(&total).Error
	return total, err
}
