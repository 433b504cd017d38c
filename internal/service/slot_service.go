package service

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/counterline/pos-core/internal/config"
	"github.com/counterline/pos-core/internal/event"
	"github.com/counterline/pos-core/internal/model"
	"github.com/counterline/pos-core/internal/repository"
)

// SlotService ведёт состояние сервисных слотов: статусы, таймеры,
// порядок отображения и стартовую сверку со складом заказов.
type SlotService struct {
	slotRepo  repository.SlotRepository
	orderRepo repository.OrderRepository
	bus       *event.Bus
	logger    *log.Logger

	warnMin    int
	overdueMin int

	// Стартовая сверка выполняется ровно один раз; конкурентные вызовы
	// ждут единственный выполняющийся проход, а не запускают свой.
	initMu   sync.Mutex
	initDone bool
	initErr  error
}

func NewSlotService(
	slotRepo repository.SlotRepository,
	orderRepo repository.OrderRepository,
	bus *event.Bus,
	logger *log.Logger,
	warnMin, overdueMin int,
) *SlotService {
	return &SlotService{
		slotRepo:   slotRepo,
		orderRepo:  orderRepo,
		bus:        bus,
		logger:     logger,
		warnMin:    warnMin,
		overdueMin: overdueMin,
	}
}

// GetSlot — чтение слота. Возвращает nil, если слот не найден.
func (s *SlotService) GetSlot(ctx context.Context, slotID string) *model.Slot {
	slot, err := s.slotRepo.GetByID(ctx, slotID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Printf("slot %s: get: %v", slotID, err)
		}
		return nil
	}
	return slot
}

// ListByCategory — слоты категории в порядке DisplayNumber.
func (s *SlotService) ListByCategory(ctx context.Context, category model.SlotCategory) []model.Slot {
	slots, err := s.slotRepo.ListByCategory(ctx, category)
	if err != nil {
		s.logger.Printf("slots %s: list: %v", category, err)
		return nil
	}
	return slots
}

// MarkProcessing занимает слот заказом и запускает таймер с нуля.
// Неизвестный слот — молчаливый no-op с записью в лог.
func (s *SlotService) MarkProcessing(ctx context.Context, slotID string, orderRef uuid.UUID, paymentMethod string, paymentStatus model.PaymentStatus) error {
	slot, err := s.slotRepo.GetByID(ctx, slotID)
	if err != nil {
		s.logger.Printf("slot %s: mark processing: %v", slotID, err)
		return nil
	}

	now := time.Now().UTC()
	slot.Status = model.SlotStatusProcessing
	slot.ActiveOrderID = &orderRef
	slot.PaymentMethod = paymentMethod
	slot.PaymentStatus = string(paymentStatus)
	slot.StartedAt = &now
	slot.ElapsedSeconds = 0
	slot.Urgency = model.SlotUrgencyFresh

	if err := s.slotRepo.Save(ctx, slot); err != nil {
		s.logger.Printf("slot %s: save: %v", slotID, err)
		return err
	}
	s.bus.Publish(event.Event{Kind: event.KindSlotChanged, SlotID: slotID, OrderID: orderRef.String()})
	return nil
}

// MarkAvailable освобождает слот и сдвигает занятые слоты категории
// в начало списка (auto-adjust). Меняются только DisplayNumber, ID — никогда.
func (s *SlotService) MarkAvailable(ctx context.Context, slotID string) error {
	slot, err := s.slotRepo.GetByID(ctx, slotID)
	if err != nil {
		s.logger.Printf("slot %s: mark available: %v", slotID, err)
		return nil
	}

	slot.Status = model.SlotStatusAvailable
	slot.ActiveOrderID = nil
	slot.PaymentMethod = ""
	slot.PaymentStatus = ""
	slot.StartedAt = nil
	slot.ElapsedSeconds = 0
	slot.Urgency = model.SlotUrgencyFresh

	if err := s.slotRepo.Save(ctx, slot); err != nil {
		s.logger.Printf("slot %s: save: %v", slotID, err)
		return err
	}
	s.bus.Publish(event.Event{Kind: event.KindSlotChanged, SlotID: slotID})

	return s.autoAdjust(ctx, slot.Category)
}

// UpdatePayment обновляет платёжные поля занятого слота, не трогая таймер.
func (s *SlotService) UpdatePayment(ctx context.Context, slotID string, paymentMethod string, paymentStatus model.PaymentStatus) error {
	slot, err := s.slotRepo.GetByID(ctx, slotID)
	if err != nil {
		s.logger.Printf("slot %s: update payment: %v", slotID, err)
		return nil
	}
	slot.PaymentMethod = paymentMethod
	slot.PaymentStatus = string(paymentStatus)
	if err := s.slotRepo.Save(ctx, slot); err != nil {
		s.logger.Printf("slot %s: save: %v", slotID, err)
		return err
	}
	s.bus.Publish(event.Event{Kind: event.KindSlotChanged, SlotID: slotID})
	return nil
}

// MarkCompleted эквивалентен MarkAvailable: завершение сразу освобождает
// слот, исторический факт завершения хранит запись заказа.
func (s *SlotService) MarkCompleted(ctx context.Context, slotID string) error {
	return s.MarkAvailable(ctx, slotID)
}

// autoAdjust ставит занятые слоты категории вперёд, свободные — назад,
// сохраняя относительный порядок внутри групп.
func (s *SlotService) autoAdjust(ctx context.Context, category model.SlotCategory) error {
	slots, err := s.slotRepo.ListByCategory(ctx, category)
	if err != nil {
		s.logger.Printf("slots %s: auto-adjust list: %v", category, err)
		return err
	}

	reordered := make([]model.Slot, 0, len(slots))
	for i := range slots {
		if slots[i].Status == model.SlotStatusProcessing {
			reordered = append(reordered, slots[i])
		}
	}
	for i := range slots {
		if slots[i].Status != model.SlotStatusProcessing {
			reordered = append(reordered, slots[i])
		}
	}

	return s.renumber(ctx, category, reordered)
}

// renumber присваивает DisplayNumber 1..N и пишет только изменившиеся слоты.
func (s *SlotService) renumber(ctx context.Context, category model.SlotCategory, ordered []model.Slot) error {
	var changed []model.Slot
	for i := range ordered {
		want := i + 1
		if ordered[i].DisplayNumber != want {
			ordered[i].DisplayNumber = want
			changed = append(changed, ordered[i])
		}
	}
	if len(changed) == 0 {
		return nil
	}
	if err := s.slotRepo.SaveAll(ctx, changed); err != nil {
		s.logger.Printf("slots %s: renumber: %v", category, err)
		return err
	}
	s.bus.Publish(event.Event{Kind: event.KindSlotListMoved})
	return nil
}

// Reposition вручную переставляет занятый слот на позицию target (1..N)
// внутри категории. Свободный слот переставлять нельзя; нарушение —
// no-op с предупреждением в логе.
func (s *SlotService) Reposition(ctx context.Context, slotID string, target int, category model.SlotCategory) error {
	slot, err := s.slotRepo.GetByID(ctx, slotID)
	if err != nil {
		s.logger.Printf("slot %s: reposition: %v", slotID, err)
		return nil
	}
	if slot.Status != model.SlotStatusProcessing {
		s.logger.Printf("slot %s: reposition rejected: slot is not processing", slotID)
		return nil
	}

	slots, err := s.slotRepo.ListByCategory(ctx, category)
	if err != nil {
		s.logger.Printf("slots %s: reposition list: %v", category, err)
		return err
	}
	if target < 1 || target > len(slots) {
		s.logger.Printf("slot %s: reposition rejected: target %d out of range 1..%d", slotID, target, len(slots))
		return nil
	}

	cur := -1
	for i := range slots {
		if slots[i].ID == slot.ID {
			cur = i
			break
		}
	}
	if cur < 0 {
		s.logger.Printf("slot %s: reposition rejected: not in category %s", slotID, category)
		return nil
	}

	moved := slots[cur]
	rest := append(append([]model.Slot{}, slots[:cur]...), slots[cur+1:]...)
	ordered := append(append(append([]model.Slot{}, rest[:target-1]...), moved), rest[target-1:]...)

	return s.renumber(ctx, category, ordered)
}

// CreateDynamic добавляет свободный слот со следующей последовательной
// идентичностью категории.
func (s *SlotService) CreateDynamic(ctx context.Context, category model.SlotCategory) (*model.Slot, error) {
	total, err := s.slotRepo.CountByCategory(ctx, category)
	if err != nil {
		s.logger.Printf("slots %s: count: %v", category, err)
		return nil, err
	}

	slot := NewSlot(category, int(total)+1, true)
	if err := s.slotRepo.Create(ctx, slot); err != nil {
		s.logger.Printf("slots %s: create dynamic: %v", category, err)
		return nil, err
	}
	s.bus.Publish(event.Event{Kind: event.KindSlotListMoved, SlotID: slot.ID.String()})
	return slot, nil
}

// RemoveDynamic удаляет явно созданный динамический слот. Слоты
// статического пула и занятые слоты не удаляются.
func (s *SlotService) RemoveDynamic(ctx context.Context, slotID string) error {
	slot, err := s.slotRepo.GetByID(ctx, slotID)
	if err != nil {
		s.logger.Printf("slot %s: remove: %v", slotID, err)
		return nil
	}
	if !slot.Dynamic || slot.Status == model.SlotStatusProcessing {
		s.logger.Printf("slot %s: remove rejected: dynamic=%v status=%s", slotID, slot.Dynamic, slot.Status)
		return nil
	}
	if err := s.slotRepo.Delete(ctx, slotID); err != nil {
		s.logger.Printf("slot %s: delete: %v", slotID, err)
		return err
	}
	return s.autoAdjust(ctx, slot.Category)
}

// ProvisionPool доводит статический пул слотов до размеров из конфига.
// Идемпотентна: существующие слоты не трогает.
func (s *SlotService) ProvisionPool(ctx context.Context, pool config.SlotPool) error {
	want := map[model.SlotCategory]int{
		model.SlotCategoryDineIn:   pool.DineIn,
		model.SlotCategoryTakeAway: pool.TakeAway,
		model.SlotCategoryDelivery: pool.Delivery,
	}
	for category, n := range want {
		total, err := s.slotRepo.CountByCategory(ctx, category)
		if err != nil {
			return err
		}
		for i := int(total); i < n; i++ {
			slot := NewSlot(category, i+1, false)
			if err := s.slotRepo.Create(ctx, slot); err != nil {
				return err
			}
		}
	}
	return nil
}

// NewSlot строит слот с именем вида "D3" по категории и порядковому номеру.
func NewSlot(category model.SlotCategory, seq int, dynamic bool) *model.Slot {
	prefix := "S"
	switch category {
	case model.SlotCategoryDineIn:
		prefix = "D"
	case model.SlotCategoryTakeAway:
		prefix = "T"
	case model.SlotCategoryDelivery:
		prefix = "L"
	}
	now := time.Now().UTC()
	return &model.Slot{
		ID:            uuid.New(),
		Name:          prefix + strconv.Itoa(seq),
		DisplayNumber: seq,
		Category:      category,
		Status:        model.SlotStatusAvailable,
		Dynamic:       dynamic,
		Urgency:       model.SlotUrgencyFresh,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ReconcileOnStartup сверяет занятые слоты со складом заказов после
// нештатного завершения: слот без записи или с завершённой записью
// возвращается в available. Выполняется один раз под стартовым мьютексом,
// до любых чтений состояния слотов UI-слоем.
func (s *SlotService) ReconcileOnStartup(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initDone {
		return s.initErr
	}
	// Ошибочный проход не закрывает инициализацию: следующий вызов
	// повторит сверку.
	s.initErr = s.reconcile(ctx)
	s.initDone = s.initErr == nil
	return s.initErr
}

func (s *SlotService) reconcile(ctx context.Context) error {
	processing, err := s.slotRepo.ListProcessing(ctx)
	if err != nil {
		return err
	}

	touched := map[model.SlotCategory]bool{}
	for i := range processing {
		slot := &processing[i]
		stale := false
		if !slot.Occupied() {
			stale = true
		} else {
			order, err := s.orderRepo.GetByID(ctx, slot.ActiveOrderID.String())
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				stale = true
			case err != nil:
				return err
			case order.LifecycleStatus == model.LifecycleStatusCompleted:
				stale = true
			}
		}
		if !stale {
			continue
		}

		s.logger.Printf("slot %s: stale processing state, resetting to available", slot.Name)
		slot.Status = model.SlotStatusAvailable
		slot.ActiveOrderID = nil
		slot.PaymentMethod = ""
		slot.PaymentStatus = ""
		slot.StartedAt = nil
		slot.ElapsedSeconds = 0
		slot.Urgency = model.SlotUrgencyFresh
		if err := s.slotRepo.Save(ctx, slot); err != nil {
			return err
		}
		touched[slot.Category] = true
	}

	for category := range touched {
		if err := s.autoAdjust(ctx, category); err != nil {
			return err
		}
	}

	// Заодно подчищаем осиротевшие активные записи заказов.
	slots, err := s.slotRepo.ListAll(ctx)
	if err != nil {
		return err
	}
	removed, err := s.orderRepo.CleanupOrphanedActive(ctx, slots)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Printf("startup: removed %d orphaned active order(s)", removed)
	}
	return nil
}

// Tick пересчитывает таймеры занятых слотов. Без занятых слотов — полный
// no-op: ни записей, ни уведомлений. Слот с неизменившимися значениями
// пропускается, чтобы не устраивать шторм обновлений ниже по течению.
func (s *SlotService) Tick(ctx context.Context) {
	processing, err := s.slotRepo.ListProcessing(ctx)
	if err != nil {
		s.logger.Printf("tick: list processing: %v", err)
		return
	}
	if len(processing) == 0 {
		return
	}

	now := time.Now().UTC()
	for i := range processing {
		slot := &processing[i]
		secs, urgency := slot.ElapsedSince(now, s.warnMin, s.overdueMin)
		if secs == slot.ElapsedSeconds && urgency == slot.Urgency {
			continue
		}
		slot.ElapsedSeconds = secs
		slot.Urgency = urgency
		if err := s.slotRepo.Save(ctx, slot); err != nil {
			s.logger.Printf("tick: slot %s: save: %v", slot.Name, err)
			continue
		}
		s.bus.Publish(event.Event{Kind: event.KindSlotChanged, SlotID: slot.ID.String()})
	}
}
