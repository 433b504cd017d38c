package service

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/counterline/pos-core/internal/event"
	"github.com/counterline/pos-core/internal/model"
	"github.com/counterline/pos-core/internal/pricing"
	"github.com/counterline/pos-core/internal/repository"
)

var (
	ErrEmptyOrder       = errors.New("order has no items")
	ErrOrderCompleted   = errors.New("order already completed")
	ErrPaidLineFrozen   = errors.New("paid line is frozen")
	ErrAdjustmentLocked = errors.New("adjustment line is not directly editable")
	ErrNoActiveOrder    = errors.New("no active order for slot")
	ErrOrderPaid        = errors.New("order already paid")
)

// Выбор позиции меню, приходящий от UI-слоя.
type MenuSelection struct {
	MenuItemID string
	Name       string
	BasePrice  float64
}

// CartService держит рабочую корзину на слот и пишет каждое изменение
// насквозь в склад заказов. Изменение оплаченной позиции никогда не
// трогает саму позицию: оформляется корректирующая строка с дельтой.
type CartService struct {
	orders repository.OrderRepository
	events repository.EventRepository
	slots  *SlotService
	alloc  *NumberAllocator
	bus    *event.Bus
	logger *log.Logger

	taxRate float64

	mu     sync.Mutex
	carts  map[string]*model.OrderRecord
	onPaid func()
}

func NewCartService(
	orders repository.OrderRepository,
	events repository.EventRepository,
	slots *SlotService,
	alloc *NumberAllocator,
	bus *event.Bus,
	logger *log.Logger,
	taxRate float64,
) *CartService {
	return &CartService{
		orders:  orders,
		events:  events,
		slots:   slots,
		alloc:   alloc,
		bus:     bus,
		logger:  logger,
		taxRate: taxRate,
		carts:   make(map[string]*model.OrderRecord),
	}
}

// SetOnPaid регистрирует хук, дёргаемый после перехода заказа в paid
// (немедленный прогон выгрузки).
func (c *CartService) SetOnPaid(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPaid = fn
}

// Cart возвращает текущую рабочую корзину слота, поднимая активный
// заказ из склада, если в памяти её ещё нет.
func (c *CartService) Cart(ctx context.Context, slotID string) *model.OrderRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx, slotID)
}

func (c *CartService) loadLocked(ctx context.Context, slotID string) *model.OrderRecord {
	if cart, ok := c.carts[slotID]; ok {
		return cart
	}
	order, err := c.orders.GetForEditing(ctx, slotID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.logger.Printf("cart %s: load: %v", slotID, err)
		}
		return nil
	}
	c.carts[slotID] = order
	return order
}

// AddItem добавляет позицию в корзину. Первая позиция пустой корзины
// синхронно выделяет новый заказ с номером дня.
func (c *CartService) AddItem(ctx context.Context, slotID string, sel MenuSelection, quantity int, mods []model.Modifier, note string) (*model.OrderRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order := c.loadLocked(ctx, slotID)
	if order == nil {
		slot := c.slots.GetSlot(ctx, slotID)
		if slot == nil {
			c.logger.Printf("cart %s: add item: unknown slot", slotID)
			return nil, nil
		}
		now := time.Now().UTC()
		bucket := DateBucket(now)
		number, err := c.alloc.Next(ctx, bucket)
		if err != nil {
			return nil, err
		}
		slotUUID := slot.ID
		order = &model.OrderRecord{
			ID:              uuid.New(),
			Number:          number,
			SlotID:          &slotUUID,
			SlotName:        slot.Name,
			Category:        slot.Category,
			PaymentStatus:   model.PaymentStatusUnpaid,
			LifecycleStatus: model.LifecycleStatusActive,
			SyncStatus:      model.SyncStatusPending,
			DateBucket:      bucket,
			CreatedAt:       now,
		}
		c.carts[slotID] = order
	}
	if order.LifecycleStatus == model.LifecycleStatusCompleted {
		c.logger.Printf("cart %s: add item rejected: order %s completed", slotID, order.Number)
		return order, ErrOrderCompleted
	}

	unitPrice := pricing.UnitPrice(sel.BasePrice, mods)
	encoded, err := model.EncodeModifiers(mods)
	if err != nil {
		return order, err
	}

	// Одинаковая неоплаченная позиция схлопывается в количество.
	merged := false
	for i := range order.Items {
		line := &order.Items[i]
		if line.MenuItemID == sel.MenuItemID && !line.IsPaid && !line.IsAdjustment &&
			line.Note == note && bytes.Equal(line.Modifiers, encoded) {
			line.Quantity += quantity
			total, err := pricing.LineTotal(line.UnitPrice, line.Quantity)
			if err != nil {
				return order, err
			}
			line.LineTotal = total
			merged = true
			break
		}
	}
	if !merged {
		total, err := pricing.LineTotal(unitPrice, quantity)
		if err != nil {
			return order, err
		}
		now := time.Now().UTC()
		order.Items = append(order.Items, model.LineItem{
			ID:         uuid.New(),
			OrderID:    order.ID,
			MenuItemID: sel.MenuItemID,
			Name:       sel.Name,
			BasePrice:  sel.BasePrice,
			UnitPrice:  unitPrice,
			Quantity:   quantity,
			LineTotal:  total,
			Modifiers:  encoded,
			Note:       note,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	return order, c.writeThroughLocked(ctx, slotID, order)
}

// SetQuantity меняет количество неоплаченной позиции. Количество
// оплаченной позиции заморожено.
func (c *CartService) SetQuantity(ctx context.Context, slotID, itemID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	order := c.loadLocked(ctx, slotID)
	if order == nil {
		c.logger.Printf("cart %s: set quantity: no active order", slotID)
		return nil
	}
	line := findLine(order, itemID)
	if line == nil {
		c.logger.Printf("cart %s: set quantity: item %s not found", slotID, itemID)
		return nil
	}
	if line.IsPaid {
		c.logger.Printf("cart %s: set quantity rejected: item %s is paid", slotID, itemID)
		return ErrPaidLineFrozen
	}
	if line.IsAdjustment {
		c.logger.Printf("cart %s: set quantity rejected: item %s is an adjustment", slotID, itemID)
		return ErrAdjustmentLocked
	}
	if quantity <= 0 {
		return c.removeLineLocked(ctx, slotID, order, line)
	}

	total, err := pricing.LineTotal(line.UnitPrice, quantity)
	if err != nil {
		return err
	}
	line.Quantity = quantity
	line.LineTotal = total
	return c.writeThroughLocked(ctx, slotID, order)
}

// SetModifiers меняет модификаторы позиции. Для неоплаченной позиции цена
// пересчитывается на месте. Для оплаченной позиция не трогается: считается
// дельта и создаётся либо обновляется её корректирующая строка.
func (c *CartService) SetModifiers(ctx context.Context, slotID, itemID string, requested []model.Modifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	order := c.loadLocked(ctx, slotID)
	if order == nil {
		c.logger.Printf("cart %s: set modifiers: no active order", slotID)
		return nil
	}
	line := findLine(order, itemID)
	if line == nil {
		c.logger.Printf("cart %s: set modifiers: item %s not found", slotID, itemID)
		return nil
	}
	if line.IsAdjustment {
		c.logger.Printf("cart %s: set modifiers rejected: item %s is an adjustment", slotID, itemID)
		return ErrAdjustmentLocked
	}

	if !line.IsPaid {
		encoded, err := model.EncodeModifiers(requested)
		if err != nil {
			return err
		}
		line.Modifiers = encoded
		line.UnitPrice = pricing.UnitPrice(line.BasePrice, requested)
		total, err := pricing.LineTotal(line.UnitPrice, line.Quantity)
		if err != nil {
			return err
		}
		line.LineTotal = total
		return c.writeThroughLocked(ctx, slotID, order)
	}

	// Оплаченная позиция: дифференциальная корректировка.
	originalMods, err := model.DecodeModifiers(line.OriginalPaidModifiers)
	if err != nil {
		return err
	}
	adj := pricing.ComputeAdjustment(line.BasePrice, line.OriginalPaidUnitPrice, originalMods, requested)
	display, err := model.EncodeModifiers(adj.DisplayModifiers)
	if err != nil {
		return err
	}

	qty := line.Quantity
	lineTotal, err := pricing.LineTotal(adj.PriceDelta, qty)
	if err != nil {
		return err
	}

	if existing := findAdjustmentFor(order, line.ID); existing != nil {
		existing.UnitPrice = adj.PriceDelta
		existing.Quantity = qty
		existing.LineTotal = lineTotal
		existing.Modifiers = display
		existing.UpdatedAt = time.Now().UTC()
		return c.writeThroughLocked(ctx, slotID, order)
	}

	now := time.Now().UTC()
	lineID := line.ID
	order.Items = append(order.Items, model.LineItem{
		ID:             uuid.New(),
		OrderID:        order.ID,
		MenuItemID:     line.MenuItemID,
		Name:           line.Name + " (adjustment)",
		BasePrice:      line.BasePrice,
		UnitPrice:      adj.PriceDelta,
		Quantity:       qty,
		LineTotal:      lineTotal,
		Modifiers:      display,
		IsAdjustment:   true,
		AdjustedItemID: &lineID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	return c.writeThroughLocked(ctx, slotID, order)
}

// RemoveItem убирает неоплаченную позицию. Снятие последней позиции
// неоплаченного заказа сбрасывает черновик целиком.
func (c *CartService) RemoveItem(ctx context.Context, slotID, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	order := c.loadLocked(ctx, slotID)
	if order == nil {
		c.logger.Printf("cart %s: remove item: no active order", slotID)
		return nil
	}
	line := findLine(order, itemID)
	if line == nil {
		c.logger.Printf("cart %s: remove item: item %s not found", slotID, itemID)
		return nil
	}
	if line.IsPaid {
		c.logger.Printf("cart %s: remove item rejected: item %s is paid", slotID, itemID)
		return ErrPaidLineFrozen
	}
	if line.IsAdjustment {
		c.logger.Printf("cart %s: remove item rejected: item %s is an adjustment", slotID, itemID)
		return ErrAdjustmentLocked
	}
	return c.removeLineLocked(ctx, slotID, order, line)
}

func (c *CartService) removeLineLocked(ctx context.Context, slotID string, order *model.OrderRecord, line *model.LineItem) error {
	kept := order.Items[:0]
	for i := range order.Items {
		if order.Items[i].ID != line.ID {
			kept = append(kept, order.Items[i])
		}
	}
	order.Items = kept

	if len(order.Items) == 0 && order.PaymentStatus == model.PaymentStatusUnpaid {
		return c.discardLocked(ctx, slotID, order)
	}
	return c.writeThroughLocked(ctx, slotID, order)
}

// SetCustomer записывает данные клиента в заказ.
func (c *CartService) SetCustomer(ctx context.Context, slotID, name, phone string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	order := c.loadLocked(ctx, slotID)
	if order == nil {
		c.logger.Printf("cart %s: set customer: no active order", slotID)
		return nil
	}
	order.CustomerName = name
	order.CustomerPhone = phone
	return c.writeThroughLocked(ctx, slotID, order)
}

// SetNotes записывает заметки заказа.
func (c *CartService) SetNotes(ctx context.Context, slotID, notes string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	order := c.loadLocked(ctx, slotID)
	if order == nil {
		c.logger.Printf("cart %s: set notes: no active order", slotID)
		return nil
	}
	order.Notes = notes
	return c.writeThroughLocked(ctx, slotID, order)
}

// PlaceOrder ставит заказ на слот: слот занимается, таймер стартует.
func (c *CartService) PlaceOrder(ctx context.Context, slotID, paymentMethod string) error {
	c.mu.Lock()
	order := c.loadLocked(ctx, slotID)
	if order == nil {
		c.mu.Unlock()
		c.logger.Printf("cart %s: place: no active order", slotID)
		return ErrNoActiveOrder
	}
	if len(order.Items) == 0 {
		c.mu.Unlock()
		return ErrEmptyOrder
	}
	order.PaymentMethod = paymentMethod
	if err := c.writeThroughLocked(ctx, slotID, order); err != nil {
		c.mu.Unlock()
		return err
	}
	orderID := order.ID
	number := order.Number
	paymentStatus := order.PaymentStatus
	c.mu.Unlock()

	if err := c.slots.MarkProcessing(ctx, slotID, orderID, paymentMethod, paymentStatus); err != nil {
		return err
	}
	c.audit(ctx, model.EventTypeOrderPlaced, slotID, orderID, "order "+number+" placed")
	return nil
}

// PayOrder фиксирует оплату: каждая неоплаченная строка замораживается
// со снимком цены и модификаторов, заказ становится кандидатом на выгрузку.
func (c *CartService) PayOrder(ctx context.Context, slotID, paymentMethod string) error {
	c.mu.Lock()
	order := c.loadLocked(ctx, slotID)
	if order == nil {
		c.mu.Unlock()
		c.logger.Printf("cart %s: pay: no active order", slotID)
		return ErrNoActiveOrder
	}
	if len(order.Items) == 0 {
		c.mu.Unlock()
		return ErrEmptyOrder
	}

	stampPaidLines(order)
	order.PaymentStatus = model.PaymentStatusPaid
	order.PaymentMethod = paymentMethod
	if err := c.writeThroughLocked(ctx, slotID, order); err != nil {
		c.mu.Unlock()
		return err
	}
	orderID := order.ID
	number := order.Number
	onPaid := c.onPaid
	c.mu.Unlock()

	if err := c.slots.UpdatePayment(ctx, slotID, paymentMethod, model.PaymentStatusPaid); err != nil {
		return err
	}
	c.audit(ctx, model.EventTypeOrderPaid, slotID, orderID, "order "+number+" paid via "+paymentMethod)
	if onPaid != nil {
		onPaid()
	}
	return nil
}

// CompleteOrder завершает заказ. Корзина очищается до записи завершения,
// чтобы поток завершения не возродил черновик; строки замораживаются
// со снимком на момент завершения; SyncStatus записи не сбрасывается.
func (c *CartService) CompleteOrder(ctx context.Context, slotID string) error {
	c.mu.Lock()
	order := c.loadLocked(ctx, slotID)
	if order == nil {
		c.mu.Unlock()
		c.logger.Printf("cart %s: complete: no active order", slotID)
		return ErrNoActiveOrder
	}
	if order.LifecycleStatus == model.LifecycleStatusCompleted {
		c.mu.Unlock()
		c.logger.Printf("cart %s: complete rejected: order %s already completed", slotID, order.Number)
		return ErrOrderCompleted
	}

	// Сначала убираем рабочее состояние.
	delete(c.carts, slotID)

	stampPaidLines(order)
	if err := c.writeThroughLocked(ctx, slotID, order); err != nil {
		c.mu.Unlock()
		return err
	}
	orderID := order.ID
	number := order.Number
	c.mu.Unlock()

	if err := c.orders.MarkCompleted(ctx, orderID.String()); err != nil {
		c.logger.Printf("cart %s: complete: mark completed: %v", slotID, err)
		return err
	}
	if err := c.slots.MarkCompleted(ctx, slotID); err != nil {
		return err
	}
	c.audit(ctx, model.EventTypeOrderCompleted, slotID, orderID, "order "+number+" completed")
	c.bus.Publish(event.Event{Kind: event.KindOrderComplete, SlotID: slotID, OrderID: orderID.String()})
	return nil
}

// DiscardDraft сбрасывает неоплаченный черновик: запись удаляется,
// номер возвращается аллокатору, слот освобождается.
func (c *CartService) DiscardDraft(ctx context.Context, slotID string) error {
	c.mu.Lock()
	order := c.loadLocked(ctx, slotID)
	if order == nil {
		c.mu.Unlock()
		return nil
	}
	if order.PaymentStatus == model.PaymentStatusPaid {
		c.mu.Unlock()
		c.logger.Printf("cart %s: discard rejected: order %s is paid", slotID, order.Number)
		return ErrOrderPaid
	}
	err := c.discardLocked(ctx, slotID, order)
	c.mu.Unlock()
	return err
}

func (c *CartService) discardLocked(ctx context.Context, slotID string, order *model.OrderRecord) error {
	delete(c.carts, slotID)
	if err := c.orders.Remove(ctx, order.ID.String()); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.logger.Printf("cart %s: discard: remove: %v", slotID, err)
			return err
		}
	}
	c.alloc.Release(order.Number, order.DateBucket)
	c.bus.Publish(event.Event{Kind: event.KindOrderChanged, SlotID: slotID, OrderID: order.ID.String()})

	slot := c.slots.GetSlot(ctx, slotID)
	if slot != nil && slot.ActiveOrderID != nil && *slot.ActiveOrderID == order.ID {
		if err := c.slots.MarkAvailable(ctx, slotID); err != nil {
			return err
		}
	}
	c.audit(ctx, model.EventTypeOrderCancelled, slotID, order.ID, "order "+order.Number+" discarded")
	return nil
}

// writeThroughLocked пересчитывает суммы и пишет полную запись заказа.
func (c *CartService) writeThroughLocked(ctx context.Context, slotID string, order *model.OrderRecord) error {
	totals := pricing.ComputeTotals(order.Items, c.taxRate, order.Discount)
	order.Subtotal = totals.Subtotal
	order.Tax = totals.Tax
	order.Total = totals.Total

	if err := c.orders.Upsert(ctx, order); err != nil {
		// Локальное хранилище отказало: работаем дальше на состоянии
		// в памяти, терминал не останавливается.
		c.logger.Printf("cart %s: persist order %s: %v", slotID, order.Number, err)
		return nil
	}
	c.bus.Publish(event.Event{Kind: event.KindOrderChanged, SlotID: slotID, OrderID: order.ID.String()})
	return nil
}

func (c *CartService) audit(ctx context.Context, et model.EventType, slotID string, orderID uuid.UUID, details string) {
	slotUUID, err := uuid.Parse(slotID)
	var slotRef *uuid.UUID
	if err == nil {
		slotRef = &slotUUID
	}
	e := &model.AuditEvent{
		ID:        uuid.New(),
		EventType: et,
		CreatedAt: time.Now().UTC(),
		SlotID:    slotRef,
		OrderID:   &orderID,
		Details:   details,
	}
	if err := c.events.Create(ctx, e); err != nil {
		c.logger.Printf("audit %s: %v", et, err)
	}
}

// stampPaidLines замораживает все строки заказа как оплаченные,
// снимая цену и модификаторы на текущий момент.
func stampPaidLines(order *model.OrderRecord) {
	for i := range order.Items {
		line := &order.Items[i]
		if line.IsPaid {
			continue
		}
		line.IsPaid = true
		line.PaidQuantity = line.Quantity
		line.OriginalPaidUnitPrice = line.UnitPrice
		line.OriginalPaidModifiers = line.Modifiers
	}
}

func findLine(order *model.OrderRecord, itemID string) *model.LineItem {
	for i := range order.Items {
		if order.Items[i].ID.String() == itemID {
			return &order.Items[i]
		}
	}
	return nil
}

func findAdjustmentFor(order *model.OrderRecord, baseLineID uuid.UUID) *model.LineItem {
	for i := range order.Items {
		line := &order.Items[i]
		if line.IsAdjustment && !line.IsPaid &&
			line.AdjustedItemID != nil && *line.AdjustedItemID == baseLineID {
			return line
		}
	}
	return nil
}
