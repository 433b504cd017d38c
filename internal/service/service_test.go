package service

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/counterline/pos-core/internal/event"
	"github.com/counterline/pos-core/internal/model"
	"github.com/counterline/pos-core/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := model.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testEnv struct {
	db        *gorm.DB
	slotRepo  repository.SlotRepository
	orderRepo repository.OrderRepository
	eventRepo repository.EventRepository
	bus       *event.Bus
	slots     *SlotService
	cart      *CartService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	logger := log.New(io.Discard, "", 0)
	slotRepo := repository.NewGormSlotRepository(db)
	orderRepo := repository.NewGormOrderRepository(db)
	eventRepo := repository.NewGormEventRepository(db)
	bus := event.NewBus()

	slots := NewSlotService(slotRepo, orderRepo, bus, logger, 10, 20)
	alloc := NewNumberAllocator(orderRepo)
	cart := NewCartService(orderRepo, eventRepo, slots, alloc, bus, logger, 0)

	return &testEnv{
		db:        db,
		slotRepo:  slotRepo,
		orderRepo: orderRepo,
		eventRepo: eventRepo,
		bus:       bus,
		slots:     slots,
		cart:      cart,
	}
}

// makeSlots создаёт статический пул из n слотов dine-in: D1..Dn.
func (e *testEnv) makeSlots(t *testing.T, n int) []model.Slot {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		slot := NewSlot(model.SlotCategoryDineIn, i, false)
		if err := e.slotRepo.Create(ctx, slot); err != nil {
			t.Fatalf("create slot %d: %v", i, err)
		}
	}
	slots, err := e.slotRepo.ListByCategory(ctx, model.SlotCategoryDineIn)
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	return slots
}

func (e *testEnv) slotByName(t *testing.T, name string) *model.Slot {
	t.Helper()
	slots, err := e.slotRepo.ListByCategory(context.Background(), model.SlotCategoryDineIn)
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	for i := range slots {
		if slots[i].Name == name {
			return &slots[i]
		}
	}
	t.Fatalf("slot %s not found", name)
	return nil
}
