package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/counterline/pos-core/internal/backend"
	"github.com/counterline/pos-core/internal/config"
	"github.com/counterline/pos-core/internal/db"
	"github.com/counterline/pos-core/internal/event"
	"github.com/counterline/pos-core/internal/model"
	"github.com/counterline/pos-core/internal/repository"
	"github.com/counterline/pos-core/internal/service"
)

func main() {
	// .env опционален: на терминале конфиг обычно в окружении.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := log.New(os.Stdout, "pos: ", log.LstdFlags)

	gormDB, err := db.NewGormDB(&cfg.DB)
	if err != nil {
		log.Fatalf("init db: %v", err)
	}

	if err := model.AutoMigrate(gormDB); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatalf("sql DB: %v", err)
	}
	defer sqlDB.Close()

	// Репозитории (реализации на GORM).
	slotRepo := repository.NewGormSlotRepository(gormDB)
	orderRepo := repository.NewGormOrderRepository(gormDB)
	eventRepo := repository.NewGormEventRepository(gormDB)

	bus := event.NewBus()

	slotSvc := service.NewSlotService(slotRepo, orderRepo, bus, logger, cfg.UrgencyWarnMin, cfg.UrgencyOverdueMin)
	alloc := service.NewNumberAllocator(orderRepo)
	cartSvc := service.NewCartService(orderRepo, eventRepo, slotSvc, alloc, bus, logger, cfg.TaxRate)

	identity := backend.StaticIdentity{
		Branch:   cfg.BranchID,
		Terminal: cfg.TerminalID,
		Session:  uuid.NewString(),
	}
	client := backend.NewClient(cfg.Sync.BaseURL, cfg.Sync.APIToken)
	syncSvc := service.NewSyncService(
		orderRepo, eventRepo, client, identity, bus, logger,
		cfg.Sync.MaxAttempts, cfg.Sync.BackoffBase, cfg.Sync.BackoffCap, cfg.Sync.Pause,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Пул слотов и стартовая сверка — строго до любых чтений UI.
	if err := slotSvc.ProvisionPool(ctx, cfg.SlotPool); err != nil {
		log.Fatalf("provision slots: %v", err)
	}
	if err := slotSvc.ReconcileOnStartup(ctx); err != nil {
		log.Fatalf("reconcile slots: %v", err)
	}

	// Ретеншн завершённых заказов.
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays).Format("2006-01-02")
	if n, err := orderRepo.PurgeOlderThan(ctx, cutoff); err != nil {
		logger.Printf("retention purge: %v", err)
	} else if n > 0 {
		logger.Printf("retention: purged %d completed order(s) older than %s", n, cutoff)
	}

	// Заказы, зависшие посреди выгрузки, возвращаются в очередь.
	syncSvc.RecoverInFlight(ctx)

	// Оплата заказа сразу дёргает выгрузку.
	cartSvc.SetOnPaid(func() { go syncSvc.Drain(ctx) })

	// Таймер слотов, раз в секунду.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				slotSvc.Tick(ctx)
			}
		}
	}()

	// Периодическая выгрузка.
	if cfg.Sync.BaseURL != "" {
		go syncSvc.Run(ctx, cfg.Sync.Interval)
	}

	logger.Printf("terminal %s (branch %s) ready, %d order(s) pending sync",
		cfg.TerminalID, cfg.BranchID, syncSvc.PendingCount(ctx))

	// Грейсфул-шатдаун по сигналу.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Println("shutting down...")
	cancel()
}
