package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/counterline/pos-core/internal/backend"
	"github.com/counterline/pos-core/internal/event"
	"github.com/counterline/pos-core/internal/model"
	"github.com/counterline/pos-core/internal/repository"
)

// Pusher — то, что умеет отправить заказ на бэкенд.
type Pusher interface {
	PushOrder(ctx context.Context, payload backend.OrderPayload, force bool) error
}

// SyncService гонит оплаченные заказы на бэкенд: pending → syncing →
// synced | failed, с ретраями и разрешением конфликтов. Неоплаченный
// заказ не выгружается никогда, даже завершённый.
type SyncService struct {
	orders   repository.OrderRepository
	events   repository.EventRepository
	pusher   Pusher
	identity backend.Identity
	bus      *event.Bus
	logger   *log.Logger

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	pause       time.Duration

	mu       sync.Mutex
	draining bool
	online   bool
}

func NewSyncService(
	orders repository.OrderRepository,
	events repository.EventRepository,
	pusher Pusher,
	identity backend.Identity,
	bus *event.Bus,
	logger *log.Logger,
	maxAttempts int,
	backoffBase, backoffCap, pause time.Duration,
) *SyncService {
	return &SyncService{
		orders:      orders,
		events:      events,
		pusher:      pusher,
		identity:    identity,
		bus:         bus,
		logger:      logger,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		pause:       pause,
		online:      true,
	}
}

// Backoff — задержка перед повтором после failure-й неудачи:
// база удваивается и упирается в потолок.
func Backoff(base, ceil time.Duration, failure int) time.Duration {
	if failure < 1 {
		failure = 1
	}
	d := base
	for i := 1; i < failure; i++ {
		d *= 2
		if d >= ceil {
			return ceil
		}
	}
	if d > ceil {
		return ceil
	}
	return d
}

// RecoverInFlight возвращает заказы, зависшие в syncing после нештатного
// завершения посреди выгрузки, обратно в pending. Вызывается один раз
// на старте, до запуска прогонов.
func (s *SyncService) RecoverInFlight(ctx context.Context) {
	n, err := s.orders.ResetStuckSyncing(ctx)
	if err != nil {
		s.logger.Printf("sync: recover in-flight: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("sync: requeued %d order(s) stuck in syncing", n)
	}
}

// SetOnline отмечает переход сети. Переход offline→online немедленно
// запускает прогон очереди.
func (s *SyncService) SetOnline(ctx context.Context, online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	s.mu.Unlock()

	if online && !was {
		s.Drain(ctx)
	}
}

// PendingCount — число заказов в ожидании выгрузки или с проваленной
// выгрузкой; бейдж оператора.
func (s *SyncService) PendingCount(ctx context.Context) int64 {
	n, err := s.orders.CountPendingSync(ctx)
	if err != nil {
		s.logger.Printf("sync: pending count: %v", err)
		return 0
	}
	return n
}

// RetryFailed — ручной повтор: проваленные заказы возвращаются в pending
// со сброшенным счётчиком попыток, затем запускается прогон.
func (s *SyncService) RetryFailed(ctx context.Context) {
	eligible, err := s.orders.ListEligibleForSync(ctx)
	if err != nil {
		s.logger.Printf("sync: retry failed: %v", err)
		return
	}
	for i := range eligible {
		o := &eligible[i]
		if o.SyncStatus != model.SyncStatusFailed {
			continue
		}
		if err := s.orders.UpdateSync(ctx, o.ID.String(), model.SyncStatusPending, 0); err != nil {
			s.logger.Printf("sync: order %s: reset: %v", o.Number, err)
		}
	}
	s.Drain(ctx)
}

// Run крутит периодический прогон до отмены контекста.
func (s *SyncService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Drain(ctx)
		}
	}
}

// Drain обрабатывает очередь строго по одному заказу с паузой между
// запросами. Повторный вызов при живом прогоне — no-op.
func (s *SyncService) Drain(ctx context.Context) {
	s.mu.Lock()
	if s.draining || !s.online {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	eligible, err := s.orders.ListEligibleForSync(ctx)
	if err != nil {
		s.logger.Printf("sync: list eligible: %v", err)
		return
	}

	for i := range eligible {
		o := &eligible[i]
		// Исчерпавшие попытки остаются failed до ручного повтора.
		if o.SyncAttempts >= s.maxAttempts {
			continue
		}
		s.pushOne(ctx, o)
		if i < len(eligible)-1 {
			time.Sleep(s.pause)
		}
	}
}

func (s *SyncService) pushOne(ctx context.Context, o *model.OrderRecord) {
	id := o.ID.String()
	attempts := o.SyncAttempts

	if err := s.orders.UpdateSync(ctx, id, model.SyncStatusSyncing, attempts); err != nil {
		s.logger.Printf("sync: order %s: mark syncing: %v", o.Number, err)
		return
	}
	s.bus.Publish(event.Event{Kind: event.KindSyncChanged, OrderID: id})

	payload := backend.NewOrderPayload(o, s.identity)

	for attempts < s.maxAttempts {
		err := s.pusher.PushOrder(ctx, payload, false)
		if err == nil {
			s.finish(ctx, o, model.SyncStatusSynced, attempts)
			return
		}

		var conflict *backend.ConflictError
		if errors.As(err, &conflict) {
			s.resolveConflict(ctx, o, payload, conflict, attempts)
			return
		}

		var status *backend.StatusError
		if errors.As(err, &status) && !status.Retryable() {
			// 4xx вне 409: терминальный отказ, автоповторов не будет.
			if status.Auth() {
				s.logger.Printf("sync: order %s: auth error %d, not retrying", o.Number, status.Code)
			} else {
				s.logger.Printf("sync: order %s: rejected with %d, not retrying", o.Number, status.Code)
			}
			s.finish(ctx, o, model.SyncStatusFailed, s.maxAttempts)
			return
		}

		// Сеть или 5xx: ретрай с растущей задержкой.
		attempts++
		s.logger.Printf("sync: order %s: attempt %d/%d failed: %v", o.Number, attempts, s.maxAttempts, err)
		if err := s.orders.UpdateSync(ctx, id, model.SyncStatusSyncing, attempts); err != nil {
			s.logger.Printf("sync: order %s: record attempt: %v", o.Number, err)
		}
		if attempts >= s.maxAttempts {
			break
		}
		time.Sleep(Backoff(s.backoffBase, s.backoffCap, attempts))
	}

	s.finish(ctx, o, model.SyncStatusFailed, attempts)
}

// resolveConflict — протокол 409: свежее у бэкенда — принимаем его и
// считаем заказ выгруженным; свежее у нас — принудительная перезапись.
func (s *SyncService) resolveConflict(ctx context.Context, o *model.OrderRecord, payload backend.OrderPayload, conflict *backend.ConflictError, attempts int) {
	if conflict.RemoteUpdatedAt.After(o.UpdatedAt) {
		s.logger.Printf("sync: order %s: remote copy is newer, accepting remote", o.Number)
		s.finish(ctx, o, model.SyncStatusSynced, attempts)
		return
	}

	if err := s.pusher.PushOrder(ctx, payload, true); err != nil {
		// Провал принудительной перезаписи — ручное вмешательство,
		// автоповторов не будет.
		s.logger.Printf("sync: order %s: forced overwrite failed: %v", o.Number, err)
		s.finish(ctx, o, model.SyncStatusFailed, s.maxAttempts)
		return
	}
	s.logger.Printf("sync: order %s: forced overwrite accepted", o.Number)
	s.finish(ctx, o, model.SyncStatusSynced, attempts)
}

func (s *SyncService) finish(ctx context.Context, o *model.OrderRecord, status model.SyncStatus, attempts int) {
	id := o.ID.String()
	if err := s.orders.UpdateSync(ctx, id, status, attempts); err != nil {
		s.logger.Printf("sync: order %s: finish %s: %v", o.Number, status, err)
	}
	s.bus.Publish(event.Event{Kind: event.KindSyncChanged, OrderID: id})

	if status == model.SyncStatusFailed {
		orderID := o.ID
		e := &model.AuditEvent{
			ID:        uuid.New(),
			EventType: model.EventTypeSyncFailed,
			CreatedAt: time.Now().UTC(),
			OrderID:   &orderID,
			Details:   "order " + o.Number + " failed to sync",
		}
		if err := s.events.Create(ctx, e); err != nil {
			s.logger.Printf("audit %s: %v", model.EventTypeSyncFailed, err)
		}
	}
}
