package service

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/counterline/pos-core/internal/backend"
	"github.com/counterline/pos-core/internal/model"
)

// fakePusher отвечает заготовленными ошибками по очереди; исчерпав
// очередь, отвечает успехом.
type fakePusher struct {
	responses []error
	calls     []backend.OrderPayload
	forced    []bool
}

func (f *fakePusher) PushOrder(_ context.Context, payload backend.OrderPayload, force bool) error {
	f.calls = append(f.calls, payload)
	f.forced = append(f.forced, force)
	if len(f.responses) == 0 {
		return nil
	}
	err := f.responses[0]
	f.responses = f.responses[1:]
	return err
}

func newSyncEnv(t *testing.T, pusher *fakePusher) (*testEnv, *SyncService) {
	t.Helper()
	env := newTestEnv(t)
	identity := backend.StaticIdentity{Branch: "b1", Terminal: "t1", Session: "s1"}
	logger := log.New(io.Discard, "", 0)
	svc := NewSyncService(env.orderRepo, env.eventRepo, pusher, identity, env.bus, logger,
		3, time.Millisecond, 4*time.Millisecond, 0)
	return env, svc
}

func paidOrder(t *testing.T, env *testEnv, number string) *model.OrderRecord {
	t.Helper()
	order := &model.OrderRecord{
		ID:              uuid.New(),
		Number:          number,
		Category:        model.SlotCategoryTakeAway,
		PaymentStatus:   model.PaymentStatusPaid,
		LifecycleStatus: model.LifecycleStatusActive,
		DateBucket:      DateBucket(time.Now()),
		Items: []model.LineItem{{
			ID: uuid.New(), MenuItemID: "m1", Name: "Tea",
			BasePrice: 100, UnitPrice: 100, Quantity: 1, LineTotal: 100,
			IsPaid: true, PaidQuantity: 1, OriginalPaidUnitPrice: 100,
		}},
	}
	if err := env.orderRepo.Upsert(context.Background(), order); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return order
}

func syncState(t *testing.T, env *testEnv, id uuid.UUID) (model.SyncStatus, int) {
	t.Helper()
	stored, err := env.orderRepo.GetByID(context.Background(), id.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return stored.SyncStatus, stored.SyncAttempts
}

func TestDrainPushesPaidOrder(t *testing.T) {
	pusher := &fakePusher{}
	env, svc := newSyncEnv(t, pusher)
	order := paidOrder(t, env, "0001")

	svc.Drain(context.Background())

	if len(pusher.calls) != 1 {
		t.Fatalf("expected 1 push, got %d", len(pusher.calls))
	}
	if pusher.calls[0].Number != "0001" || pusher.calls[0].BranchID != "b1" {
		t.Fatalf("unexpected payload: %+v", pusher.calls[0])
	}
	if status, _ := syncState(t, env, order.ID); status != model.SyncStatusSynced {
		t.Fatalf("expected synced, got %s", status)
	}
}

func TestDrainSkipsUnpaidEvenCompleted(t *testing.T) {
	pusher := &fakePusher{}
	env, svc := newSyncEnv(t, pusher)
	ctx := context.Background()

	order := &model.OrderRecord{
		ID:              uuid.New(),
		Number:          "0002",
		Category:        model.SlotCategoryDineIn,
		PaymentStatus:   model.PaymentStatusUnpaid,
		LifecycleStatus: model.LifecycleStatusActive,
		DateBucket:      DateBucket(time.Now()),
		Items: []model.LineItem{{
			ID: uuid.New(), MenuItemID: "m1", Name: "Tea",
			BasePrice: 100, UnitPrice: 100, Quantity: 1, LineTotal: 100,
		}},
	}
	if err := env.orderRepo.Upsert(ctx, order); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := env.orderRepo.MarkCompleted(ctx, order.ID.String()); err != nil {
		t.Fatalf("complete: %v", err)
	}

	svc.Drain(ctx)

	if len(pusher.calls) != 0 {
		t.Fatalf("unpaid order must never be pushed, got %d calls", len(pusher.calls))
	}
}

func TestServerErrorsExhaustAttempts(t *testing.T) {
	pusher := &fakePusher{responses: []error{
		&backend.StatusError{Code: 500},
		&backend.StatusError{Code: 502},
		&backend.StatusError{Code: 500},
	}}
	env, svc := newSyncEnv(t, pusher)
	order := paidOrder(t, env, "0003")

	svc.Drain(context.Background())

	if len(pusher.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(pusher.calls))
	}
	status, attempts := syncState(t, env, order.ID)
	if status != model.SyncStatusFailed || attempts != 3 {
		t.Fatalf("expected failed/3, got %s/%d", status, attempts)
	}

	// Исчерпавший попытки заказ не трогается автоматическим прогоном.
	svc.Drain(context.Background())
	if len(pusher.calls) != 3 {
		t.Fatalf("exhausted order re-pushed automatically")
	}
}

func TestAuthErrorIsTerminal(t *testing.T) {
	pusher := &fakePusher{responses: []error{&backend.StatusError{Code: 401}}}
	env, svc := newSyncEnv(t, pusher)
	order := paidOrder(t, env, "0004")

	svc.Drain(context.Background())

	if len(pusher.calls) != 1 {
		t.Fatalf("auth failure must not be retried, got %d calls", len(pusher.calls))
	}
	status, attempts := syncState(t, env, order.ID)
	if status != model.SyncStatusFailed || attempts != 3 {
		t.Fatalf("expected failed with attempts at cap, got %s/%d", status, attempts)
	}
}

func TestConflictRemoteNewerAcceptsRemote(t *testing.T) {
	pusher := &fakePusher{responses: []error{
		&backend.ConflictError{RemoteUpdatedAt: time.Now().UTC().Add(time.Hour)},
	}}
	env, svc := newSyncEnv(t, pusher)
	order := paidOrder(t, env, "0005")

	svc.Drain(context.Background())

	if len(pusher.calls) != 1 {
		t.Fatalf("remote-newer conflict must not force-push, got %d calls", len(pusher.calls))
	}
	if status, _ := syncState(t, env, order.ID); status != model.SyncStatusSynced {
		t.Fatalf("expected synced, got %s", status)
	}
}

func TestConflictLocalNewerForcesOverwrite(t *testing.T) {
	pusher := &fakePusher{responses: []error{
		&backend.ConflictError{RemoteUpdatedAt: time.Now().UTC().Add(-time.Hour)},
	}}
	env, svc := newSyncEnv(t, pusher)
	order := paidOrder(t, env, "0006")

	svc.Drain(context.Background())

	if len(pusher.calls) != 2 {
		t.Fatalf("expected conflict then forced push, got %d calls", len(pusher.calls))
	}
	if !pusher.forced[1] {
		t.Fatalf("second push must carry the force flag")
	}
	if status, _ := syncState(t, env, order.ID); status != model.SyncStatusSynced {
		t.Fatalf("expected synced after forced overwrite, got %s", status)
	}
}

func TestForcedOverwriteFailureIsTerminal(t *testing.T) {
	pusher := &fakePusher{responses: []error{
		&backend.ConflictError{RemoteUpdatedAt: time.Now().UTC().Add(-time.Hour)},
		&backend.StatusError{Code: 500},
	}}
	env, svc := newSyncEnv(t, pusher)
	order := paidOrder(t, env, "0010")

	ctx := context.Background()
	svc.Drain(ctx)

	if len(pusher.calls) != 2 {
		t.Fatalf("expected conflict then forced push, got %d calls", len(pusher.calls))
	}
	status, attempts := syncState(t, env, order.ID)
	if status != model.SyncStatusFailed || attempts != 3 {
		t.Fatalf("failed forced overwrite needs manual intervention, got %s/%d", status, attempts)
	}

	// Автоматический прогон такой заказ больше не трогает.
	svc.Drain(ctx)
	if len(pusher.calls) != 2 {
		t.Fatalf("expected no automatic retry after forced overwrite failure")
	}
}

func TestRecoverInFlightRequeuesStuckOrder(t *testing.T) {
	pusher := &fakePusher{}
	env, svc := newSyncEnv(t, pusher)
	order := paidOrder(t, env, "0011")
	ctx := context.Background()

	// Терминал упал посреди выгрузки: заказ завис в syncing.
	if err := env.orderRepo.UpdateSync(ctx, order.ID.String(), model.SyncStatusSyncing, 1); err != nil {
		t.Fatalf("update sync: %v", err)
	}

	// Зависший заказ недосягаем для прогона.
	svc.Drain(ctx)
	if len(pusher.calls) != 0 {
		t.Fatalf("syncing order must not be eligible, got %d calls", len(pusher.calls))
	}

	svc.RecoverInFlight(ctx)
	if status, _ := syncState(t, env, order.ID); status != model.SyncStatusPending {
		t.Fatalf("expected pending after recovery, got %s", status)
	}

	svc.Drain(ctx)
	if len(pusher.calls) != 1 {
		t.Fatalf("expected recovered order pushed, got %d calls", len(pusher.calls))
	}
	if status, _ := syncState(t, env, order.ID); status != model.SyncStatusSynced {
		t.Fatalf("expected synced, got %s", status)
	}
}

func TestRetryFailedResetsAttempts(t *testing.T) {
	pusher := &fakePusher{responses: []error{
		&backend.StatusError{Code: 500},
		&backend.StatusError{Code: 500},
		&backend.StatusError{Code: 500},
	}}
	env, svc := newSyncEnv(t, pusher)
	order := paidOrder(t, env, "0007")

	ctx := context.Background()
	svc.Drain(ctx)
	if status, _ := syncState(t, env, order.ID); status != model.SyncStatusFailed {
		t.Fatalf("precondition: expected failed, got %s", status)
	}

	// После ручного повтора бэкенд отвечает успехом.
	svc.RetryFailed(ctx)

	status, attempts := syncState(t, env, order.ID)
	if status != model.SyncStatusSynced {
		t.Fatalf("expected synced after manual retry, got %s", status)
	}
	if attempts != 0 {
		t.Fatalf("expected attempts reset, got %d", attempts)
	}
}

func TestOfflineSuppressesDrain(t *testing.T) {
	pusher := &fakePusher{}
	env, svc := newSyncEnv(t, pusher)
	order := paidOrder(t, env, "0008")

	ctx := context.Background()
	svc.SetOnline(ctx, false)
	svc.Drain(ctx)
	if len(pusher.calls) != 0 {
		t.Fatalf("offline drain must be a no-op")
	}

	// Возврат сети сам запускает прогон.
	svc.SetOnline(ctx, true)
	if len(pusher.calls) != 1 {
		t.Fatalf("expected drain on reconnect, got %d calls", len(pusher.calls))
	}
	if status, _ := syncState(t, env, order.ID); status != model.SyncStatusSynced {
		t.Fatalf("expected synced, got %s", status)
	}
}

func TestBackoffSequence(t *testing.T) {
	base := time.Second
	ceil := 30 * time.Second
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := Backoff(base, ceil, i+1); got != w {
			t.Fatalf("failure %d: expected %s, got %s", i+1, w, got)
		}
	}
	if got := Backoff(base, ceil, 0); got != time.Second {
		t.Fatalf("failure 0 clamps to base, got %s", got)
	}
}
