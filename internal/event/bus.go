package event

import (
	"sync"
	"time"
)

// Вид уведомления о зафиксированной мутации движка.
type Kind string

const (
	KindSlotChanged   Kind = "slot_changed"
	KindSlotListMoved Kind = "slot_list_moved"
	KindOrderChanged  Kind = "order_changed"
	KindOrderComplete Kind = "order_completed"
	KindSyncChanged   Kind = "sync_changed"
)

// Event публикуется после каждой зафиксированной мутации. UI-слои
// подписываются на шину; сам движок ни к какому механизму биндинга
// не привязан.
type Event struct {
	Kind    Kind
	SlotID  string
	OrderID string
	At      time.Time
}

// Bus — простая шина подписок внутри процесса. Колбэки вызываются
// синхронно в порядке подписки; подписчик не должен блокировать.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe регистрирует колбэк и возвращает функцию отписки.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish рассылает событие всем текущим подписчикам.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}
