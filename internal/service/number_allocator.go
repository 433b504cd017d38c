package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/counterline/pos-core/internal/repository"
)

// NumberAllocator выдаёт человеческие номера заказов ("0007"),
// последовательные внутри календарного дня. Освобождённый номер
// возвращается в последовательность только если он был последним
// выданным: брошенный черновик на вершине не оставляет дыры,
// а номера из середины дня никогда не переиспользуются.
type NumberAllocator struct {
	orders repository.OrderRepository

	mu     sync.Mutex
	bucket string
	last   int
	seeded bool
}

func NewNumberAllocator(orders repository.OrderRepository) *NumberAllocator {
	return &NumberAllocator{orders: orders}
}

// Next выдаёт следующий номер для дня bucket ("2006-01-02").
func (a *NumberAllocator) Next(ctx context.Context, bucket string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bucket != bucket {
		a.bucket = bucket
		a.seeded = false
		a.last = 0
	}
	if !a.seeded {
		total, err := a.orders.CountByDateBucket(ctx, bucket)
		if err != nil {
			return "", err
		}
		a.last = int(total)
		a.seeded = true
	}

	a.last++
	return fmt.Sprintf("%04d", a.last), nil
}

// Release возвращает номер, если выданный черновик был сброшен.
func (a *NumberAllocator) Release(number, bucket string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bucket != bucket || !a.seeded {
		return
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		return
	}
	if n == a.last {
		a.last--
	}
}

// DateBucket — календарный день для момента t.
func DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
