package pricing

import (
	"errors"
	"math"

	"github.com/counterline/pos-core/internal/model"
)

var (
	ErrNegativeQuantity = errors.New("quantity must be positive")
	ErrUnknownModifier  = errors.New("unknown modifier kind")
)

// UnitPrice считает цену единицы: вариация задаёт абсолютную цену вместо
// базовой, добавки прибавляются, заметки на цену не влияют.
func UnitPrice(basePrice float64, mods []model.Modifier) float64 {
	price := basePrice
	for _, m := range mods {
		switch m.Kind {
		case model.ModifierKindVariation:
			price = m.Price
		case model.ModifierKindAddon:
			price += m.Price
		}
	}
	return round2(price)
}

// LineTotal — сумма по позиции.
func LineTotal(unitPrice float64, quantity int) (float64, error) {
	if quantity <= 0 {
		return 0, ErrNegativeQuantity
	}
	return round2(unitPrice * float64(quantity)), nil
}

// Totals агрегирует суммы заказа: subtotal — сумма позиций,
// total = subtotal + налог − скидка.
type Totals struct {
	Subtotal float64
	Tax      float64
	Discount float64
	Total    float64
}

// ComputeTotals считает суммы по набору позиций с заданной налоговой ставкой.
func ComputeTotals(items []model.LineItem, taxRate, discount float64) Totals {
	var subtotal float64
	for i := range items {
		subtotal += items[i].LineTotal
	}
	subtotal = round2(subtotal)
	tax := round2(subtotal * taxRate)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Discount: round2(discount),
		Total:    round2(subtotal + tax - discount),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
