package pricing

import (
	"github.com/counterline/pos-core/internal/model"
)

// Adjustment — результат пересчёта оплаченной позиции под новые модификаторы.
// Сама оплаченная позиция не меняется никогда: доплата оформляется отдельной
// корректирующей строкой с дельтой цены и дифференциальным набором
// модификаторов для отображения.
type Adjustment struct {
	// Дельта цены единицы относительно оплаченной цены. Может быть
	// отрицательной (возвратная корректировка).
	PriceDelta float64

	// Модификаторы корректирующей строки: новая вариация показывается
	// с ценой-дельтой (не с абсолютной ценой), из добавок — только
	// добавленные относительно оплаченного набора; убранные добавки
	// не показываются вовсе.
	DisplayModifiers []model.Modifier
}

// ComputeAdjustment сравнивает оплаченное состояние позиции с запрошенными
// модификаторами и строит корректировку.
func ComputeAdjustment(
	basePrice float64,
	originalPaidUnitPrice float64,
	originalPaidMods []model.Modifier,
	requested []model.Modifier,
) Adjustment {
	newUnit := UnitPrice(basePrice, requested)
	delta := round2(newUnit - originalPaidUnitPrice)

	display := make([]model.Modifier, 0, len(requested))

	// Вариация: показываем новую вариацию по цене-дельте,
	// если она отличается от оплаченной.
	newVar, newHas := lastVariation(requested)
	oldVar, oldHas := lastVariation(originalPaidMods)
	if newHas && (!oldHas || newVar.Name != oldVar.Name) {
		display = append(display, model.Modifier{
			Kind:  model.ModifierKindVariation,
			Name:  newVar.Name,
			Price: delta,
		})
	}

	// Добавки: только новые относительно оплаченного набора.
	paidAddons := map[string]bool{}
	for _, m := range originalPaidMods {
		if m.Kind == model.ModifierKindAddon {
			paidAddons[m.Name] = true
		}
	}
	for _, m := range requested {
		if m.Kind == model.ModifierKindAddon && !paidAddons[m.Name] {
			display = append(display, m)
		}
	}

	return Adjustment{PriceDelta: delta, DisplayModifiers: display}
}

func lastVariation(mods []model.Modifier) (model.Modifier, bool) {
	var found model.Modifier
	var has bool
	for _, m := range mods {
		if m.Kind == model.ModifierKindVariation {
			found = m
			has = true
		}
	}
	return found, has
}
