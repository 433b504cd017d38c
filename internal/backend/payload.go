package backend

import (
	"strings"

	"github.com/counterline/pos-core/internal/model"
)

// NewOrderPayload собирает payload выгрузки из записи заказа.
func NewOrderPayload(order *model.OrderRecord, id Identity) OrderPayload {
	p := OrderPayload{
		OrderID:       order.ID.String(),
		Number:        order.Number,
		BranchID:      id.BranchID(),
		TerminalID:    id.TerminalID(),
		SessionID:     id.SessionID(),
		Category:      string(order.Category),
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		Notes:         order.Notes,
		PaymentMethod: order.PaymentMethod,
		Subtotal:      order.Subtotal,
		Tax:           order.Tax,
		Discount:      order.Discount,
		Total:         order.Total,
		UpdatedAt:     order.UpdatedAt,
		Items:         make([]ItemPayload, 0, len(order.Items)),
	}
	for i := range order.Items {
		line := &order.Items[i]
		p.Items = append(p.Items, ItemPayload{
			MenuItemID: line.MenuItemID,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			LineTotal:  line.LineTotal,
			Note:       itemNote(line),
			Adjustment: line.IsAdjustment,
		})
	}
	return p
}

// itemNote склеивает свободный текст позиции: особые указания,
// имена добавок и имя вариации.
func itemNote(line *model.LineItem) string {
	var parts []string
	if line.Note != "" {
		parts = append(parts, line.Note)
	}
	mods, err := model.DecodeModifiers(line.Modifiers)
	if err != nil {
		return strings.Join(parts, ", ")
	}
	for _, m := range mods {
		parts = append(parts, m.Name)
	}
	return strings.Join(parts, ", ")
}
