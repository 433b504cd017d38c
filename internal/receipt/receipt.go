package receipt

import (
	"fmt"
	"strings"

	"github.com/counterline/pos-core/internal/model"
)

// Formatter печатает текст чека по завершённой записи заказа.
// Только чтение: обратно в склад заказов ничего не пишется.
type Formatter struct {
	Header   string
	Width    int
	Currency string
}

func NewFormatter(header string) *Formatter {
	return &Formatter{Header: header, Width: 38, Currency: "Rs."}
}

// Format собирает чек: шапка, позиции с модификаторами и корректировками,
// суммы и способ оплаты.
func (f *Formatter) Format(order *model.OrderRecord) string {
	var b strings.Builder

	if f.Header != "" {
		b.WriteString(center(f.Header, f.Width) + "\n")
	}
	b.WriteString(strings.Repeat("-", f.Width) + "\n")
	b.WriteString(fmt.Sprintf("Order %s  %s\n", order.Number, order.SlotName))
	b.WriteString(order.CreatedAt.Format("2006-01-02 15:04") + "\n")
	if order.CustomerName != "" {
		b.WriteString("Customer: " + order.CustomerName + "\n")
	}
	b.WriteString(strings.Repeat("-", f.Width) + "\n")

	for i := range order.Items {
		line := &order.Items[i]
		b.WriteString(f.line(fmt.Sprintf("%dx %s", line.Quantity, line.Name), line.LineTotal))
		mods, err := model.DecodeModifiers(line.Modifiers)
		if err == nil {
			for _, m := range mods {
				b.WriteString("   + " + m.Name + "\n")
			}
		}
		if line.Note != "" {
			b.WriteString("   * " + line.Note + "\n")
		}
	}

	b.WriteString(strings.Repeat("-", f.Width) + "\n")
	b.WriteString(f.line("Subtotal", order.Subtotal))
	if order.Tax != 0 {
		b.WriteString(f.line("Tax", order.Tax))
	}
	if order.Discount != 0 {
		b.WriteString(f.line("Discount", -order.Discount))
	}
	b.WriteString(f.line("TOTAL", order.Total))
	if order.PaymentMethod != "" {
		b.WriteString("Paid: " + order.PaymentMethod + "\n")
	}
	return b.String()
}

func (f *Formatter) line(label string, amount float64) string {
	value := fmt.Sprintf("%s%.2f", f.Currency, amount)
	pad := f.Width - len(label) - len(value)
	if pad < 1 {
		pad = 1
	}
	return label + strings.Repeat(" ", pad) + value + "\n"
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	return strings.Repeat(" ", left) + s
}
