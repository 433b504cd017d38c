package pricing

import (
	"errors"
	"testing"

	"github.com/counterline/pos-core/internal/model"
)

func variation(name string, price float64) model.Modifier {
	return model.Modifier{Kind: model.ModifierKindVariation, Name: name, Price: price}
}

func addon(name string, price float64) model.Modifier {
	return model.Modifier{Kind: model.ModifierKindAddon, Name: name, Price: price}
}

func note(text string) model.Modifier {
	return model.Modifier{Kind: model.ModifierKindNote, Name: text}
}

func TestUnitPrice(t *testing.T) {
	cases := []struct {
		name string
		base float64
		mods []model.Modifier
		want float64
	}{
		{"no modifiers", 180, nil, 180},
		{"variation replaces base", 180, []model.Modifier{variation("Large", 220)}, 220},
		{"addon adds", 180, []model.Modifier{addon("Syrup", 30)}, 210},
		{"variation then addon", 180, []model.Modifier{variation("Large", 220), addon("Syrup", 30)}, 250},
		{"note has no price effect", 180, []model.Modifier{note("no sugar")}, 180},
		{"last variation wins", 180, []model.Modifier{variation("Small", 150), variation("Large", 220)}, 220},
	}
	for _, tc := range cases {
		if got := UnitPrice(tc.base, tc.mods); got != tc.want {
			t.Fatalf("%s: expected %.2f, got %.2f", tc.name, tc.want, got)
		}
	}
}

func TestLineTotalRejectsNonPositiveQuantity(t *testing.T) {
	for _, qty := range []int{0, -1} {
		if _, err := LineTotal(100, qty); !errors.Is(err, ErrNegativeQuantity) {
			t.Fatalf("quantity %d: expected ErrNegativeQuantity, got %v", qty, err)
		}
	}
	got, err := LineTotal(105.5, 3)
	if err != nil {
		t.Fatalf("line total: %v", err)
	}
	if got != 316.5 {
		t.Fatalf("expected 316.50, got %.2f", got)
	}
}

func TestComputeTotals(t *testing.T) {
	items := []model.LineItem{
		{LineTotal: 360},
		{LineTotal: 120},
	}
	totals := ComputeTotals(items, 0.1, 30)
	if totals.Subtotal != 480 {
		t.Fatalf("subtotal: expected 480, got %.2f", totals.Subtotal)
	}
	if totals.Tax != 48 {
		t.Fatalf("tax: expected 48, got %.2f", totals.Tax)
	}
	if totals.Total != 498 {
		t.Fatalf("total: expected 498, got %.2f", totals.Total)
	}
}

func TestComputeTotalsRounding(t *testing.T) {
	items := []model.LineItem{{LineTotal: 33.33}, {LineTotal: 33.33}, {LineTotal: 33.33}}
	totals := ComputeTotals(items, 0.07, 0)
	if totals.Subtotal != 99.99 {
		t.Fatalf("subtotal: expected 99.99, got %.2f", totals.Subtotal)
	}
	if totals.Tax != 7.00 {
		t.Fatalf("tax: expected 7.00, got %.2f", totals.Tax)
	}
	if totals.Total != 106.99 {
		t.Fatalf("total: expected 106.99, got %.2f", totals.Total)
	}
}
