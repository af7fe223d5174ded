package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/tree"
)

// TaxLines maps raw tax objects in their upstream order.
func TaxLines(list []any, tpl Template) []model.TaxEntry {
	f := tpl.Taxes.Fields
	out := make([]model.TaxEntry, 0, len(list))
	for _, raw := range list {
		if tree.Map(raw) == nil {
			continue
		}
		out = append(out, model.TaxEntry{
			Kind:         tree.FirstString(raw, f["kind"]),
			Description:  tree.FirstString(raw, f["description"]),
			Jurisdiction: tree.FirstString(raw, f["jurisdiction"]),
			Rate:         tree.FirstDecimal(raw, f["rate"]),
			Amount:       tree.FirstDecimal(raw, f["amount"]),
		})
	}
	return out
}

// AlignTaxes lays raw entries out in slot order. For each slot the first
// remaining entry with an equal description is taken, else the first with
// the slot's kind (and its rate and jurisdiction when the slot pins them).
// Slots without a match are emitted with null rate and amount. Entries no
// slot claimed follow in their original order.
func AlignTaxes(raw []model.TaxEntry, slots []Slot) []model.TaxEntry {
	remaining := make([]model.TaxEntry, len(raw))
	copy(remaining, raw)

	out := make([]model.TaxEntry, 0, len(slots)+len(raw))
	for _, s := range slots {
		i := matchSlot(remaining, s)
		if i < 0 {
			out = append(out, model.TaxEntry{Kind: s.Kind, Description: s.Description, Jurisdiction: s.Jurisdiction})
			continue
		}
		out = append(out, remaining[i])
		remaining = append(remaining[:i], remaining[i+1:]...)
	}
	return append(out, remaining...)
}

func matchSlot(entries []model.TaxEntry, s Slot) int {
	if s.Description != "" {
		for i, e := range entries {
			if e.Description != "" && strings.EqualFold(strings.TrimSpace(e.Description), s.Description) {
				return i
			}
		}
	}

	var rate decimal.NullDecimal
	if s.Rate != "" {
		rate = tree.Decimal(s.Rate)
	}
	for i, e := range entries {
		if !strings.EqualFold(strings.TrimSpace(e.Kind), s.Kind) {
			continue
		}
		if rate.Valid && (!e.Rate.Valid || !e.Rate.Decimal.Equal(rate.Decimal)) {
			continue
		}
		if s.Jurisdiction != "" && e.Jurisdiction != "" && !strings.EqualFold(e.Jurisdiction, s.Jurisdiction) {
			continue
		}
		return i
	}
	return -1
}
