package normalize

import (
	"github.com/shopspring/decimal"

	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/tree"
)

// Document maps a detail payload into the canonical document. A missing
// header block fails; missing totals or items leave nulls and empty slices.
func Document(provider string, n tree.Node, tpl Template) (model.Document, error) {
	var doc model.Document

	header, ok := tree.First(n, tpl.Document.Header)
	if !ok || tree.Map(header) == nil {
		return doc, &MalformedResponseError{Provider: provider, Block: "header", Keys: tree.Keys(n)}
	}
	doc.Header = Header(header, tpl)

	if totals, ok := tree.First(n, tpl.Document.Totals); ok {
		doc.Totals = Totals(totals, tpl)
	} else {
		doc.Totals.Taxes = AlignTaxes(nil, tpl.Taxes.Slots)
	}

	doc.Detail.Items = LineItems(itemArray(n, tpl.Document), tpl)
	if doc.Detail.Items == nil {
		doc.Detail.Items = []model.LineItem{}
	}
	return doc, nil
}

// itemArray finds the line-item array: the first candidate that is an
// array, or an array nested in one of the container keys.
func itemArray(n tree.Node, d DocumentTemplate) []any {
	for _, p := range d.Items {
		v := tree.Get(n, p)
		if tree.IsNull(v) {
			continue
		}
		if list, ok := v.([]any); ok {
			return list
		}
		if inner, ok := tree.First(v, d.ItemContainers); ok {
			return tree.List(inner)
		}
	}
	return nil
}

// Header maps one header object.
func Header(n tree.Node, tpl Template) model.Header {
	f := tpl.Document.HeaderFields
	s := func(name string) string { return tree.FirstString(n, f[name]) }
	return model.Header{
		Code:        s("code"),
		Type:        s("type"),
		Letter:      s("letter"),
		PointOfSale: s("point_of_sale"),
		Number:      s("number"),
		Date:        s("date"),
		Currency:    s("currency"),
		PaymentTerm: s("payment_term"),
		PDF:         s("pdf"),
		OrderType:   s("order_type"),
		Summary: model.Summary{
			Number:      s("summary_number"),
			ClosingDate: s("summary_closing"),
		},
		Authorization: model.Authorization{
			Type:   s("auth_type"),
			Code:   s("auth_code"),
			Expiry: s("auth_expiry"),
		},
	}
}

// Headers maps every header object of a list payload.
func Headers(list []any, tpl Template) []model.Header {
	out := make([]model.Header, 0, len(list))
	for _, h := range list {
		if tree.Map(h) == nil {
			continue
		}
		out = append(out, Header(h, tpl))
	}
	return out
}

// Totals maps the totals block, including its aligned tax array.
func Totals(n tree.Node, tpl Template) model.Totals {
	f := tpl.Document.TotalFields
	d := func(name string) decimal.NullDecimal { return tree.FirstDecimal(n, f[name]) }
	return model.Totals{
		Lines:      d("lines"),
		Units:      d("units"),
		Gross:      d("gross"),
		Discount:   d("discount"),
		Net:        d("net"),
		Exempt:     d("exempt"),
		Taxed:      d("taxed"),
		VAT:        d("vat"),
		OtherTaxes: d("other_taxes"),
		Total:      d("total"),
		Taxes:      AlignTaxes(TaxLines(taxArray(n, tpl.Taxes), tpl), tpl.Taxes.Slots),
	}
}

// LineItems maps item objects; each item's taxes are aligned too.
func LineItems(list []any, tpl Template) []model.LineItem {
	if list == nil {
		return nil
	}
	f := tpl.ItemFields
	out := make([]model.LineItem, 0, len(list))
	for _, it := range list {
		if tree.Map(it) == nil {
			continue
		}
		s := func(name string) string { return tree.FirstString(it, f[name]) }
		d := func(name string) decimal.NullDecimal { return tree.FirstDecimal(it, f[name]) }
		out = append(out, model.LineItem{
			ItemID:      s("item_id"),
			Barcode:     s("barcode"),
			Description: s("description"),
			LineNumber:  s("line_number"),
			UnitPrice:   d("unit_price"),
			Units:       d("units"),
			Gross:       d("gross"),
			Discount:    d("discount"),
			Net:         d("net"),
			Total:       d("total"),
			OrderRef:    s("order_ref"),
			Taxes:       AlignTaxes(TaxLines(taxArray(it, tpl.Taxes), tpl), tpl.Taxes.Slots),
		})
	}
	return out
}

func taxArray(n tree.Node, t TaxTemplate) []any {
	v, ok := tree.First(n, t.Arrays)
	if !ok {
		return nil
	}
	return tree.List(v)
}
