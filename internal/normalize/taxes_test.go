package normalize

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/provider-sync/internal/model"
)

var threeSlots = []Slot{
	{Kind: "VAT"},
	{Kind: "provincial"},
	{Kind: "municipal"},
}

func dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestAlignTaxes_FillsMissingSlotsWithNulls(t *testing.T) {
	raw := []model.TaxEntry{{Kind: "VAT", Rate: dec("21"), Amount: dec("100")}}

	got := AlignTaxes(raw, threeSlots)
	require.Len(t, got, 3)
	assert.Equal(t, "VAT", got[0].Kind)
	assert.True(t, got[0].Amount.Decimal.Equal(decimal.NewFromInt(100)))
	for i, kind := range []string{"provincial", "municipal"} {
		assert.Equal(t, kind, got[i+1].Kind)
		assert.False(t, got[i+1].Rate.Valid)
		assert.False(t, got[i+1].Amount.Valid)
	}
}

func TestAlignTaxes_OrderIndependent(t *testing.T) {
	vat := model.TaxEntry{Kind: "VAT", Rate: dec("21"), Amount: dec("100")}
	muni := model.TaxEntry{Kind: "municipal", Amount: dec("3")}
	extra := model.TaxEntry{Kind: "internal", Amount: dec("7")}

	perms := [][]model.TaxEntry{
		{vat, muni, extra},
		{muni, vat, extra},
		{extra, muni, vat},
		{muni, extra, vat},
	}
	for _, raw := range perms {
		got := AlignTaxes(raw, threeSlots)
		require.Len(t, got, 4)
		assert.Equal(t, vat, got[0])
		assert.Equal(t, "provincial", got[1].Kind)
		assert.False(t, got[1].Amount.Valid)
		assert.Equal(t, muni, got[2])
		assert.Equal(t, extra, got[3], "leftovers are kept")
	}
}

func TestAlignTaxes_DescriptionBeatsKind(t *testing.T) {
	slots := []Slot{{Kind: "IIBB", Description: "Percepcion IIBB"}}
	raw := []model.TaxEntry{
		{Kind: "IIBB", Description: "IIBB CABA", Amount: dec("1")},
		{Kind: "PERC", Description: "percepcion iibb", Amount: dec("2")},
	}

	got := AlignTaxes(raw, slots)
	require.Len(t, got, 2)
	assert.True(t, got[0].Amount.Decimal.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "IIBB CABA", got[1].Description)
}

func TestAlignTaxes_PinnedRate(t *testing.T) {
	slots := []Slot{{Kind: "IVA", Rate: "10.5"}, {Kind: "IVA", Rate: "21"}}
	raw := []model.TaxEntry{
		{Kind: "IVA", Rate: dec("21"), Amount: dec("42")},
		{Kind: "IVA", Rate: dec("10.50"), Amount: dec("5")},
	}

	got := AlignTaxes(raw, slots)
	require.Len(t, got, 2)
	assert.True(t, got[0].Amount.Decimal.Equal(decimal.NewFromInt(5)))
	assert.True(t, got[1].Amount.Decimal.Equal(decimal.NewFromInt(42)))
}

func TestAlignTaxes_DoesNotMutateInput(t *testing.T) {
	raw := []model.TaxEntry{{Kind: "municipal"}, {Kind: "VAT"}}
	_ = AlignTaxes(raw, threeSlots)
	assert.Equal(t, "municipal", raw[0].Kind)
	assert.Equal(t, "VAT", raw[1].Kind)
}

func TestTaxLines_NumericCoercion(t *testing.T) {
	tpl := Default().Providers["monroe"]
	got := TaxLines([]any{
		map[string]any{"tipo": "IVA", "tasa": "21,00", "importe": "abc"},
		"not an object",
		map[string]any{"tipo_impuesto": "IIBB", "alicuota": 3.5},
	}, tpl)

	require.Len(t, got, 2)
	assert.True(t, got[0].Rate.Decimal.Equal(decimal.NewFromInt(21)))
	assert.False(t, got[0].Amount.Valid, "unparsable amount is null, not zero")
	assert.Equal(t, "IIBB", got[1].Kind)
	assert.True(t, got[1].Rate.Decimal.Equal(decimal.NewFromFloat(3.5)))
	assert.False(t, got[1].Amount.Valid)
}
