package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(ref, date, code string) Record {
	d, _ := time.Parse(RecordTimeLayout, date)
	return Record{Provider: "monroe", CustomerReference: ref, Date: d, SearchCode: code}
}

func TestRecord_Key(t *testing.T) {
	a := rec("100", "2025-01-02 10:00:00", "FC-A-1")
	b := rec("100", "2025-01-02 10:00:00", "FC-A-1")
	b.Branch = "SA2"
	assert.Equal(t, a.Key(), b.Key(), "branch is not part of the identity")

	c := rec("100", "2025-01-02 10:00:01", "FC-A-1")
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestRecord_Day(t *testing.T) {
	r := rec("1", "2025-03-04 23:59:59", "x")
	assert.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), r.Day())
}

func TestDedupe_KeepsFirst(t *testing.T) {
	first := rec("1", "2025-01-01 00:00:00", "A")
	first.Branch = "SA1"
	dup := first
	dup.Branch = "SA9"
	other := rec("1", "2025-01-01 00:00:00", "B")

	out := Dedupe([]Record{first, dup, other})
	require.Len(t, out, 2)
	assert.Equal(t, "SA1", out[0].Branch)
	assert.Equal(t, "B", out[1].SearchCode)
}

func TestSortRecords(t *testing.T) {
	recs := []Record{
		rec("2", "2025-01-02 00:00:00", "A"),
		rec("1", "2025-01-02 00:00:00", "B"),
		rec("1", "2025-01-02 00:00:00", "A"),
		rec("9", "2025-01-01 00:00:00", "Z"),
	}
	SortRecords(recs)
	got := make([]string, len(recs))
	for i, r := range recs {
		got[i] = r.CustomerReference + r.SearchCode
	}
	assert.Equal(t, []string{"9Z", "1A", "1B", "2A"}, got)
}

func TestRecord_MarshalJSON(t *testing.T) {
	r := rec("4501", "2025-01-05 08:30:00", "FC-A-0001-00000001")
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"customer_reference":"4501","fecha":"2025-01-05 08:30:00","codigo_busqueda":"FC-A-0001-00000001"}`, string(b))

	b, err = json.Marshal(Record{CustomerReference: "1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"customer_reference":"1","fecha":null,"codigo_busqueda":""}`, string(b))
}

func TestNormalizeBranchCode(t *testing.T) {
	tests := map[string]string{
		"  sa3 ":  "SA3",
		"s a 1 0": "SA10",
		"SB1":     "SB1",
		"":        "",
		"\t\n":    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeBranchCode(in), "input %q", in)
	}
}

func TestTaxEntry_NullsRenderAsNull(t *testing.T) {
	e := TaxEntry{Kind: "IIBB", Description: "Percepcion IIBB"}
	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tipo":"IIBB","descripcion":"Percepcion IIBB","tasa":null,"importe":null}`, string(b))

	e.Amount = decimal.NewNullDecimal(decimal.RequireFromString("12.5"))
	b, err = json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tipo":"IIBB","descripcion":"Percepcion IIBB","tasa":null,"importe":12.5}`, string(b))
}

func TestFleetResult_Records(t *testing.T) {
	f := &FleetResult{Results: []BranchOutcome{
		{Branch: "SA1", Data: []Record{rec("1", "2025-01-01 00:00:00", "A")}},
		{Branch: "SA2", Data: []Record{rec("2", "2025-01-01 00:00:00", "B")}},
	}}
	assert.Len(t, f.Records(), 2)
}

func TestLatest(t *testing.T) {
	_, ok := Latest(nil)
	assert.False(t, ok)

	_, ok = Latest([]Record{{CustomerReference: "1"}})
	assert.False(t, ok, "undated records have no watermark")

	latest, ok := Latest([]Record{
		rec("1", "2025-01-03 08:00:00", "A"),
		{CustomerReference: "2"},
		rec("3", "2025-01-05 10:30:00", "B"),
		rec("4", "2025-01-04 23:59:59", "C"),
	})
	require.True(t, ok)
	assert.Equal(t, "2025-01-05 10:30:00", latest.Format(RecordTimeLayout))
}
