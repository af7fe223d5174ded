// Package model defines the canonical, strongly typed shapes every
// provider payload is normalized into.
package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// RecordTimeLayout is the wire and storage layout of a record date.
const RecordTimeLayout = "2006-01-02 15:04:05"

// Record is the slim, list-level shape of one upstream document.
type Record struct {
	Provider          string
	Branch            string
	CustomerReference string
	Date              time.Time
	SearchCode        string
}

// Key identifies a record for deduplication.
func (r Record) Key() string {
	return r.CustomerReference + "|" + r.Date.UTC().Format(RecordTimeLayout) + "|" + r.SearchCode
}

// Day returns the UTC calendar day of the record.
func (r Record) Day() time.Time {
	y, m, d := r.Date.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type recordJSON struct {
	Branch            string  `json:"sucursal,omitempty"`
	CustomerReference string  `json:"customer_reference"`
	Date              *string `json:"fecha"`
	SearchCode        string  `json:"codigo_busqueda"`
}

// MarshalJSON renders the record with the field names downstream consumers
// index on.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Branch:            r.Branch,
		CustomerReference: r.CustomerReference,
		SearchCode:        r.SearchCode,
	}
	if !r.Date.IsZero() {
		s := r.Date.UTC().Format(RecordTimeLayout)
		out.Date = &s
	}
	return json.Marshal(out)
}

// Dedupe drops records whose Key was already seen, keeping the first.
func Dedupe(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// SortRecords orders records by date, then customer reference, then search
// code, so persisted sets are stable across runs.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.CustomerReference != b.CustomerReference {
			return a.CustomerReference < b.CustomerReference
		}
		return a.SearchCode < b.SearchCode
	})
}

// NormalizeBranchCode trims, strips inner whitespace and upper-cases a
// branch code ("  sa 3 " -> "SA3").
func NormalizeBranchCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}

// Latest returns the latest dated record's timestamp. ok is false when no
// record carries a date.
func Latest(records []Record) (latest time.Time, ok bool) {
	for _, r := range records {
		if r.Date.IsZero() {
			continue
		}
		if !ok || r.Date.After(latest) {
			latest, ok = r.Date, true
		}
	}
	return latest, ok
}
