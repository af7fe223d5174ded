package normalize

import (
	"github.com/pharmalink/provider-sync/internal/daterange"
	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/tree"
)

// Scope is what records inherit from the call that fetched them.
type Scope struct {
	Provider string
	Branch   string
	// CustomerReference is used when the payload carries none.
	CustomerReference string
}

// Notice returns the informational message a provider sent instead of
// data, if any.
func Notice(n tree.Node) string {
	return tree.FirstString(n, []string{"mensaje", "Mensaje"})
}

// List returns the record array of a list payload. found is false when no
// candidate path holds anything.
func List(n tree.Node, tpl Template) (list []any, found bool) {
	v, ok := tree.First(n, tpl.Records.List)
	if !ok {
		if arr, isArr := n.([]any); isArr {
			return arr, true
		}
		return nil, false
	}
	return tree.List(v), true
}

// Records maps a list payload into canonical records. A payload with no
// record array is malformed unless it carries a notice, in which case no
// records are returned.
func Records(n tree.Node, tpl Template, scope Scope) ([]model.Record, error) {
	list, found := List(n, tpl)
	if !found {
		if Notice(n) != "" || tree.IsNull(n) {
			return []model.Record{}, nil
		}
		return nil, &MalformedResponseError{Provider: scope.Provider, Block: "record list", Keys: tree.Keys(n)}
	}

	out := make([]model.Record, 0, len(list))
	for _, item := range list {
		entry, ok := tree.First(item, tpl.Records.Entry)
		if !ok || tree.Map(entry) == nil {
			continue
		}
		rec := model.Record{
			Provider:          scope.Provider,
			Branch:            scope.Branch,
			CustomerReference: tree.FirstString(entry, tpl.Records.CustomerReference),
			SearchCode:        tree.FirstString(entry, tpl.Records.SearchCode),
		}
		if rec.CustomerReference == "" {
			rec.CustomerReference = scope.CustomerReference
		}
		if raw := tree.FirstString(entry, tpl.Records.Date); raw != "" {
			if t, err := daterange.ParseTime(raw); err == nil {
				rec.Date = t
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
