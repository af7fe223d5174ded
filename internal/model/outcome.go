package model

// BranchOutcome is the successful result of one branch in a fleet run.
type BranchOutcome struct {
	Branch  string   `json:"branch"`
	Windows int      `json:"windows"`
	Data    []Record `json:"data"`
}

// Skip records a branch left out of a fleet run with a recoverable error.
type Skip struct {
	Branch string `json:"branch"`
	Reason string `json:"reason"`
}

// FleetResult is the partitioned outcome of a fleet run.
type FleetResult struct {
	Provider string          `json:"provider"`
	Mode     string          `json:"mode"`
	Results  []BranchOutcome `json:"results"`
	Skipped  []Skip          `json:"skipped"`
	Stored   int             `json:"stored"`
}

// Records flattens every branch's data in branch order.
func (f *FleetResult) Records() []Record {
	var out []Record
	for _, r := range f.Results {
		out = append(out, r.Data...)
	}
	return out
}

// Listing is a single-branch list response. Items and Taxes are only set by
// providers that report them at list level.
type Listing struct {
	Provider string     `json:"provider"`
	Branch   string     `json:"branch"`
	Data     []Record   `json:"data"`
	Headers  []Header   `json:"cabecera,omitempty"`
	Items    []LineItem `json:"detalle,omitempty"`
	Taxes    []TaxEntry `json:"impuestos,omitempty"`
	Warning  string     `json:"warning,omitempty"`
}
