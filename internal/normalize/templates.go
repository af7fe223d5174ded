// Package normalize turns decoded provider payloads into the canonical
// model. Where each logical field lives in a provider's payload is data
// (templates.yaml), not code.
package normalize

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Paths is an ordered list of candidate key paths.
type Paths []string

// Templates holds every provider's template.
type Templates struct {
	Providers map[string]Template `yaml:"providers"`
}

// Template describes one provider's payload layout.
type Template struct {
	Records    RecordTemplate   `yaml:"records"`
	Document   DocumentTemplate `yaml:"document"`
	ItemFields map[string]Paths `yaml:"item_fields"`
	Taxes      TaxTemplate      `yaml:"taxes"`
}

// RecordTemplate locates list-level records.
type RecordTemplate struct {
	List              Paths `yaml:"list"`
	Entry             Paths `yaml:"entry"`
	Date              Paths `yaml:"date"`
	SearchCode        Paths `yaml:"search_code"`
	CustomerReference Paths `yaml:"customer_reference"`
}

// DocumentTemplate locates the blocks of a detail document.
type DocumentTemplate struct {
	Header         Paths            `yaml:"header"`
	Totals         Paths            `yaml:"totals"`
	Items          Paths            `yaml:"items"`
	ItemContainers Paths            `yaml:"item_containers"`
	HeaderFields   map[string]Paths `yaml:"header_fields"`
	TotalFields    map[string]Paths `yaml:"total_fields"`
}

// TaxTemplate locates tax lines and fixes the slot order.
type TaxTemplate struct {
	Arrays Paths            `yaml:"arrays"`
	Fields map[string]Paths `yaml:"fields"`
	Slots  []Slot           `yaml:"slots"`
}

// Slot is one fixed position of the tax array. Rate and Jurisdiction, when
// set, must match as well as the kind.
type Slot struct {
	Kind         string `yaml:"kind"`
	Description  string `yaml:"description"`
	Jurisdiction string `yaml:"jurisdiction"`
	Rate         string `yaml:"rate"`
}

// Parse reads templates from YAML with a top-level "normalize" key.
func Parse(data []byte) (*Templates, error) {
	var wrapper struct {
		Normalize Templates `yaml:"normalize"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "normalize: parse templates")
	}
	if len(wrapper.Normalize.Providers) == 0 {
		return nil, eris.New("normalize: templates define no providers")
	}
	return &wrapper.Normalize, nil
}

// Default returns the built-in templates.
func Default() *Templates {
	t, err := Parse(defaultTemplates)
	if err != nil {
		panic(err)
	}
	return t
}

// Load reads templates from path, or the built-in set when path is empty.
func Load(path string) (*Templates, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: read templates %s", path)
	}
	return Parse(data)
}

// For returns the template of provider.
func (t *Templates) For(provider string) (Template, bool) {
	tpl, ok := t.Providers[provider]
	return tpl, ok
}
