// Package credential resolves the effective credential tuple of a branch
// for a provider: explicit override, then the branch's stored value, then
// the provider-wide default.
package credential

import (
	"sort"
	"strings"
)

// Field describes one credential a provider consumes.
type Field struct {
	Name     string   // canonical name, as gateways read it
	Aliases  []string // extra override keys callers may send
	Column   string   // column of the branch credentials row; empty if not stored
	Required bool
	Identity bool // part of the token cache key
	Secret   bool // masked in diagnostics
}

// Schema lists a provider's credential fields.
type Schema struct {
	Provider string
	Fields   []Field
	// EnabledColumn marks a branch as enabled for the provider when set.
	EnabledColumn string
}

// Identity returns the names of the identity fields, sorted.
func (s Schema) Identity() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Identity {
			out = append(out, f.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Mask returns the tuple's fields with secrets reduced to a short prefix.
func (s Schema) Mask(t Tuple) map[string]string {
	out := make(map[string]string, len(t.Fields))
	for _, f := range s.Fields {
		v, ok := t.Fields[f.Name]
		if !ok {
			continue
		}
		if f.Secret {
			v = maskSecret(v)
		}
		out[f.Name] = v
	}
	return out
}

func maskSecret(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	return v[:4] + "…"
}

// Tuple is the resolved credential set of one branch for one provider.
type Tuple struct {
	Provider string
	Branch   string
	Fields   map[string]string
	Identity []string
}

// Get returns a field value or "".
func (t Tuple) Get(name string) string {
	return t.Fields[name]
}

// CacheKey derives a stable key from the provider, branch and identity
// fields. Secrets never take part.
func (t Tuple) CacheKey() string {
	var b strings.Builder
	b.WriteString(t.Provider)
	b.WriteString("|")
	b.WriteString(t.Branch)
	for _, name := range t.Identity {
		b.WriteString("|")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(t.Fields[name])
	}
	return b.String()
}

// Field names shared by gateways.
const (
	SoftwareKey       = "software_key"
	CustomerKey       = "customer_key"
	CustomerReference = "customer_reference"
	TokenDuration     = "token_duration"
	Username          = "username"
	Password          = "password"
	Account           = "account"
	Company           = "company"
	Group             = "group"
	StaticToken       = "token"
	Email             = "email"
	PharmacyReference = "pharmacy_reference"
)

// DefaultSchemas is the built-in field catalogue for every provider.
func DefaultSchemas() map[string]Schema {
	return map[string]Schema{
		"monroe": {
			Provider:      "monroe",
			EnabledColumn: "monroe_cuenta",
			Fields: []Field{
				{Name: SoftwareKey, Aliases: []string{"softwareKey"}, Column: "monroe_software_key", Required: true, Secret: true},
				{Name: CustomerKey, Aliases: []string{"ecommerce_customer_key", "customerKey"}, Column: "monroe_ecommerce_key", Required: true, Secret: true},
				{Name: CustomerReference, Aliases: []string{"ecommerce_customer_reference", "customerReference"}, Column: "monroe_cuenta", Required: true, Identity: true},
				{Name: TokenDuration, Aliases: []string{"tokenDuration"}},
			},
		},
		"suizo": {
			Provider:      "suizo",
			EnabledColumn: "suizo_usuario",
			Fields: []Field{
				{Name: Username, Aliases: []string{"usuario", "tcUsuario"}, Column: "suizo_usuario", Required: true, Identity: true},
				{Name: Password, Aliases: []string{"clave", "tcClave"}, Column: "suizo_clave", Required: true, Secret: true},
				{Name: Account, Aliases: []string{"cuenta", "tnCuenta"}, Column: "suizo_cliente", Identity: true},
				{Name: Company, Aliases: []string{"empresa", "tnEmpresa"}},
				{Name: Group, Aliases: []string{"grupo", "tcGrupo"}},
			},
		},
		"cofarsur": {
			Provider:      "cofarsur",
			EnabledColumn: "cofarsur_usuario",
			Fields: []Field{
				{Name: Username, Aliases: []string{"usuario"}, Column: "cofarsur_usuario", Required: true, Identity: true},
				{Name: Password, Aliases: []string{"clave"}, Column: "cofarsur_clave", Required: true, Secret: true},
				{Name: StaticToken, Column: "cofarsur_token", Required: true, Secret: true},
			},
		},
		"kellerhoff": {
			Provider:      "kellerhoff",
			EnabledColumn: "kellerhof_usuario",
			Fields: []Field{
				{Name: Email, Aliases: []string{"usuario"}, Column: "kellerhof_usuario", Required: true, Identity: true},
				{Name: Password, Aliases: []string{"clave"}, Column: "kellerhof_clave", Required: true, Secret: true},
				{Name: PharmacyReference, Aliases: []string{"cliente", "reference"}, Column: "kellerhof_cliente", Identity: true},
			},
		},
	}
}
