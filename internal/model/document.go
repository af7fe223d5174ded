package model

import "github.com/shopspring/decimal"

func init() {
	// Amounts are rendered as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Document is the detail shape of one invoice.
type Document struct {
	Header Header `json:"Cabecera"`
	Totals Totals `json:"Total"`
	Detail Detail `json:"Detalle"`
}

// Detail wraps the line items.
type Detail struct {
	Items []LineItem `json:"arrayItems"`
}

// Header carries the identifying block of a document.
type Header struct {
	Code          string        `json:"codigo_comprobante"`
	Type          string        `json:"tipo"`
	Letter        string        `json:"letra"`
	PointOfSale   string        `json:"punto_de_venta"`
	Number        string        `json:"numero"`
	Date          string        `json:"fecha"`
	Currency      string        `json:"moneda"`
	PaymentTerm   string        `json:"termino_de_pago"`
	PDF           string        `json:"pdf"`
	OrderType     string        `json:"tipo_pedido"`
	Summary       Summary       `json:"Resumen"`
	Authorization Authorization `json:"Autorizacion"`
}

// Summary references the account statement a document was closed into.
type Summary struct {
	Number      string `json:"numero"`
	ClosingDate string `json:"fecha_cierre"`
}

// Authorization is the fiscal authorization block (CAE/CAI).
type Authorization struct {
	Type   string `json:"tipo"`
	Code   string `json:"codigo"`
	Expiry string `json:"vencimiento"`
}

// Totals holds document-level amounts. Null means the upstream did not
// report the value.
type Totals struct {
	Lines      decimal.NullDecimal `json:"lineas"`
	Units      decimal.NullDecimal `json:"unidades"`
	Gross      decimal.NullDecimal `json:"bruto"`
	Discount   decimal.NullDecimal `json:"descuento"`
	Net        decimal.NullDecimal `json:"neto"`
	Exempt     decimal.NullDecimal `json:"exento"`
	Taxed      decimal.NullDecimal `json:"gravado"`
	VAT        decimal.NullDecimal `json:"iva"`
	OtherTaxes decimal.NullDecimal `json:"otros_impuestos"`
	Total      decimal.NullDecimal `json:"total"`
	Taxes      []TaxEntry          `json:"arrayImpuestos"`
}

// LineItem is one invoiced product line.
type LineItem struct {
	ItemID      string              `json:"item_id"`
	Barcode     string              `json:"codigo_barra"`
	Description string              `json:"descripcion"`
	LineNumber  string              `json:"nro_linea"`
	UnitPrice   decimal.NullDecimal `json:"pvp_unitario"`
	Units       decimal.NullDecimal `json:"unidades"`
	Gross       decimal.NullDecimal `json:"bruto"`
	Discount    decimal.NullDecimal `json:"descuento"`
	Net         decimal.NullDecimal `json:"neto"`
	Total       decimal.NullDecimal `json:"total"`
	OrderRef    string              `json:"refer_pedido"`
	Taxes       []TaxEntry          `json:"arrayImpuestos"`
}

// TaxEntry is one slot of the ordered tax array.
type TaxEntry struct {
	Kind         string              `json:"tipo"`
	Description  string              `json:"descripcion"`
	Jurisdiction string              `json:"jurisdiccion,omitempty"`
	Rate         decimal.NullDecimal `json:"tasa"`
	Amount       decimal.NullDecimal `json:"importe"`
}
