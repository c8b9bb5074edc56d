package labeling

// DefaultFieldColor is used for any field missing from the palette.
const DefaultFieldColor = "#6b7280"

// Palette maps a field key to the colour used to draw its labels. One palette
// is shared by the store, the draw controller and the adapter so a field looks
// the same everywhere.
type Palette map[string]string

// DefaultPalette returns the built-in colours for the statement fields.
func DefaultPalette() Palette {
	return Palette{
		"fund_name":       "#2563eb",
		"account_number":  "#7c3aed",
		"statement_date":  "#0891b2",
		"currency":        "#059669",
		"opening_balance": "#65a30d",
		"closing_balance": "#ca8a04",
		"total_value":     "#ea580c",
		"date":            "#dc2626",
		"description":     "#db2777",
		"debit":           "#9333ea",
		"credit":          "#16a34a",
		"balance":         "#0d9488",
	}
}

// Color returns the colour for a field.
func (p Palette) Color(field string) string {
	if c, ok := p[field]; ok && c != "" {
		return c
	}
	return DefaultFieldColor
}

// DefaultTransactionFields is the canonical column set of a line item.
var DefaultTransactionFields = []string{"date", "description", "debit", "credit", "balance"}
