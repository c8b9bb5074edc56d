package labeling

import (
	"strings"

	"github.com/shopspring/decimal"

	"labelstudio/internal/constants"
)

// Reconcile checks the running balance of a page's transactions and returns,
// per row, whether previous balance + credit - debit equals the row balance.
// The first row is checked against the page's opening_balance field when present.
func Reconcile(data ExtractedData) []bool {
	verified := make([]bool, len(data.Transactions))

	prev, havePrev := parseAmount(data.Fields["opening_balance"].Value)
	for i, tx := range data.Transactions {
		balance, ok := parseAmount(tx["balance"].Value)
		if !ok {
			havePrev = false
			continue
		}
		if havePrev {
			credit, _ := parseAmount(tx["credit"].Value)
			debit, _ := parseAmount(tx["debit"].Value)
			verified[i] = prev.Add(credit).Sub(debit).Equal(balance)
		}
		prev, havePrev = balance, true
	}
	return verified
}

// parseAmount reads a statement amount such as "$1,234.50", "(12.00)" or "12.00 CR".
func parseAmount(value *string) (decimal.Decimal, bool) {
	if value == nil {
		return decimal.Zero, false
	}
	s := strings.TrimSpace(*value)
	if s == "" || constants.IsPlaceholder(s) {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "DR") {
		negative = true
		s = s[:len(s)-2]
	} else if strings.HasSuffix(upper, "CR") {
		s = s[:len(s)-2]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-':
			negative = !negative
		}
	}
	if b.Len() == 0 {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, true
}
