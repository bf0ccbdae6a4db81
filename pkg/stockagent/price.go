package stockagent

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Price wraps decimal.Decimal for quote values. Upstream sources mix JSON
// numbers and quoted strings, so decoding accepts both; marshaling outputs a
// plain JSON number. Internal arithmetic stays on precise decimals until the
// metrics engine converts to float64.
type Price struct {
	decimal.Decimal
}

// MarshalJSON outputs as a JSON number (not a string).
func (p Price) MarshalJSON() ([]byte, error) {
	f, _ := p.Round(4).Float64()
	return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted strings.
func (p *Price) UnmarshalJSON(data []byte) error {
	return p.Decimal.UnmarshalJSON(data)
}

// Float returns the float64 value of the price.
func (p Price) Float() float64 {
	f, _ := p.Float64()
	return f
}

// NewPrice creates a Price from a float64.
func NewPrice(f float64) Price {
	return Price{decimal.NewFromFloat(f)}
}

// ParsePrice creates a Price from a decimal string such as "1724.50".
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, err
	}
	return Price{d}, nil
}
