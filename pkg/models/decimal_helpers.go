package models

import "github.com/shopspring/decimal"

var satsPerBTC = decimal.NewFromInt(SatoshisPerBTC)

// SatsToBTC converts a satoshi amount to a BTC decimal.
func SatsToBTC(sats int64) decimal.Decimal {
	return decimal.NewFromInt(sats).Div(satsPerBTC)
}

// BTCToSats converts a BTC decimal to whole satoshis, truncating dust.
func BTCToSats(btc decimal.Decimal) int64 {
	return btc.Mul(satsPerBTC).IntPart()
}

// NewDecimal creates a decimal from a float64.
func NewDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// ToFloat64 converts decimal to float64, losing precision beyond float range.
func ToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
