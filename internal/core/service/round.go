package service

import (
	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.NewFromInt(1000)
	hundred  = decimal.NewFromInt(100)
	fifty    = decimal.NewFromInt(50)
)

// Round100 converts kW to whole Watts on a 100 W grid:
// floor((|p|*1000 + 50) / 100) * 100. Decimal arithmetic keeps values such
// as 2.05 kW on the exact tie instead of a binary approximation of it.
func Round100(powerKw float64) int64 {
	w := decimal.NewFromFloat(powerKw).Abs().Mul(thousand)
	return w.Add(fifty).Div(hundred).Floor().Mul(hundred).IntPart()
}

// KwToWatts converts to whole Watts after limiting the setpoint to two
// decimals (10 W resolution).
func KwToWatts(powerKw float64) int64 {
	return decimal.NewFromFloat(powerKw).Round(2).Mul(thousand).IntPart()
}

// WattsToKw converts a reading to kW with three decimals.
func WattsToKw(watts float64) float64 {
	kw, _ := decimal.NewFromFloat(watts).Div(thousand).Round(3).Float64()
	return kw
}

// FormatKw renders a kW setpoint with two decimals.
func FormatKw(powerKw float64) string {
	return decimal.NewFromFloat(powerKw).StringFixed(2)
}
