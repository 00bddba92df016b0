package utils

import "github.com/shopspring/decimal"

// Round rounds half away from zero to the given number of places.
func Round(value float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(value).Round(places).Float64()
	return f
}
