package model

import "strings"

type Currency string

const (
	VES Currency = "VES"
	USD Currency = "USD"
	EUR Currency = "EUR"
	CNY Currency = "CNY"
	TRY Currency = "TRY"
	RUB Currency = "RUB"
)

// LocalCurrency is the currency every published rate is quoted in.
const LocalCurrency = VES

// SupportedCurrencies are the foreign currencies the rates API publishes.
var SupportedCurrencies = []Currency{USD, EUR, CNY, TRY, RUB}

// NormalizeCurrency upper-cases and trims a user supplied code.
func NormalizeCurrency(code string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(code)))
}

func (c Currency) IsSupported() bool {
	for _, supportedCurrency := range SupportedCurrencies {
		if c == supportedCurrency {
			return true
		}
	}
	return false
}

// IsValid reports whether c looks like an ISO 4217 code.
func (c Currency) IsValid() bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (c Currency) String() string {
	return string(c)
}
