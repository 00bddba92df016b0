package model

import (
	"time"
)

type ConversionResult struct {
	OriginalAmount  float64   `json:"original_amount"`
	FromCurrency    Currency  `json:"from_currency"`
	ToCurrency      Currency  `json:"to_currency"`
	ExchangeRate    float64   `json:"exchange_rate"`
	ConvertedAmount float64   `json:"converted_amount"`
	Timestamp       time.Time `json:"timestamp"`
}

// RateInfo is one entry of the rates map returned by /api/rates.
type RateInfo struct {
	Rate          float64 `json:"rate"`
	DatePublished string  `json:"date_published"`
	LastUpdated   string  `json:"last_updated"`
}

type RatesData struct {
	Rates               map[Currency]RateInfo `json:"rates"`
	CurrenciesAvailable []Currency            `json:"currencies_available"`
	LastUpdated         string                `json:"last_updated"`
	Date                string                `json:"date"`
	BaseCurrency        Currency              `json:"base_currency"`
}

type AllRatesResponse struct {
	Success   bool      `json:"success"`
	Data      RatesData `json:"data"`
	Timestamp string    `json:"timestamp"`
	Source    string    `json:"source"`
}

// RateResponse is the official rate of one foreign currency, in VES per
// unit, as served by /api/rates/{CODE}.
type RateResponse struct {
	Success       bool     `json:"success"`
	Currency      Currency `json:"currency"`
	Rate          float64  `json:"rate"`
	DatePublished string   `json:"date_published"`
	LastUpdated   string   `json:"last_updated"`
	Timestamp     string   `json:"timestamp"`
	Source        string   `json:"source"`
}

type UpdateLog struct {
	ID           int    `json:"id,omitempty"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	RatesUpdated int    `json:"rates_updated"`
	CreatedAt    string `json:"created_at"`
}

type StatusResponse struct {
	Success        bool        `json:"success"`
	SystemStatus   string      `json:"system_status"`
	RatesAvailable int         `json:"rates_available"`
	LastUpdate     string      `json:"last_update"`
	RecentUpdates  []UpdateLog `json:"recent_updates"`
	Timestamp      string      `json:"timestamp"`
}

type UpdateResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// ErrorResult is the uniform failure shape handed to JSON consumers.
type ErrorResult struct {
	Error string `json:"error"`
}

// NewErrorResult flattens any error into the uniform failure shape.
func NewErrorResult(err error) ErrorResult {
	if err == nil {
		return ErrorResult{Error: "unknown error"}
	}
	return ErrorResult{Error: err.Error()}
}
