package ports

import (
	"context"
	"encoding/json"

	"divisa/internal/domain/model"
)

// RateSource is the slice of the rates API the converter depends on.
type RateSource interface {
	GetCurrencyRate(ctx context.Context, code model.Currency) (*model.RateResponse, error)
}

// RatesAPI is the full rates API client.
type RatesAPI interface {
	RateSource
	Request(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error)
	GetAllRates(ctx context.Context) (*model.AllRatesResponse, error)
	GetStatus(ctx context.Context) (*model.StatusResponse, error)
	ForceUpdate(ctx context.Context) (*model.UpdateResponse, error)
	Health(ctx context.Context) (*model.HealthResponse, error)
}
