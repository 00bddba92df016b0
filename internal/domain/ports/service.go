package ports

import (
	"context"

	"divisa/internal/domain/model"
)

type Converter interface {
	Convert(ctx context.Context, amount float64, from, to model.Currency) (*model.ConversionResult, error)
}
