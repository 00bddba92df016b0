package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"divisa/internal/domain/model"
	"divisa/internal/domain/ports"
	"divisa/internal/metrics"
	"divisa/pkg/logger"
	"divisa/pkg/utils"
)

var (
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidRate     = errors.New("invalid exchange rate")
)

type ConverterService struct {
	source        ports.RateSource
	localCurrency model.Currency
	log           *logger.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewConverterService(source ports.RateSource, localCurrency model.Currency, log *logger.Logger, m *metrics.Metrics) *ConverterService {
	if localCurrency == "" {
		localCurrency = model.LocalCurrency
	}
	return &ConverterService{
		source:        source,
		localCurrency: localCurrency,
		log:           log,
		metrics:       m,
		now:           time.Now,
	}
}

// Convert converts amount between the local currency and a foreign one.
// Exactly one rate lookup is made: for `to` when converting out of the
// local currency, for `from` otherwise. Errors from the rate source are
// returned as is.
func (s *ConverterService) Convert(ctx context.Context, amount float64, from, to model.Currency) (*model.ConversionResult, error) {
	from = model.NormalizeCurrency(string(from))
	to = model.NormalizeCurrency(string(to))

	if !from.IsValid() || !to.IsValid() {
		s.observe("invalid")
		return nil, ErrInvalidCurrency
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		s.observe("invalid")
		return nil, ErrInvalidAmount
	}

	fromLocal := from == s.localCurrency
	lookup := from
	if fromLocal {
		lookup = to
	}

	rate, err := s.source.GetCurrencyRate(ctx, lookup)
	if err != nil {
		s.log.Error("Failed to fetch rate for conversion", "currency", lookup, "error", err)
		s.observe("error")
		return nil, err
	}
	if rate.Rate <= 0 || math.IsNaN(rate.Rate) || math.IsInf(rate.Rate, 0) {
		s.observe("invalid")
		return nil, ErrInvalidRate
	}

	value := decimal.NewFromFloat(amount)
	r := decimal.NewFromFloat(rate.Rate)
	if fromLocal {
		value = value.DivRound(r, 16)
	} else {
		value = value.Mul(r)
	}
	converted := utils.Round(value.InexactFloat64(), 2)

	s.observe("success")
	s.log.Debug("Converted currency", "amount", amount, "from", from, "to", to, "rate", rate.Rate, "result", converted)

	return &model.ConversionResult{
		OriginalAmount:  amount,
		FromCurrency:    from,
		ToCurrency:      to,
		ExchangeRate:    rate.Rate,
		ConvertedAmount: converted,
		Timestamp:       s.now().UTC(),
	}, nil
}

func (s *ConverterService) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ConversionsTotal.WithLabelValues(outcome).Inc()
	}
}
