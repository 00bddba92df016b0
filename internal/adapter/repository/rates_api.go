package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"divisa/internal/domain/model"
	"divisa/internal/metrics"
	"divisa/pkg/logger"
)

const (
	userAgent       = "divisa-client/1.1.0"
	maxResponseSize = 4 << 20
)

// APIError is the single failure type returned by RatesAPI. Transport
// errors, non-2xx statuses, malformed bodies and error payloads all end
// up here.
type APIError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return "error connecting with API: " + e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

type RatesAPI struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
	metrics    *metrics.Metrics
}

type Option func(*RatesAPI)

// WithHTTPClient replaces the default client. The timeout passed to
// NewRatesAPI is applied to it.
func WithHTTPClient(c *http.Client) Option {
	return func(r *RatesAPI) {
		r.httpClient = c
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *RatesAPI) {
		r.metrics = m
	}
}

func NewRatesAPI(baseURL string, timeout time.Duration, log *logger.Logger, opts ...Option) *RatesAPI {
	r := &RatesAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		log:        log,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.httpClient.Timeout = timeout
	return r
}

// Request sends one JSON request and returns the decoded body. It never
// retries.
func (r *RatesAPI) Request(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	raw, err := r.do(ctx, method, endpoint, body)
	r.observe(endpoint, err)
	if err != nil {
		r.log.Debug("Rates API request failed", "method", method, "endpoint", endpoint, "error", err)
		return nil, err
	}
	return raw, nil
}

func (r *RatesAPI) do(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Message: fmt.Sprintf("failed to encode request: %v", err), Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+endpoint, reader)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("failed to create request: %v", err), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			StatusCode: resp.StatusCode,
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("failed to read response: %v", err), StatusCode: resp.StatusCode, Err: err}
	}

	if !json.Valid(data) {
		return nil, &APIError{Message: "invalid JSON in response", StatusCode: resp.StatusCode}
	}

	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	// Arrays and scalars are valid payloads that simply carry no error.
	if err := json.Unmarshal(data, &probe); err == nil {
		if msg := errorMessage(probe.Error); msg != "" {
			return nil, &APIError{Message: msg, StatusCode: resp.StatusCode}
		}
	}

	return json.RawMessage(data), nil
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (r *RatesAPI) observe(endpoint string, err error) {
	if r.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.metrics.APIRequestsTotal.WithLabelValues(endpointLabel(endpoint), outcome).Inc()
}

// knownEndpoints bounds the endpoint label; anything else is "other".
var knownEndpoints = map[string]bool{
	"/api/rates":   true,
	"/api/status":  true,
	"/api/update":  true,
	"/api/health":  true,
	"/api/convert": true,
	"/api/compare": true,
	"/api/metrics": true,
}

func endpointLabel(endpoint string) string {
	if i := strings.IndexAny(endpoint, "?#"); i >= 0 {
		endpoint = endpoint[:i]
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")

	switch {
	case knownEndpoints[endpoint]:
		return endpoint
	case strings.HasPrefix(endpoint, "/api/rates/"):
		return "/api/rates/{code}"
	default:
		return "other"
	}
}

func (r *RatesAPI) get(ctx context.Context, endpoint string, out any) error {
	return r.call(ctx, http.MethodGet, endpoint, out)
}

func (r *RatesAPI) call(ctx context.Context, method, endpoint string, out any) error {
	raw, err := r.Request(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Message: fmt.Sprintf("failed to decode response: %v", err), Err: err}
	}
	return nil
}

func (r *RatesAPI) GetAllRates(ctx context.Context) (*model.AllRatesResponse, error) {
	var resp model.AllRatesResponse
	if err := r.get(ctx, "/api/rates", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCurrencyRate fetches /api/rates/{CODE}; the code is upper-cased.
func (r *RatesAPI) GetCurrencyRate(ctx context.Context, code model.Currency) (*model.RateResponse, error) {
	code = model.NormalizeCurrency(string(code))
	if code == "" {
		return nil, &APIError{Message: "currency code is required", Err: errors.New("empty currency code")}
	}

	var resp model.RateResponse
	if err := r.get(ctx, "/api/rates/"+code.String(), &resp); err != nil {
		return nil, err
	}
	if resp.Currency == "" {
		resp.Currency = code
	}
	return &resp, nil
}

func (r *RatesAPI) GetStatus(ctx context.Context) (*model.StatusResponse, error) {
	var resp model.StatusResponse
	if err := r.get(ctx, "/api/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ForceUpdate asks the API to scrape the authority again.
func (r *RatesAPI) ForceUpdate(ctx context.Context) (*model.UpdateResponse, error) {
	var resp model.UpdateResponse
	if err := r.call(ctx, http.MethodPost, "/api/update", &resp); err != nil {
		return nil, err
	}
	r.log.Info("Rates update requested", "message", resp.Message)
	return &resp, nil
}

func (r *RatesAPI) Health(ctx context.Context) (*model.HealthResponse, error) {
	var resp model.HealthResponse
	if err := r.get(ctx, "/api/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
