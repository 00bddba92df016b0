package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"divisa/internal/adapter/repository"
	"divisa/internal/domain/model"
	"divisa/internal/domain/ports"
	"divisa/internal/metrics"
	"divisa/internal/service"
	"divisa/internal/worker"
	"divisa/pkg/logger"
)

const maxMessageSize = 8 * 1024

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Shell is what the handlers need from the worker.
type Shell interface {
	http.Handler
	Version() string
	HandleMessage(ctx context.Context, msg model.Message) (any, error)
	Snapshot(caches []string) model.WorkerState
}

// SyncRegistry queues background sync tags.
type SyncRegistry interface {
	Register(tag string) error
}

type Handler struct {
	shell     Shell
	sync      SyncRegistry
	hub       *worker.Hub
	storage   ports.CacheStorage
	converter ports.Converter
	log       *logger.Logger
	metrics   *metrics.Metrics
}

func NewHandler(shell Shell, sync SyncRegistry, hub *worker.Hub, storage ports.CacheStorage, converter ports.Converter, log *logger.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		shell:     shell,
		sync:      sync,
		hub:       hub,
		storage:   storage,
		converter: converter,
		log:       log,
		metrics:   metrics,
	}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, model.HealthResponse{
		Status:    "healthy",
		Service:   "divisa-shell " + h.shell.Version(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// MessageHandler is the HTTP form of posting a message to the worker.
func (h *Handler) MessageHandler(w http.ResponseWriter, r *http.Request) {
	var msg model.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&msg); err != nil {
		h.sendErrorResponse(w, http.StatusBadRequest, "invalid message body")
		return
	}

	reply, err := h.shell.HandleMessage(r.Context(), msg)
	if err != nil {
		h.handleWorkerError(w, err)
		return
	}
	h.sendSuccessResponse(w, http.StatusOK, reply)
}

func (h *Handler) SyncHandler(w http.ResponseWriter, r *http.Request) {
	var req model.SyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&req); err != nil || req.Tag == "" {
		h.sendErrorResponse(w, http.StatusBadRequest, "missing sync tag")
		return
	}

	if err := h.sync.Register(req.Tag); err != nil {
		h.handleWorkerError(w, err)
		return
	}
	h.log.Info("Background sync registered", "tag", req.Tag)
	h.sendSuccessResponse(w, http.StatusAccepted, req)
}

func (h *Handler) StateHandler(w http.ResponseWriter, r *http.Request) {
	caches, err := h.storage.Keys(r.Context())
	if err != nil {
		h.log.Error("Failed to list caches", "error", err)
		h.sendErrorResponse(w, http.StatusInternalServerError, "failed to list caches")
		return
	}
	h.sendSuccessResponse(w, http.StatusOK, h.shell.Snapshot(caches))
}

func (h *Handler) ClientsHandler(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r)
}

// ConvertHandler converts between the local currency and a foreign one
// using live rates: GET /convert?amount=100&from=USD&to=VES.
func (h *Handler) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	from := model.Currency(r.URL.Query().Get("from"))
	to := model.Currency(r.URL.Query().Get("to"))
	amountStr := r.URL.Query().Get("amount")

	if from == "" || to == "" {
		h.sendErrorResponse(w, http.StatusBadRequest, "missing required parameters: from and to")
		return
	}

	amount := 1.0
	if amountStr != "" {
		var err error
		amount, err = strconv.ParseFloat(amountStr, 64)
		if err != nil {
			h.sendErrorResponse(w, http.StatusBadRequest, "invalid amount parameter")
			return
		}
	}

	result, err := h.converter.Convert(r.Context(), amount, from, to)
	if err != nil {
		h.handleConvertError(w, err)
		return
	}
	h.sendSuccessResponse(w, http.StatusOK, result)
}

func (h *Handler) sendSuccessResponse(w http.ResponseWriter, status int, data interface{}) {
	h.sendJSON(w, status, Response{
		Success: true,
		Data:    data,
	})
}

func (h *Handler) sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, Response{
		Success: false,
		Error:   message,
	})
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) handleConvertError(w http.ResponseWriter, err error) {
	var apiErr *repository.APIError

	switch {
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidCurrency):
		h.sendErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr), errors.Is(err, service.ErrInvalidRate):
		h.log.Error("Conversion failed upstream", "error", err)
		h.sendErrorResponse(w, http.StatusBadGateway, err.Error())
	default:
		h.log.Error("Conversion failed", "error", err)
		h.sendErrorResponse(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) handleWorkerError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	errorMessage := "internal server error"

	switch {
	case errors.Is(err, worker.ErrUnknownMessage):
		statusCode = http.StatusBadRequest
		errorMessage = "unknown message type"
	case errors.Is(err, worker.ErrUnknownSyncTag):
		statusCode = http.StatusBadRequest
		errorMessage = "unknown sync tag"
	case errors.Is(err, worker.ErrNotInstalled):
		statusCode = http.StatusConflict
		errorMessage = "worker is not installed"
	case errors.Is(err, worker.ErrSyncQueueFull):
		statusCode = http.StatusServiceUnavailable
		errorMessage = "sync queue is full"
	}

	h.log.Error("Worker error", "error", err, "status_code", statusCode)
	h.sendErrorResponse(w, statusCode, errorMessage)
}
