package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"divisa/internal/domain/model"
)

// HandleMessage processes a message posted by a page. The reply is nil
// for messages that expect none.
func (w *Worker) HandleMessage(ctx context.Context, msg model.Message) (any, error) {
	switch msg.Type {
	case model.MessageSkipWaiting:
		w.log.Info("Skip waiting requested")
		if err := w.SkipWaiting(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	case model.MessageGetVersion:
		return model.VersionReply{Version: w.cfg.CacheName}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// HandleRawMessage decodes a JSON message and dispatches it.
func (w *Worker) HandleRawMessage(ctx context.Context, data []byte) (any, error) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	return w.HandleMessage(ctx, msg)
}

// NotifyRatesUpdated tells every connected page that fresh rates exist.
func (w *Worker) NotifyRatesUpdated(msg model.Message) int {
	n := w.clients.Broadcast(msg)
	w.log.Info("Notified clients of rates update", "clients", n)
	return n
}
