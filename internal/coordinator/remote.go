package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"divisa/internal/domain/model"
	"divisa/pkg/logger"
)

// Remote talks to a running shell server: HTTP for messages and sync
// registration, a websocket for messages pushed by the worker.
type Remote struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
	log     *logger.Logger
}

func NewRemote(baseURL string, client *http.Client, log *logger.Logger) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		dialer:  websocket.DefaultDialer,
		log:     log,
	}
}

type remoteResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (r *Remote) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shell unreachable: %w", err)
	}
	defer resp.Body.Close()

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode shell response: %w", err)
	}
	if resp.StatusCode >= 300 || !out.Success {
		return nil, fmt.Errorf("shell returned %d: %s", resp.StatusCode, out.Error)
	}
	return out.Data, nil
}

func (r *Remote) RegisterSync(ctx context.Context, tag string) error {
	_, err := r.post(ctx, "/sw/sync", model.SyncRequest{Tag: tag})
	return err
}

func (r *Remote) PostMessage(ctx context.Context, msg model.Message) error {
	_, err := r.post(ctx, "/sw/message", msg)
	return err
}

// Version asks the worker for its cache name.
func (r *Remote) Version(ctx context.Context) (string, error) {
	data, err := r.post(ctx, "/sw/message", model.Message{Type: model.MessageGetVersion})
	if err != nil {
		return "", err
	}
	var reply model.VersionReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("failed to decode version: %w", err)
	}
	return reply.Version, nil
}

// Listen forwards worker messages to the bus until ctx is done,
// reconnecting with a capped backoff.
func (r *Remote) Listen(ctx context.Context, bus *Bus) {
	wsURL := "ws" + strings.TrimPrefix(r.baseURL, "http") + "/sw/clients"
	backoff := time.Second

	for {
		err := r.listenOnce(ctx, wsURL, bus)
		if ctx.Err() != nil {
			return
		}
		r.log.Warn("Worker channel closed, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func (r *Remote) listenOnce(ctx context.Context, wsURL string, bus *Bus) error {
	conn, _, err := r.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	r.log.Info("Connected to worker channel", "url", wsURL)
	for {
		var msg model.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type == "" {
			continue
		}
		bus.Publish(Event{Type: EventMessage, Data: msg})
	}
}
