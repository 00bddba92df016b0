package model

import "time"

type MessageType string

const (
	MessageSkipWaiting  MessageType = "SKIP_WAITING"
	MessageGetVersion   MessageType = "GET_VERSION"
	MessageRatesUpdated MessageType = "RATES_UPDATED"
)

// Message travels between the shell worker and its pages.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

func NewRatesUpdated(at time.Time) Message {
	return Message{Type: MessageRatesUpdated, Timestamp: at.UTC().Format(time.RFC3339Nano)}
}

// VersionReply answers GET_VERSION.
type VersionReply struct {
	Version string `json:"version"`
}

// SyncRequest registers a background sync tag.
type SyncRequest struct {
	Tag string `json:"tag"`
}

// WorkerState describes the shell worker as seen by pages.
type WorkerState struct {
	State       string   `json:"state"`
	Version     string   `json:"version"`
	Controlling bool     `json:"controlling"`
	Waiting     bool     `json:"waiting"`
	Caches      []string `json:"caches"`
}
