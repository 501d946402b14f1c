package api

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/ssargent/mcapkit/pkg/reader"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// AddFileRequest asks the server to catalog a file it can read
type AddFileRequest struct {
	Path string `json:"path"`
}

// MessageResponse is one message as returned by the messages endpoint.
// JSON-encoded payloads are inlined; anything else is base64 in Data.
type MessageResponse struct {
	Topic       string          `json:"topic"`
	ChannelID   uint16          `json:"channel_id"`
	Sequence    uint32          `json:"sequence"`
	LogTime     uint64          `json:"log_time"`
	PublishTime uint64          `json:"publish_time"`
	Encoding    string          `json:"encoding"`
	JSON        json.RawMessage `json:"json,omitempty"`
	Data        []byte          `json:"data,omitempty"`
}

// MessagesPage is the body of a messages response
type MessagesPage struct {
	FileID    string            `json:"file_id"`
	Indexed   bool              `json:"indexed"`
	Messages  []MessageResponse `json:"messages"`
	Truncated bool              `json:"truncated"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Bind   string
	Port   int
	APIKey string
	// Reader is used for every file the server opens
	Reader reader.Options
	Logger logrus.FieldLogger
}

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 10000
)
