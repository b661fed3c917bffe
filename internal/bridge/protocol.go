// Package bridge implements the cross-domain storage bridge: a small
// key/value service reachable over window messaging by pages on allowed
// origins. Bridge is the reference processor; the browser document served
// by PageHandler must answer every message exactly as Bridge does.
package bridge

import "errors"

// Message types.
const (
	TypeGet    = "get"
	TypeSet    = "set"
	TypeBackup = "backup"
	TypeReady  = "storage-ready"
)

// Request is a message posted by the parent window.
type Request struct {
	Type      string  `json:"type"`
	Key       string  `json:"key"`
	Value     *string `json:"value,omitempty"`
	RequestID string  `json:"requestId"`
}

// Response answers exactly one Request.
type Response struct {
	RequestID string  `json:"requestId"`
	Success   bool    `json:"success"`
	Value     *string `json:"value,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Ready is announced once to the parent when the bridge loads.
type Ready struct {
	Type string `json:"type"`
}

// ReadyMessage is the load announcement.
var ReadyMessage = Ready{Type: TypeReady}

var (
	errUnknownType  = errors.New("unknown message type")
	errMissingKey   = errors.New("key is required")
	errMissingValue = errors.New("value is required")
	errMalformed    = errors.New("malformed message")
)
