package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tutu-network/anoncredits/internal/security"
)

// Event is one inbound window message: the sender's origin and the raw
// payload.
type Event struct {
	Origin string
	Data   []byte
}

// Bridge validates message origins and executes get/set/backup against a
// Storage.
type Bridge struct {
	allow   *security.AllowList
	storage Storage
	log     *slog.Logger
}

// New creates a Bridge.
func New(allow *security.AllowList, storage Storage, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{allow: allow, storage: storage, log: log}
}

// Handle processes one request. ok is false when the origin is not allowed;
// the message is then dropped and no response exists. Storage failures are
// reported in the Response, never returned.
func (b *Bridge) Handle(origin string, req Request) (resp Response, ok bool) {
	if !b.allow.Allowed(origin) {
		b.log.Debug("bridge message dropped", "origin", origin, "type", req.Type)
		return Response{}, false
	}
	return b.execute(req), true
}

// HandleRaw decodes data and processes it like Handle. Undecodable
// payloads from allowed origins get a failure response.
func (b *Bridge) HandleRaw(origin string, data []byte) (Response, bool) {
	if !b.allow.Allowed(origin) {
		b.log.Debug("bridge message dropped", "origin", origin)
		return Response{}, false
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return failure("", errMalformed), true
	}
	return b.execute(req), true
}

// Serve announces readiness through post, then handles events one at a time
// until ctx is done or events is closed. Dropped messages produce no post.
func (b *Bridge) Serve(ctx context.Context, events <-chan Event, post func(any)) {
	post(ReadyMessage)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if resp, ok := b.HandleRaw(ev.Origin, ev.Data); ok {
				post(resp)
			}
		}
	}
}

func (b *Bridge) execute(req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = failure(req.RequestID, fmt.Errorf("%v", r))
		}
	}()

	if req.Key == "" && (req.Type == TypeGet || req.Type == TypeSet || req.Type == TypeBackup) {
		return failure(req.RequestID, errMissingKey)
	}

	switch req.Type {
	case TypeGet:
		v, found, err := b.storage.Get(req.Key)
		if err != nil {
			return failure(req.RequestID, err)
		}
		resp = Response{RequestID: req.RequestID, Success: true}
		if found {
			resp.Value = &v
		}
		return resp

	case TypeSet, TypeBackup:
		if req.Value == nil {
			return failure(req.RequestID, errMissingValue)
		}
		if err := b.storage.Set(req.Key, *req.Value); err != nil {
			return failure(req.RequestID, err)
		}
		v := *req.Value
		return Response{RequestID: req.RequestID, Success: true, Value: &v}

	default:
		return failure(req.RequestID, errUnknownType)
	}
}

func failure(requestID string, err error) Response {
	return Response{RequestID: requestID, Error: err.Error()}
}
