// Package bus is the boundary between the actuation channels and the
// dataflow bus that carries action requests in and statuses out.
//
// Payloads arrive untyped. Normalize accepts the shapes the bus is known to
// deliver (raw bytes, a byte-array wrapper, text) and rejects everything
// else, so a request is either decoded or answered with an error status.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrUnsupportedPayload = errors.New("bus: unsupported payload type")
	ErrInvalidPayload     = errors.New("bus: invalid payload")
	ErrClosed             = errors.New("bus: closed")
)

// ByteArray is implemented by columnar byte buffers handed over by the bus
// runtime.
type ByteArray interface {
	Bytes() []byte
}

// Normalize turns a payload into UTF-8 text bytes.
func Normalize(v any) ([]byte, error) {
	var b []byte
	switch p := v.(type) {
	case []byte:
		b = p
	case json.RawMessage:
		b = p
	case string:
		b = []byte(p)
	case ByteArray:
		b = p.Bytes()
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPayload, v)
	}
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("%w: not valid utf-8", ErrInvalidPayload)
	}
	return b, nil
}

// Request is an action request as it travels on the bus. Target holds the
// target object: the nested "target" member when present, otherwise the
// whole request, so flat requests like {"action":"GRAB","finger_left":[…]}
// work too.
type Request struct {
	Action string          `json:"action"`
	ID     string          `json:"id,omitempty"`
	Cycles int             `json:"cycles,omitempty"`
	Target json.RawMessage `json:"target,omitempty"`
}

// DecodeRequest normalizes v and parses it as a request.
func DecodeRequest(v any) (Request, error) {
	raw, err := Normalize(v)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(req.Action) == "" {
		return Request{}, fmt.Errorf("%w: missing action", ErrInvalidPayload)
	}
	if len(req.Target) == 0 || string(req.Target) == "null" {
		req.Target = json.RawMessage(raw)
	}
	return req, nil
}

// Encode renders the request as JSON.
func (r Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Status is the outcome published for every request.
type Status struct {
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	ID        string    `json:"id,omitempty"`
	Cycles    int       `json:"cycles,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Feedback  any       `json:"feedback,omitempty"`
}

// Encode renders the status as JSON.
func (s Status) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeStatus parses a published status.
func DecodeStatus(data []byte) (Status, error) {
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return s, nil
}
