// Package jsonrpc defines the JSON-RPC 2.0 message shape shared by the
// NDJSON framer, the message buffer, and the MCP interceptor.
package jsonrpc

import (
	"encoding/json"
	"sync/atomic"
)

// Version is the only JSON-RPC version mcpmon speaks.
const Version = "2.0"

// Message is a value type covering requests, notifications, responses, and
// errors. Only the fields relevant to a given message kind are populated;
// the rest travel as their zero value and are omitted on re-marshal.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// IsRequest reports whether m carries both a method and an id.
func (m Message) IsRequest() bool {
	return m.Method != "" && len(m.ID) > 0
}

// IsNotification reports whether m carries a method but no id.
func (m Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// IsResponse reports whether m carries an id but no method (a result or an
// error reply to a prior request).
func (m Message) IsResponse() bool {
	return m.Method == "" && len(m.ID) > 0
}

// Decode parses a single raw JSON line into a Message.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Encode serializes m as a single NDJSON line, including the trailing
// newline the wire protocol requires.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Response builds a successful response message for the given id.
func Response(id json.RawMessage, result json.RawMessage) Message {
	return Message{JSONRPC: Version, ID: id, Result: result}
}

// ErrorResponse builds an error response message for the given id.
func ErrorResponse(id json.RawMessage, code int, message string) Message {
	return Message{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// Notification builds a notification (no id) for the given method.
func Notification(method string, params json.RawMessage) Message {
	return Message{JSONRPC: Version, Method: method, Params: params}
}

// IDGenerator allocates ids for proxy-synthesized requests (initialize
// replay, tools/list refetch, logging/setLevel restore) from a private
// counter disjoint from any id a client would plausibly choose, per
// spec.md §9's "allocate request ids from a proxy-private counter that does
// not collide with client ids" guidance.
type IDGenerator struct {
	counter atomic.Int64
}

// NewIDGenerator returns a generator whose first id is far outside the
// range a hand-rolled client counter would reach in one session.
func NewIDGenerator() *IDGenerator {
	g := &IDGenerator{}
	g.counter.Store(1 << 40)
	return g
}

// Next allocates and encodes the next synthetic request id.
func (g *IDGenerator) Next() json.RawMessage {
	n := g.counter.Add(1)
	raw, _ := json.Marshal(n)
	return raw
}
