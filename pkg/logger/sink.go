package logger

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/neilopet/mcpmon/pkg/loglevel"
)

// Sink is the MCP logger sink (C9, spec.md §4.9): it writes
// notifications/message frames to the client's stdout, serialized through
// a single mutex so a write in flight always completes before the next
// begins (spec.md §5 "Log notifications are never interleaved with
// half-written JSON-RPC frames").
type Sink struct {
	mu    sync.Mutex
	w     io.Writer
	level *loglevel.State
}

// NewMCPSink creates a sink writing to w (the client's stdout), filtered
// by level.
func NewMCPSink(w io.Writer, level *loglevel.State) *Sink {
	return &Sink{w: w, level: level}
}

type sinkNotification struct {
	JSONRPC string           `json:"jsonrpc"`
	Method  string           `json:"method"`
	Params  sinkNotifyParams `json:"params"`
}

type sinkNotifyParams struct {
	Level  string         `json:"level"`
	Logger string         `json:"logger"`
	Data   map[string]any `json:"data"`
}

// Emit writes a notifications/message frame at the given severity, if the
// currently negotiated LogLevelState allows it through (IP5). message is
// the human-readable text; extra carries any additional structured fields.
func (s *Sink) Emit(level loglevel.Level, message string, extra map[string]any) {
	if !s.level.Allows(level) {
		return
	}

	data := map[string]any{"message": message, "timestamp": time.Now().UTC().Format(time.RFC3339Nano)}
	for k, v := range extra {
		data[k] = v
	}

	notif := sinkNotification{
		JSONRPC: "2.0",
		Method:  "notifications/message",
		Params: sinkNotifyParams{
			Level:  level.String(),
			Logger: "mcpmon",
			Data:   data,
		},
	}

	raw, err := json.Marshal(notif)
	if err != nil {
		return
	}
	raw = append(raw, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(raw)
}
