// Package buffer implements the bounded client->server message FIFO used
// during a restart cycle (C4, spec.md §4.4). Messages are appended while
// the restart controller is in DebouncingRestart, Killing, or
// Starting-After-Restart, and drained exactly once, in insertion order,
// after the new child is ready.
package buffer

import (
	"encoding/json"
	"sync"

	"github.com/neilopet/mcpmon/pkg/jsonrpc"
)

// DefaultMaxMessages is the default message-count capacity (spec.md §3
// "recommended >= 1024 messages").
const DefaultMaxMessages = 1024

// DefaultMaxBytes is the default serialized-size capacity (spec.md §3
// "or >= 1 MiB of JSON").
const DefaultMaxBytes = 1 << 20

// Buffer is a bounded FIFO with drop-oldest overflow semantics. It is safe
// for concurrent use: Append is called from the client-read pump, Drain
// from the restart controller, both potentially from different goroutines.
type Buffer struct {
	mu       sync.Mutex
	items    []jsonrpc.Message
	bytes    int
	maxItems int
	maxBytes int
	dropped  int
}

// New creates a Buffer with the given capacity. A maxItems or maxBytes of
// 0 selects the package default for that dimension.
func New(maxItems, maxBytes int) *Buffer {
	if maxItems <= 0 {
		maxItems = DefaultMaxMessages
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Buffer{maxItems: maxItems, maxBytes: maxBytes}
}

func sizeOf(m jsonrpc.Message) int {
	data, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return len(data)
}

// Append adds msg to the tail of the buffer. It never blocks. If the
// buffer is at capacity (by count or by byte size), the oldest message is
// dropped and the dropped-count counter is incremented (spec.md §4.4
// overflow policy).
func (b *Buffer) Append(msg jsonrpc.Message) {
	sz := sizeOf(msg)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, msg)
	b.bytes += sz

	for (len(b.items) > b.maxItems || b.bytes > b.maxBytes) && len(b.items) > 1 {
		oldest := b.items[0]
		b.items = b.items[1:]
		b.bytes -= sizeOf(oldest)
		b.dropped++
	}
}

// Len reports the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Drain atomically empties the buffer and returns its contents in FIFO
// order, along with the number of messages dropped due to overflow since
// the previous drain. The dropped counter resets on every drain so it is
// reported exactly once, per spec.md §4.4.
func (b *Buffer) Drain() ([]jsonrpc.Message, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.items
	dropped := b.dropped
	b.items = nil
	b.bytes = 0
	b.dropped = 0
	return out, dropped
}
