// Package ndjson splits an arbitrary byte stream on newlines and parses
// each line as a JSON-RPC message, tolerating garbage lines the way a
// well-behaved stdio pump must (spec.md §4.3).
package ndjson

import (
	"bufio"
	"io"
	"strings"

	"github.com/neilopet/mcpmon/pkg/jsonrpc"
)

// Frame is one decoded line: either a parsed Message, or a ParseError
// carrying the raw line that failed to decode. Exactly one of Message/Err
// is meaningful; callers branch on Err.
type Frame struct {
	Raw     string
	Message jsonrpc.Message
	Err     error
}

// Scanner reads NDJSON frames from an underlying reader. It is the
// generalized form of the inline read loop in the teacher's MCP client
// (readLoop in dereknguyen269-picoclaw/pkg/mcp/client.go): pulled out into
// its own type so both the client-facing and child-facing pumps can share
// it instead of duplicating the loop.
type Scanner struct {
	r *bufio.Reader
}

// NewScanner wraps r for line-oriented NDJSON reading. The buffer is sized
// generously (1 MiB) to accommodate single-line tool results without
// forcing a reallocation, matching the teacher's bufio.NewReaderSize use.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 1<<20)}
}

// Next reads the next newline-terminated line and parses it. It returns
// io.EOF (unwrapped, via errors matching) only when the underlying stream
// is exhausted with no further bytes; a non-EOF read error is also
// returned, and the caller should stop pumping. Parse errors (malformed
// JSON) are reported inside the returned Frame, not as the function's
// error — the sequence continues so the caller can log and keep going.
// Blank lines are skipped and never produce a Frame.
func (s *Scanner) Next() (Frame, error) {
	line, err := s.r.ReadString('\n')
	for err == nil && strings.TrimSpace(line) == "" {
		line, err = s.r.ReadString('\n')
	}
	if err != nil && len(line) == 0 {
		return Frame{}, err
	}
	// err may be io.EOF here with a non-empty trailing line (no final
	// newline); still parse it, then report EOF to the caller on the call
	// after this one returns an empty line.
	trimmed := strings.TrimSuffix(line, "\n")
	trimmed = strings.TrimSuffix(trimmed, "\r")
	if strings.TrimSpace(trimmed) == "" {
		return Frame{}, err
	}

	msg, decodeErr := jsonrpc.Decode([]byte(trimmed))
	frame := Frame{Raw: trimmed, Message: msg, Err: decodeErr}
	if err != nil {
		// Deliver the final partial line's parse result, then surface EOF
		// on the next call by returning it now alongside a nil frame-level
		// read error: the caller already has everything from this line.
		return frame, nil
	}
	return frame, nil
}

// Lines is a convenience that drains the scanner into ch until the
// underlying reader ends or returns a non-EOF error, then closes ch. It is
// meant to be run in its own goroutine by a pump.
func Lines(r io.Reader, ch chan<- Frame) {
	defer close(ch)
	s := NewScanner(r)
	for {
		frame, err := s.Next()
		if err != nil {
			return
		}
		if frame.Raw == "" && frame.Err == nil {
			continue
		}
		ch <- frame
	}
}
