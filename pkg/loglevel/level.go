// Package loglevel defines the MCP logging severity scale (spec.md §3
// "LogLevelState") shared by the interceptor (which updates it on
// logging/setLevel) and the logger sink (which filters notifications
// against it). Split into its own package so both pkg/mcp and pkg/logger
// can depend on it without depending on each other.
package loglevel

import "sync/atomic"

// Level is one of the eight syslog-style severities MCP's
// logging/setLevel negotiates, ordered low-to-high from most to least
// severe per spec.md §3.
type Level int

const (
	Emergency Level = iota
	Alert
	Critical
	Error
	Warning
	Notice
	Info
	Debug
)

var names = map[string]Level{
	"emergency": Emergency,
	"alert":     Alert,
	"critical":  Critical,
	"error":     Error,
	"warning":   Warning,
	"notice":    Notice,
	"info":      Info,
	"debug":     Debug,
}

// Parse converts a wire-format level name to a Level. ok is false for any
// value outside the eight RFC 5424 names MCP uses.
func Parse(s string) (Level, bool) {
	l, ok := names[s]
	return l, ok
}

func (l Level) String() string {
	for name, v := range names {
		if v == l {
			return name
		}
	}
	return "info"
}

// State holds the single negotiated client log level, default info per
// spec.md §3. It is safe for concurrent access since the interceptor
// writes it from the client-read path while the logger sink reads it from
// whatever goroutine is about to emit a notification.
type State struct {
	level atomic.Int32
}

// NewState returns a State defaulted to info.
func NewState() *State {
	s := &State{}
	s.level.Store(int32(Info))
	return s
}

// Set updates the negotiated level.
func (s *State) Set(l Level) {
	s.level.Store(int32(l))
}

// Get returns the current negotiated level.
func (s *State) Get() Level {
	return Level(s.level.Load())
}

// Allows reports whether a notification declared at severity l should be
// forwarded given the current threshold: forwarded iff l <= current level
// (spec.md §3: "forwarded iff N <= current level").
func (s *State) Allows(l Level) bool {
	return l <= s.Get()
}
