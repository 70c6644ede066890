// Package logger provides mcpmon's component-tagged structured logging,
// backed by zerolog, plus the MCP logger sink (C9, spec.md §4.9) that
// turns log calls destined for the client into notifications/message
// frames on the client's stdout.
//
// The call-site shape (InfoC, InfoCF, WarnCF, ErrorCF, DebugCF) matches the
// convention already used — but not defined in the retrieved slice — by
// both tinyland-inc-tinyclaw/pkg/core/proxy.go and
// dereknguyen269-picoclaw/pkg/mcp/client.go.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the component-tagged call convention
// the proxy's packages use for their own operational logging. It writes to
// the proxy's own stderr, never to the client's stdout.
type Logger struct {
	z zerolog.Logger
}

// New creates a Logger writing to w at info level, or at debug level when
// verbose is set (the launcher's verbose flag). It does not affect the MCP
// Sink, which is filtered only by the client's negotiated level.
func New(w io.Writer, verbose bool) *Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	z := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{z: z}
}

// Default returns a Logger writing to os.Stderr at info level.
func Default() *Logger {
	return New(os.Stderr, false)
}

func (l *Logger) event(level zerolog.Level, component, msg string, fields map[string]any) {
	ev := l.z.WithLevel(level).Str("component", component)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// InfoC logs msg at info level, tagged with component.
func (l *Logger) InfoC(component, msg string) {
	l.event(zerolog.InfoLevel, component, msg, nil)
}

// InfoCF logs msg at info level with structured fields.
func (l *Logger) InfoCF(component, msg string, fields map[string]any) {
	l.event(zerolog.InfoLevel, component, msg, fields)
}

// WarnC logs msg at warn level, tagged with component.
func (l *Logger) WarnC(component, msg string) {
	l.event(zerolog.WarnLevel, component, msg, nil)
}

// WarnCF logs msg at warn level with structured fields.
func (l *Logger) WarnCF(component, msg string, fields map[string]any) {
	l.event(zerolog.WarnLevel, component, msg, fields)
}

// ErrorC logs msg at error level, tagged with component.
func (l *Logger) ErrorC(component, msg string) {
	l.event(zerolog.ErrorLevel, component, msg, nil)
}

// ErrorCF logs msg at error level with structured fields.
func (l *Logger) ErrorCF(component, msg string, fields map[string]any) {
	l.event(zerolog.ErrorLevel, component, msg, fields)
}

// DebugCF logs msg at debug level with structured fields.
func (l *Logger) DebugCF(component, msg string, fields map[string]any) {
	l.event(zerolog.DebugLevel, component, msg, fields)
}
