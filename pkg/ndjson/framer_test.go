package ndjson

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScannerParsesValidLines(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
		`{"jsonrpc":"2.0","id":1,"result":{}}` + "\n")
	s := NewScanner(in)

	f1, err := s.Next()
	require.NoError(t, err)
	require.Nil(t, f1.Err)
	assert.Equal(t, "ping", f1.Message.Method)

	f2, err := s.Next()
	require.NoError(t, err)
	require.Nil(t, f2.Err)
	assert.True(t, f2.Message.IsResponse())

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestScannerToleratesGarbageLines(t *testing.T) {
	in := strings.NewReader("not json at all\n" + `{"jsonrpc":"2.0","method":"notifications/x"}` + "\n")
	s := NewScanner(in)

	f1, err := s.Next()
	require.NoError(t, err)
	require.Error(t, f1.Err)
	assert.Equal(t, "not json at all", f1.Raw)

	f2, err := s.Next()
	require.NoError(t, err)
	require.NoError(t, f2.Err)
	assert.True(t, f2.Message.IsNotification())
}

func TestScannerStripsTrailingCR(t *testing.T) {
	in := strings.NewReader("{\"jsonrpc\":\"2.0\",\"method\":\"ping\"}\r\n")
	s := NewScanner(in)
	f, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","method":"ping"}`, f.Raw)
}

func TestScannerRetainsPartialTrailingLine(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"ping"}`)
	s := NewScanner(in)
	f, err := s.Next()
	require.NoError(t, err)
	assert.True(t, f.Message.IsNotification())
}

func TestScannerSkipsBlankLines(t *testing.T) {
	in := strings.NewReader("\n\n" + `{"jsonrpc":"2.0","method":"ping"}` + "\n")
	s := NewScanner(in)
	f, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","method":"ping"}`, f.Raw)
	assert.Nil(t, f.Err)
	assert.True(t, f.Message.IsNotification())

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLinesDrainsUntilEOF(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"a"}` + "\n" + `{"jsonrpc":"2.0","method":"b"}` + "\n")
	ch := make(chan Frame, 8)
	Lines(in, ch)

	var methods []string
	for f := range ch {
		methods = append(methods, f.Message.Method)
	}
	assert.Equal(t, []string{"a", "b"}, methods)
}
