package process

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain reinvokes this test binary as a fake child process when
// GO_WANT_HELPER_PROCESS is set, the same trick the standard library's own
// os/exec tests use to get a real, dependency-free child.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		helperProcessMain()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func helperProcessMain() {
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			fmt.Fprint(os.Stdout, "echo: "+line)
		}
		if err != nil {
			return
		}
	}
}

func helperCommand() (string, []string) {
	return os.Args[0], []string{"-test.run=TestMain"}
}

func helperEnv() []string {
	return []string{"GO_WANT_HELPER_PROCESS=1"}
}

func TestSpawnEchoesStdinToStdout(t *testing.T) {
	cmd, args := helperCommand()
	h, err := Spawn(cmd, args, helperEnv(), "")
	require.NoError(t, err)
	defer h.ForceKill()

	_, err = h.Stdin().Write([]byte("hello\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(h.Stdout())
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo: hello\n", line)
	assert.True(t, h.Alive())
	assert.Greater(t, h.PID, 0)
}

func TestKillIsIdempotent(t *testing.T) {
	cmd, args := helperCommand()
	h, err := Spawn(cmd, args, helperEnv(), "")
	require.NoError(t, err)

	require.True(t, h.Kill(syscall.SIGTERM))

	select {
	case <-h.Exit():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit after SIGTERM")
	}

	assert.False(t, h.Alive())
	assert.False(t, h.Kill(syscall.SIGTERM), "killing a dead process must return false")
}

func TestSpawnUnknownExecutableFails(t *testing.T) {
	_, err := Spawn("mcpmon-definitely-not-a-real-binary", nil, nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailed)
}

func TestExitResolvesOnceWithExitCode(t *testing.T) {
	h, err := Spawn("sh", []string{"-c", "exit 7"}, nil, "")
	if err != nil {
		// sh may be unavailable on some minimal CI images; skip rather
		// than fail on an environment gap unrelated to process.go.
		var execErr *exec.Error
		if asExecErr(err, &execErr) {
			t.Skip("sh not available")
		}
	}
	require.NoError(t, err)

	select {
	case res := <-h.Exit():
		assert.Equal(t, 7, res.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("exit did not resolve")
	}
}

func asExecErr(err error, target **exec.Error) bool {
	ee, ok := err.(*exec.Error)
	if ok {
		*target = ee
	}
	return ok
}
