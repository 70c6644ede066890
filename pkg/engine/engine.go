// Package engine implements the proxy engine (C8, spec.md §4.8): it wires
// C1-C7 and C9 together, owns the proxy's lifetime, and runs the three I/O
// pumps described in spec.md §2's data-flow diagram. Grounded on the
// top-level wiring shape of gatewayCmd in
// tinyland-inc-tinyclaw/cmd/picoclaw/internal/gateway/helpers.go: assemble
// collaborators, start background pumps, block on an OS signal, then tear
// down in sequence.
package engine

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/neilopet/mcpmon/pkg/buffer"
	"github.com/neilopet/mcpmon/pkg/config"
	"github.com/neilopet/mcpmon/pkg/jsonrpc"
	"github.com/neilopet/mcpmon/pkg/labels"
	"github.com/neilopet/mcpmon/pkg/logger"
	"github.com/neilopet/mcpmon/pkg/loglevel"
	"github.com/neilopet/mcpmon/pkg/mcp"
	"github.com/neilopet/mcpmon/pkg/ndjson"
	"github.com/neilopet/mcpmon/pkg/process"
	"github.com/neilopet/mcpmon/pkg/restart"
	"github.com/neilopet/mcpmon/pkg/watch"
)

// syncWriter serializes writes to a shared io.Writer, used for the
// client's stdout, which both the server->client pump and the C9 logger
// sink write to (spec.md §5 "Writes to the client's stdout must be
// serialized").
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Engine owns a single proxy session: one client connection, one watcher,
// and a succession of children managed by the restart controller.
type Engine struct {
	cfg *config.ProxyConfig
	log *logger.Logger

	clientIn  io.Reader
	clientOut *syncWriter
	childErr  io.Writer

	level       *loglevel.State
	interceptor *mcp.Interceptor
	buf         *buffer.Buffer
	sink        *logger.Sink
	ctrl        *restart.Controller
	watcher     *watch.Source

	startedMS int64
}

// New constructs an Engine. startedMS is the epoch-millisecond timestamp
// used for the container-label mcpmon.started value (spec.md §4.7);
// cfg.SessionID is used as given for mcpmon.session.
func New(cfg *config.ProxyConfig, clientIn io.Reader, clientOut, childErr io.Writer, log *logger.Logger, startedMS int64) *Engine {
	level := loglevel.NewState()
	out := &syncWriter{w: clientOut}

	return &Engine{
		cfg:         cfg,
		log:         log,
		clientIn:    clientIn,
		clientOut:   out,
		childErr:    childErr,
		level:       level,
		interceptor: mcp.New(level, jsonrpc.NewIDGenerator()),
		buf:         buffer.New(0, 0),
		sink:        logger.NewMCPSink(out, level),
		startedMS:   startedMS,
	}
}

// Run starts the engine and blocks until shutdown (signal-triggered or
// ctx cancellation), returning the exit code to use (spec.md §6 "Exit
// codes").
func (e *Engine) Run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	restartCfg := restart.Config{
		RestartDebounce: e.cfg.RestartDebounce,
		KillGrace:       e.cfg.KillGrace,
		ReadinessDelay:  e.cfg.ReadinessDelay,
		Spawn:           e.spawnChild,
		Interceptor:     e.interceptor,
		Buffer:          e.buf,
		Log:             e.log,
		OnChildReady:    e.onChildReady,
		OnWriteToChild:  e.writeToChild,
		NotifyClient:    e.notifyClient,
	}
	e.ctrl = restart.New(restartCfg)

	if err := e.ctrl.Start(ctx); err != nil {
		e.log.ErrorCF("engine", "initial spawn failed", map[string]any{"error": err.Error()})
		return 1
	}

	var err error
	e.watcher, err = watch.New(e.cfg.WatchPaths, e.cfg.DataDir, e.log)
	if err != nil {
		e.log.WarnCF("engine", "watcher unavailable", map[string]any{"error": err.Error()})
	} else {
		go e.pumpChanges(e.watcher)
	}

	go e.pumpClientIn(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	return e.shutdown()
}

// shutdown implements spec.md §4.8's termination sequence and is safe to
// call once per Run (Controller.Shutdown itself is idempotent, IP9).
func (e *Engine) shutdown() int {
	if e.watcher != nil {
		_ = e.watcher.Close()
	}

	child := e.ctrl.Child()
	e.ctrl.Shutdown()

	if child == nil {
		return 0
	}
	res := <-child.Exit()
	if res.Signal != nil || res.Code != 0 {
		if res.Code > 0 {
			return res.Code
		}
		return 1
	}
	return 0
}

// spawnChild starts a new child with session labels injected into argv
// when the command is a container-runtime `run` invocation (spec.md §4.7),
// and starts pumping its output right away, so the restart controller's
// initialize replay to the new child can receive its answer.
func (e *Engine) spawnChild() (*process.Handle, error) {
	argv := labels.Inject(e.cfg.Command, e.cfg.Args, e.cfg.SessionID, os.Getpid(), e.startedMS)
	env := make([]string, 0, len(e.cfg.Environment))
	for k, v := range e.cfg.Environment {
		env = append(env, k+"="+v)
	}
	h, err := process.Spawn(e.cfg.Command, argv, env, "")
	if err == nil {
		e.pumpChild(h)
	}
	return h, err
}

// writeToChild is the restart controller's hook for delivering
// internally-generated requests (initialize replay, setLevel restore,
// tools/list refetch) to a specific child's stdin.
func (e *Engine) writeToChild(child *process.Handle, msg jsonrpc.Message) error {
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}
	_, err = child.Stdin().Write(data)
	return err
}

// onChildReady runs once per successful restart (spec.md §4.5
// Starting-After-Restart → Running): it drains buffered client traffic
// onto the new child's stdin in FIFO order (IP2, IP3 already guaranteed
// the initialize replay preceded this call), and notifies the client the
// tool set may have changed. The child's pump was started by spawnChild.
func (e *Engine) onChildReady(child *process.Handle, buffered []jsonrpc.Message, toolsChanged bool) {
	for _, msg := range buffered {
		if err := e.writeToChild(child, msg); err != nil {
			e.log.WarnCF("engine", "failed writing buffered message to new child", map[string]any{"error": err.Error()})
			break
		}
	}

	if toolsChanged {
		e.writeToClient(mcp.ToolsListChangedNotification())
	}
}

// pumpChild drains one child's stdout (through the framer and interceptor)
// to the client, and its stderr to the engine's own stderr. It exits on
// its own once the child's pipes close, i.e. on exit — no explicit
// cancellation is needed since a dead child's pipes return EOF.
func (e *Engine) pumpChild(child *process.Handle) {
	if child == nil {
		return
	}
	go func() {
		scanner := ndjson.NewScanner(child.Stdout())
		for {
			frame, err := scanner.Next()
			if err != nil {
				return
			}
			if frame.Err != nil {
				e.log.DebugCF("engine", "malformed line from child", map[string]any{"error": frame.Err.Error()})
				continue
			}
			if out := e.interceptor.HandleServerToClient(frame.Message); out != nil {
				e.writeToClient(*out)
			}
		}
	}()
	go func() {
		_, _ = io.Copy(e.childErr, child.Stderr())
	}()
}

// pumpClientIn drains client stdin through the framer and interceptor,
// forwarding or buffering each message via the restart controller, per
// spec.md §4.6's client->server rules.
func (e *Engine) pumpClientIn(ctx context.Context) {
	scanner := ndjson.NewScanner(e.clientIn)
	for {
		frame, err := scanner.Next()
		if err != nil {
			return
		}
		if frame.Err != nil {
			e.log.DebugCF("engine", "malformed line from client", map[string]any{"error": frame.Err.Error()})
			continue
		}

		action := e.interceptor.HandleClientToServer(frame.Message, e.ctrl.IsRestarting())

		if action.Reply != nil {
			e.writeToClient(*action.Reply)
		}
		if action.Reload {
			go e.ctrl.RequestReload(ctx)
		}
		if action.Forward != nil {
			if err := e.ctrl.Forward(*action.Forward); err != nil {
				e.log.WarnCF("engine", "forward to child failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// pumpChanges forwards the change source's events into the restart
// controller's debouncer (spec.md §4.5).
func (e *Engine) pumpChanges(src *watch.Source) {
	for range src.Changes() {
		e.ctrl.NotifyChange()
	}
}

// notifyClient emits a C9 log notification (spec.md §4.9) at warning
// severity to the client's stdout.
func (e *Engine) notifyClient(message string) {
	e.sink.Emit(loglevel.Warning, message, nil)
}

func (e *Engine) writeToClient(msg jsonrpc.Message) {
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return
	}
	_, _ = e.clientOut.Write(data)
}
