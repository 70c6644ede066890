// Package restart implements the restart controller (C5, spec.md §4.5):
// the debounced state machine that coordinates killing the current child,
// spawning its replacement, replaying the MCP handshake, and draining
// buffered client traffic. It is the single coordinator spec.md §5
// requires: once Start has launched it, every state transition happens on
// one goroutine (run); other goroutines only read RestartState, under a
// mutex, so no proxy-visible mutable state is ever mutated from two places
// at once.
package restart

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/neilopet/mcpmon/pkg/buffer"
	"github.com/neilopet/mcpmon/pkg/jsonrpc"
	"github.com/neilopet/mcpmon/pkg/logger"
	"github.com/neilopet/mcpmon/pkg/mcp"
	"github.com/neilopet/mcpmon/pkg/process"
)

// State is one of spec.md §3's RestartState values.
type State int

const (
	Idle State = iota
	Starting
	Running
	DebouncingRestart
	Killing
	StartingAfterRestart
	Failed
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case DebouncingRestart:
		return "debouncing_restart"
	case Killing:
		return "killing"
	case StartingAfterRestart:
		return "starting_after_restart"
	case Failed:
		return "failed"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Spawner starts a new child given the configured command and args. It is
// a seam so tests can substitute a fake without touching os/exec;
// production code wires a closure (pkg/engine's spawnChild) that applies
// pkg/labels to the configured argv and calls process.Spawn.
type Spawner func() (*process.Handle, error)

// Config parameterizes the controller from spec.md §3's ProxyConfig
// subset relevant to restarts.
type Config struct {
	RestartDebounce   time.Duration
	KillGrace         time.Duration
	ReadinessDelay    time.Duration
	ReplayDeadlineMul int // multiplier on ReadinessDelay for the initialize-replay wait, spec.md §4.6 "recommended 3"

	Spawn       Spawner
	Interceptor *mcp.Interceptor
	Buffer      *buffer.Buffer
	Log         *logger.Logger

	// OnChildReady is invoked once per successful restart, after replay,
	// setLevel restore, and tools/list refetch complete, with the
	// messages drained from Buffer in FIFO order, so the engine can write
	// them (and any notifications) to the new child / client.
	OnChildReady func(child *process.Handle, buffered []jsonrpc.Message, toolsChanged bool)
	// OnWriteToChild is how the controller delivers internally-generated
	// requests (initialize replay, setLevel restore, tools/list refetch)
	// to the new child's stdin; the engine supplies the actual writer.
	OnWriteToChild func(child *process.Handle, msg jsonrpc.Message) error
	// NotifyClient delivers a C9 log notification straight to the client,
	// used for the two conditions spec.md §7 calls out explicitly: a
	// Failed state after exhausting the retry, and a buffer-overflow
	// warning on the next successful drain.
	NotifyClient func(message string)
}

func (c *Config) fillDefaults() {
	if c.RestartDebounce <= 0 {
		c.RestartDebounce = time.Second
	}
	if c.KillGrace <= 0 {
		c.KillGrace = time.Second
	}
	if c.ReadinessDelay <= 0 {
		c.ReadinessDelay = 2 * time.Second
	}
	if c.ReplayDeadlineMul <= 0 {
		c.ReplayDeadlineMul = 3
	}
}

// Controller drives spec.md §4.5's state machine. After Start, only the run
// goroutine writes state and child; other goroutines read them under mu
// and talk to run through channels, matching spec.md §5's
// single-coordinator model.
type Controller struct {
	cfg Config

	mu    sync.Mutex
	state State
	child *process.Handle

	changeCh  chan struct{}
	reloadCh  chan chan reloadOutcome
	shutdown  chan struct{}
	done      chan struct{}
	shutdowns sync.Once
}

type reloadOutcome struct {
	accepted bool
}

// New creates a Controller in state Idle. Call Start to begin the event
// loop and spawn the first child.
func New(cfg Config) *Controller {
	cfg.fillDefaults()
	return &Controller{
		cfg:      cfg,
		changeCh: make(chan struct{}, 1),
		reloadCh: make(chan chan reloadOutcome),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Child returns the currently active handle, or nil if none is live.
func (c *Controller) Child() *process.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.child
}

func (c *Controller) setChild(h *process.Handle) {
	c.mu.Lock()
	c.child = h
	c.mu.Unlock()
}

// IsRestarting reports whether the controller is in any state other than
// Running or Idle — used by the interceptor to reject a concurrent manual
// reload (spec.md §4.6 rule 3).
func (c *Controller) IsRestarting() bool {
	switch c.State() {
	case Running, Idle:
		return false
	default:
		return true
	}
}

// NotifyChange signals a filesystem change event (spec.md §4.5 "Running →
// change event arrives → DebouncingRestart"). Non-blocking: the channel
// has capacity 1, and a pending unread signal already implies "something
// changed," so extra events coalesce for free.
func (c *Controller) NotifyChange() {
	select {
	case c.changeCh <- struct{}{}:
	default:
	}
}

// RequestReload implements the manual mcpmon_reload-server path (spec.md
// §4.6 rule 3): it skips debounce entirely. The event loop takes the
// request only between cycles, so a request made while a debounce or
// restart cycle is running waits for that cycle to finish; accepted is
// false if the controller is then in neither Running nor Idle (e.g.
// Failed).
func (c *Controller) RequestReload(ctx context.Context) bool {
	reply := make(chan reloadOutcome, 1)
	select {
	case c.reloadCh <- reply:
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
	select {
	case out := <-reply:
		return out.accepted
	case <-ctx.Done():
		return false
	}
}

// Forward delivers a client-approved message either directly to the
// current child's stdin (when Running) or to the message buffer
// (otherwise), matching spec.md §4.4's invariant that the buffer is empty
// in Running. Every other state appends, Failed included, so traffic sent
// while the child is down waits for the next successful restart. A write to a child
// that died between the state check and the write is a child-crash
// condition, not a Forward error (spec.md §7 "Write failure ... fold into
// child-crash handling") — the next event-loop turn picks it up via
// childExitCh.
func (c *Controller) Forward(msg jsonrpc.Message) error {
	c.mu.Lock()
	state := c.state
	child := c.child
	c.mu.Unlock()

	if state == Running && child != nil {
		data, err := jsonrpc.Encode(msg)
		if err != nil {
			return err
		}
		_, err = child.Stdin().Write(data)
		return err
	}

	c.cfg.Buffer.Append(msg)
	return nil
}

// Start spawns the first child and launches the event loop.
func (c *Controller) Start(ctx context.Context) error {
	c.setState(Starting)
	h, err := c.spawnWithRetry(ctx)
	if err != nil {
		c.setState(Failed)
		return err
	}
	c.setChild(h)
	c.setState(Running)
	go c.run(ctx)
	return nil
}

// Shutdown implements spec.md §4.8's terminal transition and §5's
// idempotent-shutdown requirement (IP9): safe to call more than once,
// completes within kill-grace + small overhead.
func (c *Controller) Shutdown() {
	c.shutdowns.Do(func() {
		close(c.shutdown)
	})
	<-c.done
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-c.shutdown:
			c.setState(Terminated)
			c.killChild(c.Child())
			return

		case <-ctx.Done():
			c.setState(Terminated)
			c.killChild(c.Child())
			return

		case reply := <-c.reloadCh:
			if c.IsRestarting() {
				reply <- reloadOutcome{accepted: false}
				continue
			}
			reply <- reloadOutcome{accepted: true}
			c.restartCycle(ctx)

		case <-c.changeCh:
			for c.debounceThenRestart(ctx) {
			}

		case <-c.childExitCh():
			if c.State() == Running {
				c.restartCycle(ctx)
			}
		}
	}
}

// childExitCh returns the current child's exit channel, or a nil channel
// (blocks forever) if there is no live child — select on a nil channel
// never fires, which is exactly "no exit to wait for."
func (c *Controller) childExitCh() <-chan process.ExitResult {
	h := c.Child()
	if h == nil {
		return nil
	}
	return h.Exit()
}

// debounceThenRestart implements DebouncingRestart: it waits out the
// debounce window, restarting the timer on every additional change event
// (spec.md §4.5), then runs one restart cycle. It returns true if another
// change event arrived while the cycle was running, so run's caller loops
// once more instead of going back to idle Running wait.
func (c *Controller) debounceThenRestart(ctx context.Context) bool {
	c.setState(DebouncingRestart)
	timer := time.NewTimer(c.cfg.RestartDebounce)
	defer timer.Stop()

	for {
		select {
		case <-c.changeCh:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(c.cfg.RestartDebounce)
		case <-timer.C:
			c.restartCycle(ctx)
			select {
			case <-c.changeCh:
				return true
			default:
				return false
			}
		case <-c.shutdown:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// restartCycle implements Killing → Starting-After-Restart → Running
// (spec.md §4.5). If the old child has already exited (an implicit-restart
// trigger, or it died mid-DebouncingRestart), killChild is a no-op since
// Alive() is already false — the tie-break rule "skip the kill step."
func (c *Controller) restartCycle(ctx context.Context) {
	cycleID := uuid.NewString()

	c.setState(Killing)
	old := c.Child()
	if old != nil && old.Alive() {
		c.killChild(old)
	}
	// Any tools/list or tools/call the old child was still holding will
	// never be answered now; stop tracking it rather than leak the entry
	// (pkg/mcp's ForgetPendingRequests).
	c.cfg.Interceptor.ForgetPendingRequests()

	c.setState(StartingAfterRestart)
	for attempt := 0; attempt < 2; attempt++ {
		h, err := c.cfg.Spawn()
		if err != nil {
			c.cfg.Log.WarnCF("restart", "spawn failed", map[string]any{"cycle": cycleID, "attempt": attempt, "error": err.Error()})
			time.Sleep(c.cfg.ReadinessDelay)
			continue
		}
		c.setChild(h)

		if c.replayAndDrain(ctx, h) {
			c.cfg.Log.InfoCF("restart", "restart cycle complete", map[string]any{"cycle": cycleID, "pid": h.PID})
			return
		}

		// Replay failed: kill this attempt's child and retry once
		// (spec.md §4.5's Starting-After-Restart tie-break).
		c.killChild(h)
	}

	c.setState(Failed)
	c.cfg.Log.ErrorCF("restart", "child failed to become ready after retry", map[string]any{"cycle": cycleID})
	if c.cfg.NotifyClient != nil {
		c.cfg.NotifyClient("the underlying server failed to restart and will retry on the next file change")
	}
}

// killChild issues the graceful-kill sequence (spec.md §4.1, §4.5, IP8):
// SIGTERM, then SIGKILL if the child is still alive after kill-grace.
func (c *Controller) killChild(h *process.Handle) {
	if h == nil || !h.Alive() {
		return
	}
	h.Kill(syscall.SIGTERM)
	select {
	case <-h.Exit():
	case <-time.After(c.cfg.KillGrace):
		h.ForceKill()
		<-h.Exit()
	}
}

// replayAndDrain performs the initialize replay, optional setLevel
// restore, tools/list refetch, and buffer drain that together make up
// Starting-After-Restart → Running (spec.md §4.5, §4.6, IP3). It returns
// false if the child failed to answer the initialize replay within its
// deadline. It is responsible for the Running transition itself (rather
// than leaving it to restartCycle) because that transition must happen
// only once the buffer is provably empty — see drainUntilEmptyThenRun.
func (c *Controller) replayAndDrain(ctx context.Context, h *process.Handle) bool {
	replay, key, ok := c.cfg.Interceptor.BuildInitializeReplay()
	if !ok {
		c.drainUntilEmptyThenRun(h, false)
		return true
	}

	ch := c.cfg.Interceptor.AwaitInternal(key)
	if err := c.cfg.OnWriteToChild(h, replay); err != nil {
		c.cfg.Interceptor.CancelInternal(key)
		return false
	}

	deadline := time.Duration(c.cfg.ReplayDeadlineMul) * c.cfg.ReadinessDelay

	select {
	case resp := <-ch:
		c.cfg.Interceptor.RecordReplayCapabilities(resp)
	case <-h.Exit():
		c.cfg.Interceptor.CancelInternal(key)
		return false
	case <-time.After(deadline):
		c.cfg.Interceptor.CancelInternal(key)
		return false
	case <-ctx.Done():
		c.cfg.Interceptor.CancelInternal(key)
		return false
	}

	if restore, rkey, ok := c.cfg.Interceptor.BuildSetLevelRestore(); ok {
		rch := c.cfg.Interceptor.AwaitInternal(rkey)
		if err := c.cfg.OnWriteToChild(h, restore); err == nil {
			select {
			case <-rch:
			case <-time.After(c.cfg.ReadinessDelay):
				c.cfg.Interceptor.CancelInternal(rkey)
			}
		}
	}

	toolsChanged := false
	refetch, tkey := c.cfg.Interceptor.BuildToolsListRefetch()
	tch := c.cfg.Interceptor.AwaitInternal(tkey)
	if err := c.cfg.OnWriteToChild(h, refetch); err == nil {
		select {
		case <-tch:
			toolsChanged = true
		case <-time.After(c.cfg.ReadinessDelay):
			c.cfg.Interceptor.CancelInternal(tkey)
		}
	}

	c.drainUntilEmptyThenRun(h, toolsChanged)
	return true
}

// drainUntilEmptyThenRun delivers the buffer to h and only flips state to
// Running once a drain comes back empty. A single Drain-then-setState
// leaves a window, for as long as OnChildReady takes to write the first
// batch out, during which Forward (seeing a state other than Running)
// keeps appending newly-arrived client messages to the buffer; nothing
// would ever drain that second batch until the *next* restart cycle,
// stranding it indefinitely (IP2). Looping drain->forward until a pass
// comes up empty closes that window before Running is ever observable by
// Forward, instead of after.
func (c *Controller) drainUntilEmptyThenRun(h *process.Handle, toolsChanged bool) {
	buffered, dropped := c.cfg.Buffer.Drain()
	if dropped > 0 {
		c.cfg.Log.WarnCF("restart", "buffer overflow during restart", map[string]any{"dropped": dropped})
		if c.cfg.NotifyClient != nil {
			c.cfg.NotifyClient("dropped oldest buffered messages during restart due to overflow")
		}
	}
	c.cfg.OnChildReady(h, buffered, toolsChanged)

	for {
		more, moreDropped := c.cfg.Buffer.Drain()
		if moreDropped > 0 {
			c.cfg.Log.WarnCF("restart", "buffer overflow during restart", map[string]any{"dropped": moreDropped})
			if c.cfg.NotifyClient != nil {
				c.cfg.NotifyClient("dropped oldest buffered messages during restart due to overflow")
			}
		}
		if len(more) == 0 {
			break
		}
		for _, msg := range more {
			if err := c.cfg.OnWriteToChild(h, msg); err != nil {
				// Child died mid-drain; child-crash handling picks this up
				// via childExitCh on the next event-loop turn.
				c.setState(Running)
				return
			}
		}
	}

	c.setState(Running)
}

// spawnWithRetry implements spec.md §7's spawn-failure policy: retry once
// after restart-debounce delay before giving up for the initial spawn.
func (c *Controller) spawnWithRetry(ctx context.Context) (*process.Handle, error) {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RestartDebounce), 1)

	var h *process.Handle
	err := backoff.Retry(func() error {
		var spawnErr error
		h, spawnErr = c.cfg.Spawn()
		return spawnErr
	}, backoff.WithContext(b, ctx))
	return h, err
}
