package mcp

import (
	"encoding/json"
	"sync"

	"github.com/neilopet/mcpmon/pkg/jsonrpc"
	"github.com/neilopet/mcpmon/pkg/loglevel"
)

// ClientAction is the outcome of intercepting one client->server message.
type ClientAction struct {
	// Forward, when non-nil, should be written to the child (or buffered
	// during a restart).
	Forward *jsonrpc.Message
	// Reply, when non-nil, should be sent directly back to the client
	// without ever reaching the child.
	Reply *jsonrpc.Message
	// Reload is true when this message was a tools/call for the built-in
	// reload tool and was accepted (Reply carries the acknowledgement);
	// the caller must trigger an immediate restart.
	Reload bool
}

type clientPending struct {
	method string
}

// Interceptor implements C6 (spec.md §4.6): per-direction message
// inspection, initialize capture/replay bookkeeping, capability
// injection, synthetic responses, and log-level gating. All shared state
// lives behind a single mutex per spec.md §5's single-coordinator model.
type Interceptor struct {
	mu sync.Mutex

	snapshot Snapshot

	level *loglevel.State
	ids   *jsonrpc.IDGenerator

	clientPending   map[string]clientPending
	internalPending map[string]chan jsonrpc.Message
}

// New creates an Interceptor. level is the shared LogLevelState the engine
// also hands to the logger sink; ids allocates proxy-private request ids
// for replay/refetch/restore.
func New(level *loglevel.State, ids *jsonrpc.IDGenerator) *Interceptor {
	return &Interceptor{
		level:           level,
		ids:             ids,
		clientPending:   make(map[string]clientPending),
		internalPending: make(map[string]chan jsonrpc.Message),
	}
}

func idKey(id json.RawMessage) string {
	return string(id)
}

// HandleClientToServer applies spec.md §4.6's client->server rules.
// restarting reports whether the restart controller is currently in a
// non-Running state, used to reject a concurrent reload request.
func (ic *Interceptor) HandleClientToServer(msg jsonrpc.Message, restarting bool) ClientAction {
	switch msg.Method {
	case "initialize":
		ic.mu.Lock()
		ic.snapshot.Params = msg.Params
		ic.snapshot.RequestID = msg.ID
		ic.mu.Unlock()
		return ClientAction{Forward: &msg}

	case "logging/setLevel":
		level, ok := parseSetLevelParams(msg.Params)
		if !ok {
			return ClientAction{Forward: &msg}
		}
		ic.level.Set(level)

		if !ic.HasLoggingCapability() {
			reply := jsonrpc.Response(msg.ID, json.RawMessage(`{}`))
			return ClientAction{Reply: &reply}
		}
		return ClientAction{Forward: &msg}

	case "tools/call":
		if !isReloadCall(msg.Params) {
			ic.trackToolsListIfNeeded(msg)
			return ClientAction{Forward: &msg}
		}
		if restarting {
			reply := jsonrpc.ErrorResponse(msg.ID, -32001, "reload already in progress")
			return ClientAction{Reply: &reply}
		}
		reply := jsonrpc.Response(msg.ID, marshalContentText("reload triggered"))
		return ClientAction{Reply: &reply, Reload: true}

	case "tools/list":
		ic.trackToolsListIfNeeded(msg)
		return ClientAction{Forward: &msg}

	default:
		return ClientAction{Forward: &msg}
	}
}

func (ic *Interceptor) trackToolsListIfNeeded(msg jsonrpc.Message) {
	if !msg.IsRequest() {
		return
	}
	ic.mu.Lock()
	ic.clientPending[idKey(msg.ID)] = clientPending{method: msg.Method}
	ic.mu.Unlock()
}

func isReloadCall(params json.RawMessage) bool {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return false
	}
	return p.Name == ReloadToolName
}

func parseSetLevelParams(params json.RawMessage) (loglevel.Level, bool) {
	var p struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return 0, false
	}
	return loglevel.Parse(p.Level)
}

// HandleServerToClient applies spec.md §4.6's server->client rules. It
// returns the message to forward to the client, or nil if nothing should
// be forwarded (the message was consumed internally, or filtered out by
// log-level gating).
func (ic *Interceptor) HandleServerToClient(msg jsonrpc.Message) *jsonrpc.Message {
	if msg.IsResponse() {
		key := idKey(msg.ID)

		ic.mu.Lock()
		ch, isInternal := ic.internalPending[key]
		if isInternal {
			delete(ic.internalPending, key)
		}
		isInitResponse := !isInternal && len(ic.snapshot.RequestID) > 0 && key == idKey(ic.snapshot.RequestID)
		pending, isToolsList := ic.clientPending[key]
		if isToolsList {
			delete(ic.clientPending, key)
		}
		ic.mu.Unlock()

		if isInternal {
			ch <- msg
			return nil
		}

		if isInitResponse {
			return ic.captureAndInjectInitialize(msg)
		}

		if isToolsList && pending.method == "tools/list" && msg.Error == nil {
			merged := msg
			merged.Result = mergeReloadTool(msg.Result)
			return &merged
		}

		return &msg
	}

	if msg.Method == "notifications/message" {
		level := notificationLevel(msg.Params)
		if !ic.level.Allows(level) {
			return nil
		}
		return &msg
	}

	return &msg
}

func notificationLevel(params json.RawMessage) loglevel.Level {
	var p struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return loglevel.Info
	}
	l, ok := loglevel.Parse(p.Level)
	if !ok {
		return loglevel.Info
	}
	return l
}

func (ic *Interceptor) captureAndInjectInitialize(msg jsonrpc.Message) *jsonrpc.Message {
	var result struct {
		Capabilities json.RawMessage `json:"capabilities"`
		ServerInfo   json.RawMessage `json:"serverInfo"`
	}
	if msg.Result != nil {
		_ = json.Unmarshal(msg.Result, &result)
	}

	ic.mu.Lock()
	ic.snapshot.Capabilities = result.Capabilities
	ic.snapshot.ServerInfo = result.ServerInfo
	ic.mu.Unlock()

	if msg.Result == nil {
		return &msg
	}

	injected := injectCapabilities(result.Capabilities)
	out := msg
	newResult := map[string]json.RawMessage{
		"capabilities": injected,
		"serverInfo":   result.ServerInfo,
	}
	if raw, err := json.Marshal(withRestOfResult(msg.Result, newResult)); err == nil {
		out.Result = raw
	}
	return &out
}

// withRestOfResult merges newFields into the original result object,
// preserving any other top-level fields (protocolVersion, instructions,
// ...) exactly, so injection only ever touches capabilities/serverInfo.
func withRestOfResult(original json.RawMessage, newFields map[string]json.RawMessage) map[string]json.RawMessage {
	merged := map[string]json.RawMessage{}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(original, &asMap); err == nil {
		for k, v := range asMap {
			merged[k] = v
		}
	}
	for k, v := range newFields {
		if v == nil {
			continue
		}
		merged[k] = v
	}
	return merged
}

// HasLoggingCapability reports whether the current child declared the
// logging capability in its initialize response.
func (ic *Interceptor) HasLoggingCapability() bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return capsHasLogging(ic.snapshot.Capabilities)
}

// CurrentSnapshot returns a copy of the InitializeSnapshot for the restart
// controller to build a replay request from.
func (ic *Interceptor) CurrentSnapshot() Snapshot {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.snapshot
}

// BuildInitializeReplay constructs the synthetic initialize request sent
// to a freshly-spawned child (spec.md §4.6 "Initialize replay"), using a
// freshly-allocated id so it cannot collide with a client id. ok is false
// if there is no snapshot yet (client never initialized), in which case
// replay is skipped entirely.
func (ic *Interceptor) BuildInitializeReplay() (jsonrpc.Message, string, bool) {
	snap := ic.CurrentSnapshot()
	if snap.Empty() {
		return jsonrpc.Message{}, "", false
	}
	id := ic.ids.Next()
	ch := make(chan jsonrpc.Message, 1)
	ic.mu.Lock()
	ic.internalPending[idKey(id)] = ch
	ic.mu.Unlock()

	return jsonrpc.Message{
		JSONRPC: jsonrpc.Version,
		ID:      id,
		Method:  "initialize",
		Params:  snap.Params,
	}, idKey(id), true
}

// AwaitInternal returns the channel registered for a proxy-synthesized
// request id (initialize replay, tools/list refetch, setLevel restore).
// The registration is removed once the reply is delivered, so the channel
// must be fetched before the request is written; afterwards it returns nil.
func (ic *Interceptor) AwaitInternal(key string) chan jsonrpc.Message {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.internalPending[key]
}

// CancelInternal removes a pending internal request, used when the
// deadline for a reply elapses without one arriving.
func (ic *Interceptor) CancelInternal(key string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	delete(ic.internalPending, key)
}

// ForgetPendingRequests discards every tracked client request awaiting a
// response (tools/list, tools/call) from the child being replaced. A child
// that crashes or is killed mid-restart never answers whatever it was
// already holding, so those entries would otherwise sit in clientPending
// forever — an unbounded leak over a long-lived session with many
// restarts. Called by the restart controller once it commits to killing
// the current child (spec.md §4.5 Killing), since by construction no
// response from that child can legitimately arrive after this point.
func (ic *Interceptor) ForgetPendingRequests() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	clear(ic.clientPending)
}

// RecordReplayCapabilities captures the new child's capabilities directly
// from a replay response the restart controller already consumed from
// AwaitInternal (it never flows back through HandleServerToClient because
// that path already routed it there instead of forwarding).
func (ic *Interceptor) RecordReplayCapabilities(msg jsonrpc.Message) {
	var result struct {
		Capabilities json.RawMessage `json:"capabilities"`
		ServerInfo   json.RawMessage `json:"serverInfo"`
	}
	if msg.Result != nil {
		_ = json.Unmarshal(msg.Result, &result)
	}
	ic.mu.Lock()
	ic.snapshot.Capabilities = result.Capabilities
	ic.snapshot.ServerInfo = result.ServerInfo
	ic.mu.Unlock()
}

// BuildSetLevelRestore constructs a logging/setLevel request to re-apply
// the negotiated level to a freshly-replayed child, if the level is not
// the default and the child supports logging. ok is false when no restore
// is needed.
func (ic *Interceptor) BuildSetLevelRestore() (jsonrpc.Message, string, bool) {
	if ic.level.Get() == loglevel.Info || !ic.HasLoggingCapability() {
		return jsonrpc.Message{}, "", false
	}
	id := ic.ids.Next()
	ch := make(chan jsonrpc.Message, 1)
	ic.mu.Lock()
	ic.internalPending[idKey(id)] = ch
	ic.mu.Unlock()

	params, _ := json.Marshal(map[string]string{"level": ic.level.Get().String()})
	return jsonrpc.Message{
		JSONRPC: jsonrpc.Version,
		ID:      id,
		Method:  "logging/setLevel",
		Params:  params,
	}, idKey(id), true
}

// BuildToolsListRefetch constructs the tools/list request issued after a
// successful replay, purely to confirm the new child answers its catalog
// before the proxy tells the client to refresh (spec.md §4.6). Its result
// is not forwarded to the client — the client never asked for it — so the
// caller only needs to know the refetch succeeded before emitting
// notifications/tools/list_changed.
func (ic *Interceptor) BuildToolsListRefetch() (jsonrpc.Message, string) {
	id := ic.ids.Next()
	ch := make(chan jsonrpc.Message, 1)
	ic.mu.Lock()
	ic.internalPending[idKey(id)] = ch
	ic.mu.Unlock()

	return jsonrpc.Message{
		JSONRPC: jsonrpc.Version,
		ID:      id,
		Method:  "tools/list",
		Params:  json.RawMessage(`{}`),
	}, idKey(id)
}

// ToolsListChangedNotification builds the notification emitted after a
// successful restart so the client refreshes its tool cache.
func ToolsListChangedNotification() jsonrpc.Message {
	return jsonrpc.Notification("notifications/tools/list_changed", nil)
}
