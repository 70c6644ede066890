package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilopet/mcpmon/pkg/jsonrpc"
	"github.com/neilopet/mcpmon/pkg/loglevel"
)

func newTestInterceptor() *Interceptor {
	return New(loglevel.NewState(), jsonrpc.NewIDGenerator())
}

func rawID(n int) json.RawMessage {
	b, _ := json.Marshal(n)
	return b
}

func TestInitializeIsCapturedAndForwardedUnchanged(t *testing.T) {
	ic := newTestInterceptor()
	params := json.RawMessage(`{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"c","version":"1"}}`)
	req := jsonrpc.Message{JSONRPC: "2.0", ID: rawID(1), Method: "initialize", Params: params}

	action := ic.HandleClientToServer(req, false)
	require.NotNil(t, action.Forward)
	assert.Equal(t, req, *action.Forward)

	snap := ic.CurrentSnapshot()
	assert.Equal(t, params, snap.Params)
	assert.Equal(t, rawID(1), snap.RequestID)
}

func TestInitializeResponseInjectsCapabilities(t *testing.T) {
	ic := newTestInterceptor()
	ic.HandleClientToServer(jsonrpc.Message{
		JSONRPC: "2.0", ID: rawID(1), Method: "initialize",
		Params: json.RawMessage(`{}`),
	}, false)

	resp := jsonrpc.Message{
		JSONRPC: "2.0", ID: rawID(1),
		Result: json.RawMessage(`{"protocolVersion":"2024-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"s","version":"1"}}`),
	}

	out := ic.HandleServerToClient(resp)
	require.NotNil(t, out)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Result, &result))
	caps := result["capabilities"].(map[string]any)
	tools := caps["tools"].(map[string]any)
	assert.Equal(t, true, tools["listChanged"])
	assert.Contains(t, caps, "logging")
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
}

func TestCapabilityInjectionPreservesExplicitFalse(t *testing.T) {
	ic := newTestInterceptor()
	ic.HandleClientToServer(jsonrpc.Message{JSONRPC: "2.0", ID: rawID(1), Method: "initialize", Params: json.RawMessage(`{}`)}, false)

	resp := jsonrpc.Message{JSONRPC: "2.0", ID: rawID(1),
		Result: json.RawMessage(`{"capabilities":{"tools":{"listChanged":false},"logging":{"x":1}}}`)}

	out := ic.HandleServerToClient(resp)
	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Result, &result))
	caps := result["capabilities"].(map[string]any)
	tools := caps["tools"].(map[string]any)
	assert.Equal(t, false, tools["listChanged"])
	logging := caps["logging"].(map[string]any)
	assert.Equal(t, float64(1), logging["x"])
}

func TestMalformedInitializeResponseForwardedUnmodified(t *testing.T) {
	ic := newTestInterceptor()
	ic.HandleClientToServer(jsonrpc.Message{JSONRPC: "2.0", ID: rawID(1), Method: "initialize", Params: json.RawMessage(`{}`)}, false)

	resp := jsonrpc.Message{JSONRPC: "2.0", ID: rawID(1), Result: json.RawMessage(`{"capabilities":"not-an-object"}`)}
	out := ic.HandleServerToClient(resp)
	assert.Equal(t, resp.Result, out.Result)
}

func TestSyntheticSetLevelWhenChildLacksLogging(t *testing.T) {
	ic := newTestInterceptor()
	// Child's initialize response has no logging capability.
	ic.HandleClientToServer(jsonrpc.Message{JSONRPC: "2.0", ID: rawID(1), Method: "initialize", Params: json.RawMessage(`{}`)}, false)
	ic.HandleServerToClient(jsonrpc.Message{JSONRPC: "2.0", ID: rawID(1), Result: json.RawMessage(`{"capabilities":{"tools":{}}}`)})

	req := jsonrpc.Message{JSONRPC: "2.0", ID: rawID(7), Method: "logging/setLevel", Params: json.RawMessage(`{"level":"debug"}`)}
	action := ic.HandleClientToServer(req, false)

	require.Nil(t, action.Forward)
	require.NotNil(t, action.Reply)
	assert.Equal(t, rawID(7), action.Reply.ID)
	assert.JSONEq(t, `{}`, string(action.Reply.Result))
}

func TestSetLevelForwardedWhenChildSupportsLogging(t *testing.T) {
	ic := newTestInterceptor()
	ic.HandleClientToServer(jsonrpc.Message{JSONRPC: "2.0", ID: rawID(1), Method: "initialize", Params: json.RawMessage(`{}`)}, false)
	ic.HandleServerToClient(jsonrpc.Message{JSONRPC: "2.0", ID: rawID(1), Result: json.RawMessage(`{"capabilities":{"logging":{}}}`)})

	req := jsonrpc.Message{JSONRPC: "2.0", ID: rawID(7), Method: "logging/setLevel", Params: json.RawMessage(`{"level":"debug"}`)}
	action := ic.HandleClientToServer(req, false)

	assert.Nil(t, action.Reply)
	require.NotNil(t, action.Forward)
}

func TestReloadToolCallDoesNotForwardAndTriggersReload(t *testing.T) {
	ic := newTestInterceptor()
	params, _ := json.Marshal(CallToolParams{Name: ReloadToolName, Arguments: map[string]any{"reason": "manual"}})
	req := jsonrpc.Message{JSONRPC: "2.0", ID: rawID(9), Method: "tools/call", Params: params}

	action := ic.HandleClientToServer(req, false)
	assert.Nil(t, action.Forward)
	require.NotNil(t, action.Reply)
	assert.True(t, action.Reload)
	assert.Nil(t, action.Reply.Error)
}

func TestReloadToolCallRejectedWhileRestarting(t *testing.T) {
	ic := newTestInterceptor()
	params, _ := json.Marshal(CallToolParams{Name: ReloadToolName})
	req := jsonrpc.Message{JSONRPC: "2.0", ID: rawID(9), Method: "tools/call", Params: params}

	action := ic.HandleClientToServer(req, true)
	assert.Nil(t, action.Forward)
	require.NotNil(t, action.Reply)
	assert.False(t, action.Reload)
	require.NotNil(t, action.Reply.Error)
}

func TestToolsListResponseMergesReloadTool(t *testing.T) {
	ic := newTestInterceptor()
	ic.HandleClientToServer(jsonrpc.Message{JSONRPC: "2.0", ID: rawID(2), Method: "tools/list"}, false)

	resp := jsonrpc.Message{JSONRPC: "2.0", ID: rawID(2),
		Result: json.RawMessage(`{"tools":[{"name":"existing-tool"}]}`)}

	out := ic.HandleServerToClient(resp)
	var result ToolsListResult
	require.NoError(t, json.Unmarshal(out.Result, &result))
	names := []string{result.Tools[0].Name, result.Tools[1].Name}
	assert.Contains(t, names, "existing-tool")
	assert.Contains(t, names, ReloadToolName)
}

// A tools/list request tracked for its id->method correlation, left
// unanswered because the child that would have answered it is gone,
// must not be forwarded as a tools/list response merge once that id is
// reused or the map is otherwise never cleaned up (spec.md §9: entries
// are "removed on reply or on age").
func TestForgetPendingRequestsDropsUnansweredToolsList(t *testing.T) {
	ic := newTestInterceptor()
	ic.HandleClientToServer(jsonrpc.Message{JSONRPC: "2.0", ID: rawID(7), Method: "tools/list"}, false)
	assert.Len(t, ic.clientPending, 1)

	ic.ForgetPendingRequests()
	assert.Empty(t, ic.clientPending)

	resp := jsonrpc.Message{JSONRPC: "2.0", ID: rawID(7), Result: json.RawMessage(`{"tools":[]}`)}
	out := ic.HandleServerToClient(resp)
	var result ToolsListResult
	require.NoError(t, json.Unmarshal(out.Result, &result))
	assert.Empty(t, result.Tools, "forgotten id must not still trigger the reload-tool merge")
}

func TestMergeReloadToolIsIdempotent(t *testing.T) {
	raw := json.RawMessage(`{"tools":[{"name":"mcpmon_reload-server"}]}`)
	merged := mergeReloadTool(raw)
	var result ToolsListResult
	require.NoError(t, json.Unmarshal(merged, &result))
	assert.Len(t, result.Tools, 1)
}

func TestNotificationDroppedAboveThreshold(t *testing.T) {
	ic := newTestInterceptor()
	ic.level.Set(loglevel.Warning)

	notif := jsonrpc.Message{JSONRPC: "2.0", Method: "notifications/message",
		Params: json.RawMessage(`{"level":"debug","logger":"child","data":{}}`)}

	assert.Nil(t, ic.HandleServerToClient(notif))
}

func TestNotificationForwardedWithinThreshold(t *testing.T) {
	ic := newTestInterceptor()
	ic.level.Set(loglevel.Warning)

	notif := jsonrpc.Message{JSONRPC: "2.0", Method: "notifications/message",
		Params: json.RawMessage(`{"level":"error","logger":"child","data":{}}`)}

	out := ic.HandleServerToClient(notif)
	require.NotNil(t, out)
}

func TestBuildInitializeReplaySkippedWithoutSnapshot(t *testing.T) {
	ic := newTestInterceptor()
	_, _, ok := ic.BuildInitializeReplay()
	assert.False(t, ok)
}

func TestBuildInitializeReplayUsesFreshIDDisjointFromClient(t *testing.T) {
	ic := newTestInterceptor()
	ic.HandleClientToServer(jsonrpc.Message{JSONRPC: "2.0", ID: rawID(1), Method: "initialize", Params: json.RawMessage(`{"x":1}`)}, false)

	replay, key, ok := ic.BuildInitializeReplay()
	require.True(t, ok)
	assert.Equal(t, "initialize", replay.Method)
	assert.Equal(t, json.RawMessage(`{"x":1}`), replay.Params)
	assert.NotEqual(t, string(rawID(1)), key)

	ch := ic.AwaitInternal(key)
	require.NotNil(t, ch)
}

func TestReplayResponseIsConsumedNotForwarded(t *testing.T) {
	ic := newTestInterceptor()
	ic.HandleClientToServer(jsonrpc.Message{JSONRPC: "2.0", ID: rawID(1), Method: "initialize", Params: json.RawMessage(`{}`)}, false)
	replay, key, ok := ic.BuildInitializeReplay()
	require.True(t, ok)
	ch := ic.AwaitInternal(key)

	resp := jsonrpc.Message{JSONRPC: "2.0", ID: replay.ID, Result: json.RawMessage(`{"capabilities":{"logging":{}}}`)}
	out := ic.HandleServerToClient(resp)
	assert.Nil(t, out, "replay response must not be forwarded to the client")

	select {
	case delivered := <-ch:
		assert.Equal(t, resp, delivered)
	default:
		t.Fatal("replay response was not delivered to the waiting channel")
	}
}
