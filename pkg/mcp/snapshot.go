package mcp

import "encoding/json"

// Snapshot is spec.md §3's InitializeSnapshot: the most recent client
// initialize request and the most recent server initialize response,
// kept around so a restart can replay the handshake to a new child.
// Cleared only on proxy shutdown, never on restart.
type Snapshot struct {
	Params       json.RawMessage
	RequestID    json.RawMessage
	Capabilities json.RawMessage
	ServerInfo   json.RawMessage
}

// Empty reports whether the client has never sent an initialize request,
// the condition under which replay is skipped entirely (spec.md §4.6
// "If InitializeSnapshot is empty ... skip replay").
func (s Snapshot) Empty() bool {
	return len(s.Params) == 0
}

// capsHasLogging reports whether a capabilities object declares the
// logging capability.
func capsHasLogging(caps json.RawMessage) bool {
	m, ok := asObject(caps)
	if !ok {
		return false
	}
	_, has := m["logging"]
	return has
}

func asObject(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

// injectCapabilities ensures capabilities.tools.listChanged is present
// (true unless already explicitly false) and capabilities.logging exists
// (added as {} if absent), per spec.md §4.6 rule 1 / IP4. Malformed input
// (missing or non-object capabilities) is returned unmodified, per RT1.
func injectCapabilities(raw json.RawMessage) json.RawMessage {
	m, ok := asObject(raw)
	if !ok {
		return raw
	}

	tools, ok := m["tools"].(map[string]any)
	if !ok {
		tools = map[string]any{}
	}
	if lc, has := tools["listChanged"]; !has || lc == nil {
		tools["listChanged"] = true
	}
	m["tools"] = tools

	if _, has := m["logging"]; !has {
		m["logging"] = map[string]any{}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return out
}

// mergeReloadTool inserts the built-in reload tool into a tools/list
// result, idempotently (RT2): if it is already present, the result is
// unchanged.
func mergeReloadTool(raw json.RawMessage) json.RawMessage {
	var result ToolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return raw
	}

	for _, t := range result.Tools {
		if t.Name == ReloadToolName {
			return raw
		}
	}

	result.Tools = append(result.Tools, ReloadTool())

	out, err := json.Marshal(result)
	if err != nil {
		return raw
	}
	return out
}
