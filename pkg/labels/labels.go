// Package labels implements the session labeler (C7, spec.md §4.7): pure
// argv rewriting that tags a container-runtime `run` invocation with
// mcpmon's ownership labels so an external cleanup utility can later find
// orphaned containers whose proxy has died. Grounded on spec.md §4.7's own
// framing: "a pure string transform; no other command is modified."
package labels

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// containerRuntimes is the set of command basenames spec.md §4.7 means by
// "a container-runtime invocation". Anything else (make, npm, cargo, ...)
// never gets labels spliced into its argv, even when its own first
// argument happens to be "run".
var containerRuntimes = map[string]bool{
	"docker":  true,
	"podman":  true,
	"nerdctl": true,
	"finch":   true,
}

// IsContainerRuntime reports whether command (the configured ProxyConfig
// command, not an argument) names a known container runtime.
func IsContainerRuntime(command string) bool {
	return containerRuntimes[filepath.Base(command)]
}

// Inject returns argv rewritten with four --label flags inserted
// immediately after a leading "run" subcommand, or argv unchanged if
// command is not a container runtime or argv's first element is not "run"
// (spec.md §4.7, S6). sessionID, pid, and startedMS follow the
// container-runtime label contract (spec.md "Container runtime label
// contract"): mcpmon.managed, mcpmon.session, mcpmon.pid, mcpmon.started.
func Inject(command string, argv []string, sessionID string, pid int, startedMS int64) []string {
	if !IsContainerRuntime(command) || len(argv) == 0 || argv[0] != "run" {
		return argv
	}

	flags := []string{
		"--label", "mcpmon.managed=true",
		"--label", "mcpmon.session=" + sessionID,
		"--label", "mcpmon.pid=" + strconv.Itoa(pid),
		"--label", "mcpmon.started=" + strconv.FormatInt(startedMS, 10),
	}

	out := make([]string, 0, len(argv)+len(flags))
	out = append(out, argv[0])
	out = append(out, flags...)
	out = append(out, argv[1:]...)
	return out
}

// SessionID formats the opaque session identifier propagated into
// mcpmon.session (spec.md GLOSSARY "Session id"): mcpmon-<epoch-ms>.
func SessionID(startedMS int64) string {
	return fmt.Sprintf("mcpmon-%d", startedMS)
}
