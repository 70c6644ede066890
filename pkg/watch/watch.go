// Package watch implements the change source (C2, spec.md §4.2): a
// recursive filesystem watch over a set of paths, emitting change events
// the restart controller debounces into restarts. Grounded on the fsnotify
// watcher-construction and Events/Errors select-loop pattern used in
// aseratalahzan2009-istio.
package watch

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/neilopet/mcpmon/pkg/logger"
)

// EventKind mirrors spec.md §3's ChangeEvent tag.
type EventKind int

const (
	Modify EventKind = iota
	Create
	Remove
)

func (k EventKind) String() string {
	switch k {
	case Create:
		return "create"
	case Remove:
		return "remove"
	default:
		return "modify"
	}
}

// Event is a single filesystem change, already filtered down to the kinds
// spec.md §3 says trigger a restart.
type Event struct {
	Kind EventKind
	Path string
}

// Source watches a set of paths and emits Events on Changes(). It persists
// for the proxy's lifetime: a single watcher survives across child
// restarts, per spec.md §4.2.
type Source struct {
	watcher  *fsnotify.Watcher
	changes  chan Event
	excluded string
	log      *logger.Logger
}

// New creates a Source watching paths. Directories are watched
// recursively. excludeDir, when non-empty, is the proxy's own data
// directory; events under it are dropped to prevent the self-trigger
// feedback loop spec.md §4.2 and IP10 call out. Paths that cannot be
// watched (missing, permission denied) are logged once and skipped; the
// proxy does not fail startup on watch errors, so New only fails if the
// underlying fsnotify.Watcher cannot be constructed at all.
func New(paths []string, excludeDir string, log *logger.Logger) (*Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &Source{
		watcher:  w,
		changes:  make(chan Event, 256),
		excluded: excludeDir,
		log:      log,
	}

	for _, p := range paths {
		s.addPath(p)
	}

	go s.pump()

	return s, nil
}

func (s *Source) addPath(p string) {
	info, err := os.Stat(p)
	if err != nil {
		s.log.WarnCF("watch", "cannot watch path", map[string]any{"path": p, "error": err.Error()})
		return
	}

	if !info.IsDir() {
		if err := s.watcher.Add(p); err != nil {
			s.log.WarnCF("watch", "cannot watch path", map[string]any{"path": p, "error": err.Error()})
		}
		return
	}

	_ = filepath.Walk(p, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort: skip unreadable subtrees, don't abort the walk
		}
		if !fi.IsDir() {
			return nil
		}
		if s.isExcluded(path) {
			return filepath.SkipDir
		}
		if werr := s.watcher.Add(path); werr != nil {
			s.log.WarnCF("watch", "cannot watch path", map[string]any{"path": path, "error": werr.Error()})
		}
		return nil
	})
}

func (s *Source) isExcluded(path string) bool {
	if s.excluded == "" {
		return false
	}
	rel, err := filepath.Rel(s.excluded, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "")
}

func (s *Source) pump() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				close(s.changes)
				return
			}
			if s.isExcluded(ev.Name) {
				continue
			}
			kind, ok := classify(ev.Op)
			if !ok {
				continue
			}
			s.changes <- Event{Kind: kind, Path: ev.Name}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				continue
			}
			s.log.WarnCF("watch", "watcher error", map[string]any{"error": err.Error()})
		}
	}
}

// classify maps an fsnotify op to spec.md's restart-triggering subset
// (create, modify/write, remove/rename). Chmod-only events are ignored:
// they are the "subdirectory noise" spec.md §3 says must be filtered.
func classify(op fsnotify.Op) (EventKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return Create, true
	case op&fsnotify.Write != 0:
		return Modify, true
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return Remove, true
	default:
		return 0, false
	}
}

// Changes returns the event channel. It is closed when Close is called.
func (s *Source) Changes() <-chan Event {
	return s.changes
}

// Close stops the watcher. Safe to call once; subsequent calls are no-ops
// beyond the underlying fsnotify.Watcher's own idempotency.
func (s *Source) Close() error {
	return s.watcher.Close()
}
