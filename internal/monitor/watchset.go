package monitor

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
)

// WatchSet holds the paths whose access is mediated. Reads are lock-free;
// the monitor serializes writes together with the kernel mark calls.
type WatchSet struct {
	paths *xsync.Map[string, struct{}]
}

func NewWatchSet() *WatchSet {
	return &WatchSet{paths: xsync.NewMap[string, struct{}]()}
}

func (w *WatchSet) Add(path string) {
	w.paths.Store(path, struct{}{})
}

func (w *WatchSet) Remove(path string) {
	w.paths.Delete(path)
}

func (w *WatchSet) Contains(path string) bool {
	_, ok := w.paths.Load(path)
	return ok
}

// Covers reports whether path is a watched path or lies beneath one.
func (w *WatchSet) Covers(path string) bool {
	path = filepath.Clean(path)
	if w.Contains(path) {
		return true
	}

	covered := false
	w.paths.Range(func(watched string, _ struct{}) bool {
		if isUnder(path, watched) {
			covered = true
			return false
		}
		return true
	})
	return covered
}

func isUnder(path, dir string) bool {
	if dir == "/" {
		return strings.HasPrefix(path, "/")
	}
	return strings.HasPrefix(path, dir+"/")
}

func (w *WatchSet) Len() int {
	return w.paths.Size()
}

func (w *WatchSet) Paths() []string {
	out := make([]string, 0, w.paths.Size())
	w.paths.Range(func(p string, _ struct{}) bool {
		out = append(out, p)
		return true
	})
	slices.Sort(out)
	return out
}

func (w *WatchSet) Clear() {
	w.paths.Clear()
}
