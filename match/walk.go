package match

import (
	"iter"
	"strings"

	"github.com/rcowham/gorevlog/dirstate"
)

// WorkingDirFS is the listing capability Walk needs over the working
// directory's current file set.
type WorkingDirFS interface {
	List() ([]string, error)
}

// dirVisitor is implemented by matchers precise enough to name the
// subdirectories a walk needs to descend into (see match.go's
// KindRelPath handling), as an alternative to scanning every tracked path.
type dirVisitor interface {
	VisitDirs() ([]string, bool)
}

// trackedPaths returns every path tracked in ds, optionally narrowed to
// the subdirectories m.VisitDirs names: when m names roots, each tracked
// path is kept only if it falls under one of those roots, so Walk never
// tests paths outside the requested subtrees against m.Match.
func trackedPaths(ds *dirstate.Dirstate, m Matcher) []string {
	dv, ok := m.(dirVisitor)
	if !ok {
		return allTrackedPaths(ds)
	}
	dirs, ok := dv.VisitDirs()
	if !ok {
		return allTrackedPaths(ds)
	}
	seen := make(map[string]bool)
	var out []string
	for _, p := range allTrackedPaths(ds) {
		for _, dir := range dirs {
			if !underRoot(p, dir) {
				continue
			}
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
			break
		}
	}
	return out
}

// underRoot reports whether path is root itself or nested under it
// ("" matches everything).
func underRoot(path, root string) bool {
	if root == "" || path == root {
		return true
	}
	return strings.HasPrefix(path, root+"/")
}

func allTrackedPaths(ds *dirstate.Dirstate) []string {
	paths := make([]string, 0, len(ds.Entries))
	for p := range ds.Entries {
		paths = append(paths, p)
	}
	return paths
}

// Walk lazily yields every path under root selected by m: first the
// tracked dirstate entries, then any on-disk path not already tracked
// (mirroring status's tracked/unknown split), each filtered through m.
// This is a one-shot, non-restartable generator (Design Notes strategy),
// implemented with iter.Seq rather than a channel so an early consumer
// break costs nothing.
func Walk(root WorkingDirFS, ds *dirstate.Dirstate, m Matcher) iter.Seq[string] {
	if fixed, ok := m.Visit(); ok {
		return func(yield func(string) bool) {
			for _, p := range fixed {
				if !yield(p) {
					return
				}
			}
		}
	}

	return func(yield func(string) bool) {
		emitted := make(map[string]bool)
		for _, path := range trackedPaths(ds, m) {
			if !m.Match(path) {
				continue
			}
			emitted[path] = true
			if !yield(path) {
				return
			}
		}
		present, err := root.List()
		if err != nil {
			return
		}
		for _, path := range present {
			if emitted[path] {
				continue
			}
			if !m.Match(path) {
				continue
			}
			if !yield(path) {
				return
			}
		}
	}
}
