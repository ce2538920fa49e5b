package dirstate

import "github.com/rcowham/gorevlog/errs"

// WorkingDirFS is the narrow filesystem capability Status needs: stat one
// path, read its content for the slow-path comparison, and list every
// path actually present on disk.
type WorkingDirFS interface {
	Stat(path string) (mode uint32, size int64, mtime int64, err error)
	ReadFile(path string) ([]byte, error)
	List() ([]string, error)
}

// FilelogOpener resolves a tracked path's p1 content, narrowed so Status
// does not need a full store.Repository (avoids an import cycle with the
// match/store packages).
type FilelogOpener interface {
	ReadAtP1(path string) ([]byte, error)
}

// Ignorer reports whether a path should be excluded from the working-
// directory scan (implemented by config.Config, kept narrow here to avoid
// a dirstate → config import).
type Ignorer interface {
	IsIgnored(path string) bool
}

// Status is the classification of every path relevant to the working
// directory as of one comparison pass.
type Status struct {
	Modified []string
	Added []string
	Removed []string
	Clean []string
	Unknown []string
	Ignored []string
}

// Status compares the working directory to the dirstate: for each
// tracked entry, the mtime/size fast path avoids reading file content
// unless the stat doesn't match, in which case content is compared
// against the filelog's p1 revision. Paths present on disk but absent
// from the dirstate are unknown, filtered through ignore into Ignored.
func (ds *Dirstate) Status(wd WorkingDirFS, fl FilelogOpener, ignore Ignorer) (*Status, error) {
	st := &Status{}
	onDisk := make(map[string]bool)

	present, err := wd.List()
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "dirstate.Status", "list working directory", err)
	}
	for _, p := range present {
		onDisk[p] = true
	}

	for path, e := range ds.Entries {
		switch e.State {
		case StateAdded:
			st.Added = append(st.Added, path)
			continue
		case StateRemoved:
			st.Removed = append(st.Removed, path)
			continue
		}

		mode, size, mtime, err := wd.Stat(path)
		if err != nil {
			st.Removed = append(st.Removed, path)
			continue
		}
		if mode == e.Mode && size == e.Size && mtime == e.MTime {
			st.Clean = append(st.Clean, path)
			continue
		}

		content, err := wd.ReadFile(path)
		if err != nil {
			st.Removed = append(st.Removed, path)
			continue
		}
		p1Content, err := fl.ReadAtP1(path)
		if err != nil {
			return nil, err
		}
		if bytesEqual(content, p1Content) {
			st.Clean = append(st.Clean, path)
		} else {
			st.Modified = append(st.Modified, path)
		}
	}

	for _, path := range present {
		if _, tracked := ds.Entries[path]; tracked {
			continue
		}
		if ignore != nil && ignore.IsIgnored(path) {
			st.Ignored = append(st.Ignored, path)
		} else {
			st.Unknown = append(st.Unknown, path)
		}
	}

	return st, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
