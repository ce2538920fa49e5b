package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rcowham/gorevlog/errs"
)

// osWorkingDir is the default WorkingDirFS/match.WorkingDirFS
// implementation, backed directly by the host filesystem rooted at the
// repository's working directory (the directory that contains .hg).
type osWorkingDir struct {
	root string
}

func newOSWorkingDir(root string) *osWorkingDir {
	return &osWorkingDir{root: root}
}

// Stat implements dirstate.WorkingDirFS.
func (w *osWorkingDir) Stat(path string) (mode uint32, size int64, mtime int64, err error) {
	fi, err := os.Lstat(filepath.Join(w.root, path))
	if err != nil {
		return 0, 0, 0, err
	}
	m := uint32(0o644)
	if fi.Mode()&0o111 != 0 {
		m = 0o755
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		m = uint32(os.ModeSymlink)
	}
	return m, fi.Size(), fi.ModTime().Unix(), nil
}

// ReadFile implements dirstate.WorkingDirFS.
func (w *osWorkingDir) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(w.root, path))
}

// List implements dirstate.WorkingDirFS and match.WorkingDirFS: every
// regular file under root, repository-path-relative, '/'-separated.
func (w *osWorkingDir) List() ([]string, error) {
	var out []string
	err := filepath.WalkDir(w.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".hg" && p != w.root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "store.osWorkingDir.List", "walk working directory", err)
	}
	return out, nil
}

// touchedMtime reports the current wall-clock second, used when writing
// new dirstate entries after add/commit/update (not part of any
// WorkingDirFS capability interface, just a small shared helper).
func touchedMtime() int64 {
	return time.Now().Unix()
}
