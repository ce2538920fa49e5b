// Package dirstate tracks which paths are tracked in the working
// directory, their last known on-disk state, and rename/copy bookkeeping
// between commits. The file format is a fixed 40-byte header
// followed by variable-length entries, written atomically via
// temp-file-then-rename.
package dirstate

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rcowham/gorevlog/errs"
	"github.com/rcowham/gorevlog/revlog"
)

// State is a dirstate entry's tracking status.
type State byte

const (
	StateNormal State = 'n'
	StateAdded State = 'a'
	StateRemoved State = 'r'
	StateMerged State = 'm'
)

// Entry is one path's dirstate record.
type Entry struct {
	State State
	Mode uint32
	Size int64
	MTime int64
}

// Dirstate is the full working-directory tracking state: the two parent
// nodes of the working copy, per-path entries, and copy-source mapping.
type Dirstate struct {
	P1, P2 revlog.Node
	Entries map[string]Entry
	Copies map[string]string
}

const headerSize = 40

// New returns an empty Dirstate with both parents null.
func New() *Dirstate {
	return &Dirstate{
		P1: revlog.NullID,
		P2: revlog.NullID,
		Entries: make(map[string]Entry),
		Copies: make(map[string]string),
	}
}

// Load reads a dirstate file, returning an empty Dirstate if it does not
// exist yet (a freshly initialized repository).
func Load(path string) (*Dirstate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, errs.Wrap(errs.Resource, "dirstate.Load", "read "+path, err)
	}
	if len(data) < headerSize {
		return nil, errs.New(errs.Integrity, "dirstate.Load", "truncated header")
	}
	ds := New()
	copy(ds.P1[:], data[0:20])
	copy(ds.P2[:], data[20:40])

	buf := data[headerSize:]
	for len(buf) > 0 {
		if len(buf) < 17 {
			return nil, errs.New(errs.Integrity, "dirstate.Load", "truncated entry")
		}
		state := State(buf[0])
		mode := binary.BigEndian.Uint32(buf[1:5])
		size := int64(int32(binary.BigEndian.Uint32(buf[5:9])))
		mtime := int64(int32(binary.BigEndian.Uint32(buf[9:13])))
		pathLen := binary.BigEndian.Uint32(buf[13:17])
		buf = buf[17:]
		if uint32(len(buf)) < pathLen {
			return nil, errs.New(errs.Integrity, "dirstate.Load", "truncated path")
		}
		field := buf[:pathLen]
		buf = buf[pathLen:]

		path := string(field)
		copySrc := ""
		if idx := bytes.IndexByte(field, 0); idx >= 0 {
			path = string(field[:idx])
			copySrc = string(field[idx+1:])
		}
		ds.Entries[path] = Entry{State: state, Mode: mode, Size: size, MTime: mtime}
		if copySrc != "" {
			ds.Copies[path] = copySrc
		}
	}
	return ds, nil
}

// Save writes the dirstate atomically: to a temp file in the same
// directory, fsync'd, then renamed over path.
func (ds *Dirstate) Save(path string) error {
	var buf bytes.Buffer
	buf.Write(ds.P1[:])
	buf.Write(ds.P2[:])

	paths := make([]string, 0, len(ds.Entries))
	for p := range ds.Entries {
		paths = append(paths, p)
	}
	sortStrings(paths)

	for _, p := range paths {
		e := ds.Entries[p]
		field := []byte(p)
		if src, ok := ds.Copies[p]; ok {
			field = append(field, 0)
			field = append(field, []byte(src)...)
		}
		var hdr [17]byte
		hdr[0] = byte(e.State)
		binary.BigEndian.PutUint32(hdr[1:5], e.Mode)
		binary.BigEndian.PutUint32(hdr[5:9], uint32(int32(e.Size)))
		binary.BigEndian.PutUint32(hdr[9:13], uint32(int32(e.MTime)))
		binary.BigEndian.PutUint32(hdr[13:17], uint32(len(field)))
		buf.Write(hdr[:])
		buf.Write(field)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".dirstate-tmp-*")
	if err != nil {
		return errs.Wrap(errs.Resource, "dirstate.Save", "create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.Resource, "dirstate.Save", "write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.Resource, "dirstate.Save", "fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.Resource, "dirstate.Save", "close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.Resource, "dirstate.Save", "rename temp file", err)
	}
	return nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// inParentManifest reports whether path is present in the parent
// manifest entries set.
func inParentManifest(parent map[string]struct{}, path string) bool {
	_, ok := parent[path]
	return ok
}

// Normal marks path as tracked and matching p1, clearing any pending
// add/remove/merge state.
func (ds *Dirstate) Normal(path string, mode uint32, size, mtime int64) {
	delete(ds.Copies, path)
	ds.Entries[path] = Entry{State: StateNormal, Mode: mode, Size: size, MTime: mtime}
}

// Add schedules path for the next commit. path must not already be
// present in the parent manifest; parentManifest is nil to skip the
// check (e.g. when the caller has already validated it).
func (ds *Dirstate) Add(path string, parentManifest map[string]struct{}, copySource string) error {
	if parentManifest != nil && inParentManifest(parentManifest, path) {
		return errs.New(errs.Semantic, "dirstate.Add", fmt.Sprintf("%s already tracked in parent manifest", path))
	}
	ds.Entries[path] = Entry{State: StateAdded}
	if copySource != "" {
		ds.Copies[path] = copySource
	}
	return nil
}

// Remove schedules path for deletion. path must be present in the
// parent manifest.
func (ds *Dirstate) Remove(path string, parentManifest map[string]struct{}) error {
	if parentManifest != nil && !inParentManifest(parentManifest, path) {
		return errs.New(errs.Semantic, "dirstate.Remove", fmt.Sprintf("%s not tracked in parent manifest", path))
	}
	ds.Entries[path] = Entry{State: StateRemoved}
	delete(ds.Copies, path)
	return nil
}

// Merge marks path as merged, requiring two non-null parents.
func (ds *Dirstate) Merge(path string) error {
	if ds.P1.IsNull() || ds.P2.IsNull() {
		return errs.New(errs.Semantic, "dirstate.Merge", "merge entries require two non-null parents")
	}
	ds.Entries[path] = Entry{State: StateMerged}
	return nil
}

// Forget removes path's dirstate entry entirely (forget/commit lifecycle).
func (ds *Dirstate) Forget(path string) {
	delete(ds.Entries, path)
	delete(ds.Copies, path)
}
