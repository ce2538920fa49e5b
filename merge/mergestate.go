package merge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/rcowham/gorevlog/errs"
	"github.com/rcowham/gorevlog/revlog"
)

// Resolution is a per-path merge's status.
type Resolution int

const (
	Unresolved Resolution = iota
	Resolved
)

// MergeRecord is the persisted state for one path needing resolution.
type MergeRecord struct {
	Path string
	Local revlog.Node
	Other revlog.Node
	Base revlog.Node
	ContentHash string
	Status Resolution
}

// Mergestate is the set of paths a merge in progress left needing
// resolution, persisted so the process can be interrupted and resumed.
type Mergestate struct {
	Records map[string]*MergeRecord
}

// NewMergestate returns an empty Mergestate.
func NewMergestate() *Mergestate {
	return &Mergestate{Records: make(map[string]*MergeRecord)}
}

// Add records a path entering the merge in the unresolved state.
func (ms *Mergestate) Add(path string, local, other, base revlog.Node, contentHash string) {
	ms.Records[path] = &MergeRecord{
		Path: path, Local: local, Other: other, Base: base,
		ContentHash: contentHash, Status: Unresolved,
	}
}

// Resolve marks path resolved.
func (ms *Mergestate) Resolve(path string) error {
	r, ok := ms.Records[path]
	if !ok {
		return errs.New(errs.Usage, "merge.Resolve", "no merge record for "+path)
	}
	r.Status = Resolved
	return nil
}

// Unresolved returns every path still awaiting resolution, sorted.
func (ms *Mergestate) Unresolved() []string {
	var out []string
	for p, r := range ms.Records {
		if r.Status == Unresolved {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// CheckCommittable returns ErrUnresolved if any path remains unresolved.
func (ms *Mergestate) CheckCommittable() error {
	if len(ms.Unresolved()) > 0 {
		return ErrUnresolved
	}
	return nil
}

// Load reads a persisted mergestate file, returning an empty Mergestate
// if none exists (no merge in progress).
func Load(path string) (*Mergestate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewMergestate(), nil
		}
		return nil, errs.Wrap(errs.Resource, "merge.Load", "read "+path, err)
	}
	ms := NewMergestate()
	if err := json.Unmarshal(data, &ms.Records); err != nil {
		return nil, errs.Wrap(errs.Integrity, "merge.Load", "decode mergestate", err)
	}
	return ms, nil
}

// Save persists the mergestate atomically (temp file + rename).
func (ms *Mergestate) Save(path string) error {
	data, err := json.Marshal(ms.Records)
	if err != nil {
		return errs.Wrap(errs.Integrity, "merge.Save", "encode mergestate", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mergestate-tmp-*")
	if err != nil {
		return errs.Wrap(errs.Resource, "merge.Save", "create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.Resource, "merge.Save", "write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.Resource, "merge.Save", "close temp file", err)
	}
	return os.Rename(tmpName, path)
}

// Clear removes a mergestate file, called on successful commit.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.Resource, "merge.Clear", "remove "+path, err)
	}
	return nil
}
