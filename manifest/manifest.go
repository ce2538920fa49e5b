// Package manifest specializes revlog to store directory snapshots: for
// every changeset, the set of (path, filenode, flags) triples naming
// exactly which revision of every tracked file belongs to that snapshot.
package manifest

import (
	"sort"
	"strings"

	"github.com/rcowham/gorevlog/errs"
	"github.com/rcowham/gorevlog/revlog"
)

// Flag is the single-character flag carried alongside a manifest entry:
// empty, 'x' (executable) or 'l' (symlink).
type Flag byte

const (
	FlagNone Flag = 0
	FlagExecutable Flag = 'x'
	FlagSymlink Flag = 'l'
)

// Entry is one (filenode, flag) pair as stored under a path.
type Entry struct {
	Node revlog.Node
	Flag Flag
}

// Entries maps tracked path to its filenode/flag for one manifest revision.
type Entries map[string]Entry

// Manifest wraps the revlog storing directory snapshots at the one fixed
// store path.
type Manifest struct {
	rl *revlog.Revlog
}

// Open opens (creating if absent) the manifest revlog.
func Open(indexPath, dataPath string, opts revlog.Options) (*Manifest, error) {
	rl, err := revlog.Open(indexPath, dataPath, opts)
	if err != nil {
		return nil, err
	}
	return &Manifest{rl: rl}, nil
}

// Close releases the underlying revlog's file handles.
func (m *Manifest) Close() error { return m.rl.Close() }

// Revlog exposes the underlying revlog.
func (m *Manifest) Revlog() *revlog.Revlog { return m.rl }

// Serialize renders entries as the sorted, newline-terminated text format
// "path \0 hex-filenode flag-chars\n", one line per path.
func Serialize(entries Entries) []byte {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		e := entries[p]
		b.WriteString(p)
		b.WriteByte(0)
		b.WriteString(e.Node.String())
		if e.Flag != FlagNone {
			b.WriteByte(byte(e.Flag))
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// parseLine splits one manifest line into (path, Entry).
func parseLine(line string) (string, Entry, error) {
	nulIdx := strings.IndexByte(line, 0)
	if nulIdx < 0 {
		return "", Entry{}, errs.New(errs.Integrity, "manifest.parseLine", "missing NUL separator")
	}
	path := line[:nulIdx]
	rest := line[nulIdx+1:]
	hexLen := revlog.NodeSize * 2
	if len(rest) < hexLen {
		return "", Entry{}, errs.New(errs.Integrity, "manifest.parseLine", "truncated filenode")
	}
	node, err := revlog.ParseNode(rest[:hexLen])
	if err != nil {
		return "", Entry{}, errs.Wrap(errs.Integrity, "manifest.parseLine", "invalid filenode hex", err)
	}
	flag := FlagNone
	if len(rest) > hexLen {
		flag = Flag(rest[hexLen])
	}
	return path, Entry{Node: node, Flag: flag}, nil
}

func parse(payload []byte) (Entries, error) {
	entries := make(Entries)
	text := string(payload)
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		path, e, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		entries[path] = e
	}
	return entries, nil
}

// Add stores a new manifest snapshot and returns its node.
func (m *Manifest) Add(entries Entries, p1, p2, linkRev revlog.RevNum, note func(indexLen, dataLen int64)) (revlog.RevNum, revlog.Node, error) {
	return m.rl.AppendRevision(p1, p2, linkRev, Serialize(entries), 0, note)
}

// Read fetches and parses a manifest snapshot by rev or node.
func (m *Manifest) Read(id revlog.RevisionID) (Entries, error) {
	payload, err := m.rl.Revision(id)
	if err != nil {
		return nil, err
	}
	return parse(payload)
}

// Delta describes what changed for one path between two manifests.
type Delta struct {
	Path string
	OldEntry *Entry // nil if path was added
	NewEntry *Entry // nil if path was removed
}

// Diff computes the set of path-level changes between two manifest
// revisions directly from their serialized text when both are available,
// merging the two sorted line lists instead of building two full maps.
func (m *Manifest) Diff(a, b revlog.RevisionID) ([]Delta, error) {
	payloadA, err := m.rl.Revision(a)
	if err != nil {
		return nil, err
	}
	payloadB, err := m.rl.Revision(b)
	if err != nil {
		return nil, err
	}
	return diffText(payloadA, payloadB)
}

func diffText(a, b []byte) ([]Delta, error) {
	linesA := splitNonEmpty(a)
	linesB := splitNonEmpty(b)

	var deltas []Delta
	i, j := 0, 0
	for i < len(linesA) && j < len(linesB) {
		pathA, entA, err := parseLine(linesA[i])
		if err != nil {
			return nil, err
		}
		pathB, entB, err := parseLine(linesB[j])
		if err != nil {
			return nil, err
		}
		switch {
		case pathA == pathB:
			if entA != entB {
				oa, ob := entA, entB
				deltas = append(deltas, Delta{Path: pathA, OldEntry: &oa, NewEntry: &ob})
			}
			i++
			j++
		case pathA < pathB:
			oa := entA
			deltas = append(deltas, Delta{Path: pathA, OldEntry: &oa, NewEntry: nil})
			i++
		default:
			ob := entB
			deltas = append(deltas, Delta{Path: pathB, OldEntry: nil, NewEntry: &ob})
			j++
		}
	}
	for ; i < len(linesA); i++ {
		path, ent, err := parseLine(linesA[i])
		if err != nil {
			return nil, err
		}
		oa := ent
		deltas = append(deltas, Delta{Path: path, OldEntry: &oa, NewEntry: nil})
	}
	for ; j < len(linesB); j++ {
		path, ent, err := parseLine(linesB[j])
		if err != nil {
			return nil, err
		}
		ob := ent
		deltas = append(deltas, Delta{Path: path, OldEntry: nil, NewEntry: &ob})
	}
	return deltas, nil
}

func splitNonEmpty(payload []byte) []string {
	all := strings.Split(string(payload), "\n")
	out := all[:0]
	for _, l := range all {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
