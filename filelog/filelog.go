// Package filelog specializes revlog to store the per-path revision
// history of tracked files, including rename/copy metadata.
package filelog

import (
	"strings"

	"github.com/rcowham/gorevlog/errs"
	"github.com/rcowham/gorevlog/revlog"
)

const metaMarker = "\x01\n"

// CopyInfo records the rename/copy provenance carried in a filelog
// revision's meta header, when present.
type CopyInfo struct {
	Source string
	SourceRev revlog.Node
}

// Filelog wraps the revlog storing one tracked path's history, at a
// location derived from EncodePath.
type Filelog struct {
	path string
	rl *revlog.Revlog
}

// Open opens (creating if absent) the filelog revlog backing path.
func Open(path, indexPath, dataPath string, opts revlog.Options) (*Filelog, error) {
	rl, err := revlog.Open(indexPath, dataPath, opts)
	if err != nil {
		return nil, err
	}
	return &Filelog{path: path, rl: rl}, nil
}

// Close releases the underlying revlog's file handles.
func (f *Filelog) Close() error { return f.rl.Close() }

// Path returns the tracked repository path this filelog serves.
func (f *Filelog) Path() string { return f.path }

// Revlog exposes the underlying revlog.
func (f *Filelog) Revlog() *revlog.Revlog { return f.rl }

func withMeta(content []byte, copy *CopyInfo) []byte {
	if copy == nil && !strings.HasPrefix(string(content), metaMarker) {
		return content
	}
	var b strings.Builder
	b.WriteString(metaMarker)
	if copy != nil {
		b.WriteString("copy: ")
		b.WriteString(copy.Source)
		b.WriteByte('\n')
		b.WriteString("copyrev: ")
		b.WriteString(copy.SourceRev.String())
		b.WriteByte('\n')
	}
	b.WriteString(metaMarker)
	b.Write(content)
	return []byte(b.String())
}

func splitMeta(payload []byte) ([]byte, *CopyInfo, error) {
	if !strings.HasPrefix(string(payload), metaMarker) {
		return payload, nil, nil
	}
	rest := string(payload[len(metaMarker):])
	end := strings.Index(rest, metaMarker)
	if end < 0 {
		return nil, nil, errs.New(errs.Integrity, "filelog.splitMeta", "unterminated meta header")
	}
	header := rest[:end]
	content := []byte(rest[end+len(metaMarker):])

	var copy *CopyInfo
	for _, line := range strings.Split(header, "\n") {
		if line == "" {
			continue
		}
		if src, ok := strings.CutPrefix(line, "copy: "); ok {
			if copy == nil {
				copy = &CopyInfo{}
			}
			copy.Source = src
		} else if rev, ok := strings.CutPrefix(line, "copyrev: "); ok {
			if copy == nil {
				copy = &CopyInfo{}
			}
			n, err := revlog.ParseNode(rev)
			if err != nil {
				return nil, nil, errs.Wrap(errs.Integrity, "filelog.splitMeta", "invalid copyrev", err)
			}
			copy.SourceRev = n
		}
	}
	return content, copy, nil
}

// Add stores a new revision of the file's content, optionally carrying copy
// metadata. The node embeds parentage, so identical content with
// different rename history always yields a distinct node.
func (f *Filelog) Add(p1, p2 revlog.RevNum, linkRev revlog.RevNum, content []byte, copy *CopyInfo, note func(indexLen, dataLen int64)) (revlog.RevNum, revlog.Node, error) {
	payload := withMeta(content, copy)
	return f.rl.AppendRevision(p1, p2, linkRev, payload, 0, note)
}

// Read fetches a revision's content and copy metadata, stripping the meta
// header if present. When absent, the payload is the file content verbatim.
func (f *Filelog) Read(id revlog.RevisionID) ([]byte, *CopyInfo, error) {
	payload, err := f.rl.Revision(id)
	if err != nil {
		return nil, nil, err
	}
	return splitMeta(payload)
}
