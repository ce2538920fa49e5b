// Package changelog specializes revlog to store changeset headers: the
// root of trust for the whole repository.
package changelog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rcowham/gorevlog/errs"
	"github.com/rcowham/gorevlog/revlog"
)

// Changeset is the parsed payload of one changelog entry.
type Changeset struct {
	Manifest revlog.Node
	User string
	Date string // "<unix-seconds> <tz-offset>"
	Extras map[string]string
	Files []string
	Message string
}

// Changelog wraps a *revlog.Revlog storing changeset headers at the one
// fixed store path.
type Changelog struct {
	rl *revlog.Revlog
}

// Open opens (creating if absent) the changelog revlog.
func Open(indexPath, dataPath string, opts revlog.Options) (*Changelog, error) {
	rl, err := revlog.Open(indexPath, dataPath, opts)
	if err != nil {
		return nil, err
	}
	return &Changelog{rl: rl}, nil
}

// Close releases the underlying revlog's file handles.
func (c *Changelog) Close() error { return c.rl.Close() }

// Revlog exposes the underlying revlog for DAG/transaction code that needs
// raw rev/node access without duplicating the whole revlog surface.
func (c *Changelog) Revlog() *revlog.Revlog { return c.rl }

// Tip returns the highest-numbered rev, or revlog.NullRev if empty.
func (c *Changelog) Tip() revlog.RevNum {
	n := c.rl.Len()
	if n == 0 {
		return revlog.NullRev
	}
	return revlog.RevNum(n - 1)
}

func encodeExtras(date string, extras map[string]string) string {
	if len(extras) == 0 {
		return date
	}
	keys := make([]string, 0, len(extras))
	for k := range extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(date)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(strings.NewReplacer(":", "\\:", "\n", "\\n").Replace(extras[k]))
	}
	return b.String()
}

func decodeExtras(line string) (date string, extras map[string]string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", nil
	}
	// date is always the first one or two numeric tokens ("<seconds> <tz>").
	i := 1
	if len(parts) > 1 {
		if _, err := fmt.Sscanf(parts[1], "%d", new(int)); err == nil {
			i = 2
		}
	}
	date = strings.Join(parts[:i], " ")
	if i >= len(parts) {
		return date, nil
	}
	extras = make(map[string]string)
	for _, kv := range parts[i:] {
		idx := strings.Index(kv, ":")
		if idx < 0 {
			continue
		}
		k := kv[:idx]
		v := strings.NewReplacer("\\n", "\n", "\\:", ":").Replace(kv[idx+1:])
		extras[k] = v
	}
	return date, extras
}

// serialize renders a Changeset in the fixed text layout of:
// manifest-hex-node \n author \n date+extras \n files-one-per-line \n \n message
func serialize(cs *Changeset) []byte {
	var b strings.Builder
	b.WriteString(cs.Manifest.String())
	b.WriteByte('\n')
	b.WriteString(cs.User)
	b.WriteByte('\n')
	b.WriteString(encodeExtras(cs.Date, cs.Extras))
	b.WriteByte('\n')
	for _, f := range cs.Files {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(cs.Message)
	return []byte(b.String())
}

// parse is the inverse of serialize; it is tolerant of unknown extras,
// preserving them verbatim on round-trip.
func parse(payload []byte) (*Changeset, error) {
	s := string(payload)
	lines := strings.Split(s, "\n")
	if len(lines) < 3 {
		return nil, errs.New(errs.Integrity, "changelog.parse", "truncated changeset payload")
	}
	manifest, err := revlog.ParseNode(lines[0])
	if err != nil {
		return nil, errs.Wrap(errs.Integrity, "changelog.parse", "invalid manifest node", err)
	}
	user := lines[1]
	date, extras := decodeExtras(lines[2])

	var files []string
	i := 3
	for ; i < len(lines); i++ {
		if lines[i] == "" {
			i++
			break
		}
		files = append(files, lines[i])
	}
	message := strings.Join(lines[i:], "\n")

	return &Changeset{
		Manifest: manifest,
		User: user,
		Date: date,
		Extras: extras,
		Files: files,
		Message: message,
	}, nil
}

// JournalNote lets a caller (store.Repository) wire this append into the
// enclosing transaction's rollback journal.
type JournalNote func(indexLen, dataLen int64)

// Add appends a new changeset. The changelog is always extended last within
// a transaction by convention of the caller; this method does not
// itself enforce ordering across revlogs, only records this one append.
func (c *Changelog) Add(manifest revlog.Node, files []string, user, date string, extras map[string]string, message string, p1, p2 revlog.RevNum, note JournalNote) (revlog.RevNum, revlog.Node, error) {
	sort.Strings(files)
	cs := &Changeset{Manifest: manifest, User: user, Date: date, Extras: extras, Files: files, Message: message}
	payload := serialize(cs)
	var noteFn func(int64, int64)
	if note != nil {
		noteFn = func(a, b int64) { note(a, b) }
	}
	return c.rl.AppendRevision(p1, p2, 0, payload, 0, noteFn)
}

// Read fetches and parses a changeset by rev or node.
func (c *Changelog) Read(id revlog.RevisionID) (*Changeset, error) {
	payload, err := c.rl.Revision(id)
	if err != nil {
		return nil, err
	}
	return parse(payload)
}
