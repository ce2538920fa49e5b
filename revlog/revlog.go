package revlog

import (
	"bytes"
	"compress/zlib"
	"io"
	"os"
	"sync"

	"github.com/rcowham/gorevlog/errs"
)

// Options tunes the write policy. The exact constants are performance
// tuning, not semantics; callers embedding this package may set their own.
type Options struct {
	// MaxChainLen bounds delta-chain depth before a fresh snapshot is forced.
	MaxChainLen int
	// MaxChainRatio bounds cumulative stored delta-chain size relative to
	// the new revision's uncompressed size (~4x by default).
	MaxChainRatio float64
	// InlineLimit is the accumulated inline data size, in bytes, past which
	// an inline revlog is split into separate .i/.d files.
	InlineLimit int64
}

// DefaultOptions mirrors the historical Mercurial tuning values.
var DefaultOptions = Options{
	MaxChainLen: 128,
	MaxChainRatio: 4.0,
	InlineLimit: 1 << 20, // 1 MiB
}

// VerifyError reports one hash mismatch found by Verify, naming the exact
// revision and the expected/actual nodes.
type VerifyError struct {
	Rev RevNum
	Expected Node
	Actual Node
}

func (e VerifyError) Error() string {
	return "revlog: hash mismatch at rev " + itoa(int(e.Rev)) + ": expected " + e.Expected.String() + " got " + e.Actual.String()
}

// Revlog is an append-only, delta-compressed log of revisions, readable by
// node id or dense local index.
type Revlog struct {
	mu sync.Mutex

	indexPath string
	dataPath string
	inline bool
	opts Options

	entries []IndexEntry
	byNode map[Node]RevNum

	indexFile *os.File
	dataFile *os.File // nil while inline

	// snapshotCache amortizes sequential reads by remembering the last
	// materialized snapshot + its rev, per the caching requirement.
	snapshotCache struct {
		rev RevNum
		text []byte
	}
}

// Open opens (creating if absent) the revlog rooted at indexPath, with a
// sibling dataPath used once the revlog is split out of inline mode.
func Open(indexPath, dataPath string, opts Options) (*Revlog, error) {
	rl := &Revlog{
		indexPath: indexPath,
		dataPath: dataPath,
		inline: true,
		opts: opts,
		byNode: make(map[Node]RevNum),
	}
	f, err := os.OpenFile(indexPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "revlog.Open", "opening index file", err)
	}
	rl.indexFile = f
	if err := rl.loadIndex(); err != nil {
		f.Close()
		return nil, err
	}
	if !rl.inline {
		df, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			f.Close()
			return nil, errs.Wrap(errs.Resource, "revlog.Open", "opening data file", err)
		}
		rl.dataFile = df
	}
	return rl, nil
}

// Close releases the underlying file handles.
func (rl *Revlog) Close() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	var err error
	if rl.indexFile != nil {
		err = rl.indexFile.Close()
	}
	if rl.dataFile != nil {
		if e := rl.dataFile.Close(); err == nil {
			err = e
		}
	}
	return err
}

// Len returns the number of revisions currently stored.
func (rl *Revlog) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Paths returns the index file path and, when the revlog is split out of
// inline mode, the data file path (empty while still inline). Callers
// that journal a transaction at the store level (rather than per-append
// via AppendRevision's journalNote) use this to note both files' current
// lengths before a batch of appends.
func (rl *Revlog) Paths() (indexPath, dataPath string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.inline {
		return rl.indexPath, ""
	}
	return rl.indexPath, rl.dataPath
}

// Lengths returns the current on-disk length of the index file and, when
// split, the data file, for a caller that wants to journal them itself
// ahead of a batch of appends rather than relying on AppendRevision's
// per-call journalNote.
func (rl *Revlog) Lengths() (indexLen, dataLen int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.currentLengths()
}

func (rl *Revlog) loadIndex() error {
	st, err := rl.indexFile.Stat()
	if err != nil {
		return errs.Wrap(errs.Resource, "revlog.loadIndex", "stat index", err)
	}
	size := st.Size()
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(rl.indexFile, 0, size), buf); err != nil {
		return errs.Wrap(errs.Resource, "revlog.loadIndex", "reading index", err)
	}

	rev := RevNum(0)
	pos := int64(0)
	for pos+indexEntrySize <= size {
		// A reader racing a concurrent writer must ignore a partial trailing
		// record rather than treat it as corruption.
		rec := buf[pos:pos+indexEntrySize]
		e, hf, err := decodeEntry(rev, rec)
		if err != nil {
			return err
		}
		if rev == 0 {
			rl.inline = hf&headerInline != 0
		}
		pos += indexEntrySize
		if rl.inline {
			dataStart := pos
			dataEnd := dataStart + int64(e.CompressedLen)
			if dataEnd > size {
				break // partial trailing revision; stop here
			}
			e.Offset = dataStart
			pos = dataEnd
		}
		rl.entries = append(rl.entries, e)
		rl.byNode[e.Node] = rev
		rev++
	}
	return nil
}

// rewriteHeaderRecord rewrites rev0's record after an inline/split transition,
// since the header word lives only in that record.
func (rl *Revlog) rewriteHeaderRecord() error {
	if len(rl.entries) == 0 {
		return nil
	}
	b := encodeEntry(0, rl.entries[0], rl.inline)
	_, err := rl.indexFile.WriteAt(b, 0)
	return err
}

// readRaw fetches the raw (still tagged+compressed) bytes for a revision.
func (rl *Revlog) readRaw(rev RevNum, e IndexEntry) ([]byte, error) {
	buf := make([]byte, e.CompressedLen)
	var f *os.File
	if rl.inline {
		f = rl.indexFile
	} else {
		f = rl.dataFile
	}
	if _, err := f.ReadAt(buf, e.Offset); err != nil {
		return nil, errs.Wrap(errs.Resource, "revlog.readRaw", "reading revision data", err)
	}
	return buf, nil
}

// untag strips the single-byte compression tag prefixed to every stored
// chunk ('x' = zlib, 'u' = uncompressed, 0 = uncompressed w/ leading NUL).
func untag(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	switch raw[0] {
	case 'x':
		zr, err := zlib.NewReader(bytes.NewReader(raw[1:]))
		if err != nil {
			return nil, errs.Wrap(errs.Integrity, "revlog.untag", "zlib decompress", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case 'u':
		return raw[1:], nil
	case 0:
		return raw[1:], nil
	default:
		return nil, errs.New(errs.Integrity, "revlog.untag", "unknown chunk tag byte")
	}
}

// tag compresses payload, choosing whichever of zlib/raw encoding is shorter.
func tag(payload []byte) []byte {
	var zbuf bytes.Buffer
	zbuf.WriteByte('x')
	zw := zlib.NewWriter(&zbuf)
	zw.Write(payload)
	zw.Close()
	if zbuf.Len() < len(payload)+1 {
		return zbuf.Bytes()
	}
	out := make([]byte, 0, len(payload)+1)
	if len(payload) > 0 && payload[0] == 'x' {
		out = append(out, 0) // avoid colliding with the zlib tag byte
	} else {
		out = append(out, 'u')
	}
	out = append(out, payload...)
	return out
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b [20]byte
	p := len(b)
	for i > 0 {
		p--
		b[p] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		p--
		b[p] = '-'
	}
	return string(b[p:])
}
