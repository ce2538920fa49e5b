package revlog

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rcowham/gorevlog/errs"
)

// A binary patch is a sequence of (start, end, replacement) hunks applied
// against the prior full text. Each hunk is framed as
// start(4) | end(4) | len(4) | replacement bytes, big-endian, matching the
// on-disk layout.
type hunk struct {
	start, end int
	repl []byte
}

// ComputeDelta builds the smallest single-hunk patch turning base into text.
// Finding the minimal common prefix/suffix keeps the delta proportional to
// the actual edit rather than re-storing the whole revision, without the
// complexity of a full general-purpose diff algorithm. Exported so the
// changegroup codec can build the same delta format for its wire chunks.
func ComputeDelta(base, text []byte) []byte {
	return computeDelta(base, text)
}

func computeDelta(base, text []byte) []byte {
	prefix := commonPrefixLen(base, text)
	suffix := commonSuffixLen(base[prefix:], text[prefix:])
	start := prefix
	end := len(base) - suffix
	if end < start {
		end = start
	}
	replStart := prefix
	replEnd := len(text) - suffix
	if replEnd < replStart {
		replEnd = replStart
	}
	repl := text[replStart:replEnd]

	var buf bytes.Buffer
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(start))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(end))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(repl)))
	buf.Write(hdr[:])
	buf.Write(repl)
	return buf.Bytes()
}

// ApplyDelta replays the hunks in delta against base, producing the full
// text. Exported so the changegroup codec can reconstruct revisions
// shipped as in-stream deltas.
func ApplyDelta(base, delta []byte) ([]byte, error) {
	return applyDelta(base, delta)
}

// applyDelta replays the hunks in delta against base, producing the full text.
func applyDelta(base, delta []byte) ([]byte, error) {
	var out bytes.Buffer
	pos := 0
	off := 0
	for off < len(delta) {
		if off+12 > len(delta) {
			return nil, errs.New(errs.Integrity, "revlog.applyDelta", "truncated delta header")
		}
		start := int(binary.BigEndian.Uint32(delta[off:off+4]))
		end := int(binary.BigEndian.Uint32(delta[off+4:off+8]))
		length := int(binary.BigEndian.Uint32(delta[off+8:off+12]))
		off += 12
		if off+length > len(delta) || start < pos || start > len(base) || end > len(base) || end < start {
			return nil, errs.New(errs.Integrity, "revlog.applyDelta", fmt.Sprintf("malformed hunk start=%d end=%d len=%d", start, end, length))
		}
		out.Write(base[pos:start])
		out.Write(delta[off:off+length])
		off += length
		pos = end
	}
	out.Write(base[pos:])
	return out.Bytes(), nil
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}
