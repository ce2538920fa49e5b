// Package revlog implements the append-only, delta-compressed revision
// log that underlies the changelog, manifest, and per-file logs.
package revlog

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
)

// NodeSize is the length in bytes of a content-addressed revision id.
const NodeSize = 20

// Node is the 20-byte identifier of a revlog entry: H(sorted(p1,p2) || payload).
type Node [NodeSize]byte

// NullID is the all-zero sentinel meaning "no revision".
var NullID Node

// IsNull reports whether n is the null sentinel.
func (n Node) IsNull() bool {
	return n == NullID
}

// String returns the full 40 hex digit representation.
func (n Node) String() string {
	return hex.EncodeToString(n[:])
}

// Short returns the conventional 12 hex digit prefix used in messages.
func (n Node) Short() string {
	s := n.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// Less orders nodes lexicographically, used to pick p1/p2 ordering for hashing.
func (n Node) Less(o Node) bool {
	return bytes.Compare(n[:], o[:]) < 0
}

// ParseNode decodes a hex string into a Node, accepting full or short (even-length) forms
// by zero-padding on the right; callers needing disambiguation of short forms against an
// index should use Revlog.ResolvePrefix instead.
func ParseNode(s string) (Node, error) {
	var n Node
	if len(s) > NodeSize*2 {
		return n, errors.New("revlog: hex node too long")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return n, err
	}
	copy(n[:], b)
	return n, nil
}

// HashRevision computes the node id for a revision with parents p1, p2 and the given
// fully materialized (uncompressed) payload, per the node identity rule: the
// smaller of the two parent node byte strings is hashed first.
func HashRevision(p1, p2 Node, payload []byte) Node {
	a, b := p1, p2
	if b.Less(a) {
		a, b = b, a
	}
	h := sha1.New()
	h.Write(a[:])
	h.Write(b[:])
	h.Write(payload)
	var n Node
	copy(n[:], h.Sum(nil))
	return n
}
