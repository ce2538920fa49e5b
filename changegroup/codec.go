package changegroup

import (
	"bytes"
	"io"

	"github.com/rcowham/gorevlog/errs"
	"github.com/rcowham/gorevlog/revlog"
)

// Version selects the changegroup wire layout. v2 additionally
// carries an explicit base node per chunk; this codec always bases a
// chunk on the previous chunk in the stream, so the v1/v2 distinction is
// purely about whether that base node is spelled out on the wire —
// decoders MUST still fail closed on a version they don't recognize.
type Version int

const (
	VersionV1 Version = 1
	VersionV2 Version = 2
)

// chunkRecord is one revision's wire representation.
type chunkRecord struct {
	Node revlog.Node
	P1, P2 revlog.Node
	LinkNode revlog.Node
	BaseNode revlog.Node // only meaningful, and only encoded, for VersionV2
	Delta []byte
}

func encodeChunk(rec chunkRecord, version Version) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(rec.Node[:])
	buf.Write(rec.P1[:])
	buf.Write(rec.P2[:])
	buf.Write(rec.LinkNode[:])
	switch version {
	case VersionV1:
	case VersionV2:
		buf.Write(rec.BaseNode[:])
	default:
		return nil, errs.New(errs.Usage, "changegroup.encodeChunk", "unsupported version")
	}
	buf.Write(rec.Delta)
	return buf.Bytes(), nil
}

func decodeChunk(payload []byte, version Version) (chunkRecord, error) {
	if version != VersionV1 && version != VersionV2 {
		return chunkRecord{}, errs.New(errs.Usage, "changegroup.decodeChunk", "unsupported version")
	}
	headerLen := revlog.NodeSize * 4
	if version == VersionV2 {
		headerLen += revlog.NodeSize
	}
	if len(payload) < headerLen {
		return chunkRecord{}, errs.New(errs.Integrity, "changegroup.decodeChunk", "truncated chunk header")
	}
	var rec chunkRecord
	off := 0
	copy(rec.Node[:], payload[off:off+revlog.NodeSize])
	off += revlog.NodeSize
	copy(rec.P1[:], payload[off:off+revlog.NodeSize])
	off += revlog.NodeSize
	copy(rec.P2[:], payload[off:off+revlog.NodeSize])
	off += revlog.NodeSize
	copy(rec.LinkNode[:], payload[off:off+revlog.NodeSize])
	off += revlog.NodeSize
	if version == VersionV2 {
		copy(rec.BaseNode[:], payload[off:off+revlog.NodeSize])
		off += revlog.NodeSize
	}
	rec.Delta = payload[off:]
	return rec, nil
}

// linkNodeResolver maps a revision's link-rev (local to its own revlog's
// linked changelog) to the changelog node shipped on the wire.
type linkNodeResolver func(linkRev revlog.RevNum) (revlog.Node, error)

// linkRevResolver is the inverse, used while decoding.
type linkRevResolver func(linkNode revlog.Node) (revlog.RevNum, error)

// encodeRevlogSection streams revs (already in ascending, stream order)
// from rl as a chunk sequence followed by the section terminator.
func encodeRevlogSection(w io.Writer, rl *revlog.Revlog, revs []revlog.RevNum, linkNode linkNodeResolver, version Version) error {
	var prevText []byte
	var prevNode revlog.Node
	for _, rev := range revs {
		text, err := rl.Revision(revlog.ByRev(rev))
		if err != nil {
			return err
		}
		p1rev, p2rev := rl.Parents(rev)
		p1node, err := nodeOrNull(rl, p1rev)
		if err != nil {
			return err
		}
		p2node, err := nodeOrNull(rl, p2rev)
		if err != nil {
			return err
		}
		node, err := rl.NodeOf(rev)
		if err != nil {
			return err
		}
		lrev, err := rl.LinkRevOf(rev)
		if err != nil {
			return err
		}
		lnode, err := linkNode(lrev)
		if err != nil {
			return err
		}

		rec := chunkRecord{
			Node: node, P1: p1node, P2: p2node, LinkNode: lnode,
			BaseNode: prevNode,
			Delta: revlog.ComputeDelta(prevText, text),
		}
		payload, err := encodeChunk(rec, version)
		if err != nil {
			return err
		}
		if err := writeChunk(w, payload); err != nil {
			return err
		}
		prevText, prevNode = text, node
	}
	return writeSectionEnd(w)
}

func nodeOrNull(rl *revlog.Revlog, rev revlog.RevNum) (revlog.Node, error) {
	if rev == revlog.NullRev {
		return revlog.NullID, nil
	}
	return rl.NodeOf(rev)
}

// decodeRevlogSection reads chunks until the section terminator, applying
// each in-stream delta against the previously decoded full text and
// appending the materialized revision to rl inside the caller's
// transaction. Returns the revisions appended, in stream order.
func decodeRevlogSection(r io.Reader, rl *revlog.Revlog, linkRev linkRevResolver, version Version, note func(int64, int64)) ([]revlog.RevNum, error) {
	var prevText []byte
	var appended []revlog.RevNum
	for {
		payload, ok, err := readChunk(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rec, err := decodeChunk(payload, version)
		if err != nil {
			return nil, err
		}
		text, err := revlog.ApplyDelta(prevText, rec.Delta)
		if err != nil {
			return nil, err
		}

		p1rev, err := revOrNull(rl, rec.P1)
		if err != nil {
			return nil, err
		}
		p2rev, err := revOrNull(rl, rec.P2)
		if err != nil {
			return nil, err
		}
		lrev, err := linkRev(rec.LinkNode)
		if err != nil {
			return nil, err
		}

		gotRev, gotNode, err := rl.AppendRevision(p1rev, p2rev, lrev, text, 0, note)
		if err != nil {
			return nil, err
		}
		if gotNode != rec.Node {
			return nil, errs.New(errs.Integrity, "changegroup.decodeRevlogSection", "decoded revision hash mismatch")
		}
		appended = append(appended, gotRev)
		prevText = text
	}
	return appended, nil
}

func revOrNull(rl *revlog.Revlog, node revlog.Node) (revlog.RevNum, error) {
	if node.IsNull() {
		return revlog.NullRev, nil
	}
	rev, ok := rl.RevOf(node)
	if !ok {
		return revlog.NullRev, errs.New(errs.Integrity, "changegroup.revOrNull", "unknown parent node "+node.String())
	}
	return rev, nil
}

// writeFilenameChunk/readFilenameChunk frame the filename preceding each
// file subsection.
func writeFilenameChunk(w io.Writer, name string) error {
	return writeChunk(w, []byte(name))
}

func readFilenameChunk(r io.Reader) (string, bool, error) {
	payload, ok, err := readChunk(r)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(payload), true, nil
}
