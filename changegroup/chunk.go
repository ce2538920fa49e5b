// Package changegroup implements the wire format for shipping a set of
// revisions between repositories: chunked framing over three
// sections (changelog, manifest, per-file), each revision chunk carrying
// its node identity and an in-stream delta against the previous chunk in
// its section.
package changegroup

import (
	"encoding/binary"
	"io"

	"github.com/rcowham/gorevlog/errs"
)

// writeChunk writes a single length-prefixed chunk; the length field
// counts itself.
func writeChunk(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)+4))
	if _, err := w.Write(hdr[:]); err != nil {
		return errs.Wrap(errs.Resource, "changegroup.writeChunk", "write length", err)
	}
	if _, err := w.Write(payload); err != nil {
		return errs.Wrap(errs.Resource, "changegroup.writeChunk", "write payload", err)
	}
	return nil
}

// writeSectionEnd writes the zero-length chunk terminating a section.
func writeSectionEnd(w io.Writer) error {
	var hdr [4]byte
	if _, err := w.Write(hdr[:]); err != nil {
		return errs.Wrap(errs.Resource, "changegroup.writeSectionEnd", "write terminator", err)
	}
	return nil
}

// readChunk reads one length-prefixed chunk, returning ok=false (no
// error) when the zero-length section terminator is read.
func readChunk(r io.Reader) (payload []byte, ok bool, err error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, false, errs.Wrap(errs.Resource, "changegroup.readChunk", "read length", err)
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length == 0 {
		return nil, false, nil
	}
	if length < 4 {
		return nil, false, errs.New(errs.Integrity, "changegroup.readChunk", "chunk length shorter than its own header")
	}
	payload = make([]byte, length-4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, false, errs.Wrap(errs.Resource, "changegroup.readChunk", "read payload", err)
	}
	return payload, true, nil
}
