package changegroup

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"io"

	"github.com/rcowham/gorevlog/errs"
)

// Wrapper names the mutually-exclusive compression envelope signaled by
// a 6-byte magic at the start of the stream.
type Wrapper string

const (
	WrapperUncompressed Wrapper = "HG10UN"
	WrapperBzip2 Wrapper = "HG10BZ"
	WrapperGzip Wrapper = "HG10GZ"
)

const magicLen = 6

// WrapWriter wraps w with the chosen compression envelope and returns a
// writer callers should write the section stream to, plus a close
// function that must run to flush any compressor. Bzip2 has no encoder
// in this stack (the ecosystem offers decode-only) — requesting
// WrapperBzip2 for writing is an error.
func WrapWriter(w io.Writer, wrapper Wrapper) (io.Writer, func() error, error) {
	if _, err := io.WriteString(w, string(wrapper)); err != nil {
		return nil, nil, errs.Wrap(errs.Resource, "changegroup.WrapWriter", "write magic", err)
	}
	switch wrapper {
	case WrapperUncompressed:
		return w, func() error { return nil }, nil
	case WrapperGzip:
		gz := gzip.NewWriter(w)
		return gz, gz.Close, nil
	case WrapperBzip2:
		return nil, nil, errs.New(errs.Capability, "changegroup.WrapWriter", "bzip2 encoding is not supported; use gzip or uncompressed")
	default:
		return nil, nil, errs.New(errs.Usage, "changegroup.WrapWriter", "unknown wrapper "+string(wrapper))
	}
}

// UnwrapReader reads the 6-byte magic and returns a reader producing the
// decompressed section stream.
func UnwrapReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, magicLen)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, errs.Wrap(errs.Resource, "changegroup.UnwrapReader", "read magic", err)
	}
	switch Wrapper(magic) {
	case WrapperUncompressed:
		return br, nil
	case WrapperGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errs.Wrap(errs.Integrity, "changegroup.UnwrapReader", "open gzip stream", err)
		}
		return gz, nil
	case WrapperBzip2:
		return bzip2.NewReader(br), nil
	default:
		return nil, errs.New(errs.Integrity, "changegroup.UnwrapReader", "unrecognized wrapper magic "+string(magic))
	}
}
