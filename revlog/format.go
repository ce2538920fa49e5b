package revlog

import (
	"encoding/binary"

	"github.com/rcowham/gorevlog/errs"
)

// formatVersion is the only index format this implementation understands.
const formatVersion uint16 = 1

// headerFlags lives in the first 4 bytes of revision 0's index record, doubling
// for the offset field that is otherwise always zero there.
type headerFlags uint16

const headerInline headerFlags = 1 << 0

// encodeEntry serializes one 64-byte index record. rev0 additionally carries
// the format/inline header word in place of its (always-zero) high offset bytes.
func encodeEntry(rev RevNum, e IndexEntry, inline bool) []byte {
	b := make([]byte, indexEntrySize)
	if rev == 0 {
		var hf headerFlags
		if inline {
			hf |= headerInline
		}
		binary.BigEndian.PutUint32(b[0:4], uint32(formatVersion)<<16|uint32(hf))
	} else {
		var off8 [8]byte
		binary.BigEndian.PutUint64(off8[:], uint64(e.Offset))
		copy(b[0:6], off8[2:8])
	}
	binary.BigEndian.PutUint16(b[6:8], uint16(e.Flags))
	binary.BigEndian.PutUint32(b[8:12], e.CompressedLen)
	binary.BigEndian.PutUint32(b[12:16], e.UncompressedLen)
	binary.BigEndian.PutUint32(b[16:20], uint32(e.BaseRev))
	binary.BigEndian.PutUint32(b[20:24], uint32(e.LinkRev))
	binary.BigEndian.PutUint32(b[24:28], uint32(e.P1Rev))
	binary.BigEndian.PutUint32(b[28:32], uint32(e.P2Rev))
	copy(b[32:64], e.Node[:])
	return b
}

// decodeEntry parses one 64-byte index record. For rev0 it returns the parsed
// header flags separately since those bytes do not encode a real offset.
func decodeEntry(rev RevNum, b []byte) (IndexEntry, headerFlags, error) {
	if len(b) != indexEntrySize {
		return IndexEntry{}, 0, errs.New(errs.Integrity, "revlog.decodeEntry", "short index record")
	}
	var e IndexEntry
	var hf headerFlags
	if rev == 0 {
		word := binary.BigEndian.Uint32(b[0:4])
		version := uint16(word >> 16)
		hf = headerFlags(word)
		if version != formatVersion {
			return e, 0, errs.New(errs.Integrity, "revlog.decodeEntry", "unsupported revlog format version")
		}
		e.Offset = 0
	} else {
		var off8 [8]byte
		copy(off8[2:8], b[0:6])
		e.Offset = int64(binary.BigEndian.Uint64(off8[:]))
	}
	e.Flags = Flags(binary.BigEndian.Uint16(b[6:8]))
	e.CompressedLen = binary.BigEndian.Uint32(b[8:12])
	e.UncompressedLen = binary.BigEndian.Uint32(b[12:16])
	e.BaseRev = RevNum(binary.BigEndian.Uint32(b[16:20]))
	e.LinkRev = RevNum(binary.BigEndian.Uint32(b[20:24]))
	e.P1Rev = RevNum(binary.BigEndian.Uint32(b[24:28]))
	e.P2Rev = RevNum(binary.BigEndian.Uint32(b[28:32]))
	copy(e.Node[:], b[32:64])
	if e.Flags.unknown() {
		return e, hf, errs.New(errs.Integrity, "revlog.decodeEntry", "unknown revision flag bit set")
	}
	return e, hf, nil
}
