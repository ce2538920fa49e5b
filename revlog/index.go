package revlog

// RevNum is a dense, zero-based local index into a single revlog.
type RevNum int32

// NullRev is the parent rev number meaning "no parent".
const NullRev RevNum = -1

// Flags holds the per-revision flags word. Bit 0 marks
// censored content; bits 1-15 are reserved and MUST cause a read failure
// if set.
type Flags uint16

const (
	FlagCensored Flags = 1 << 0

	flagKnownMask Flags = FlagCensored
)

// unknown reports whether f carries any bit this implementation does not understand.
func (f Flags) unknown() bool {
	return f&^flagKnownMask != 0
}

// indexEntrySize is the fixed on-disk size of one index record.
const indexEntrySize = 64

// IndexEntry is the in-memory form of one 64-byte index record.
type IndexEntry struct {
	Offset int64 // 6 bytes on disk
	Flags Flags // 2 bytes on disk
	CompressedLen uint32
	UncompressedLen uint32
	BaseRev RevNum
	LinkRev RevNum
	P1Rev RevNum
	P2Rev RevNum
	Node Node
}

// isSnapshot reports whether this entry stores a full snapshot rather than a delta.
func (e IndexEntry) isSnapshot(rev RevNum) bool {
	return e.BaseRev == rev
}

// RevisionID identifies a revision either by local index or by stable node id.
// Exactly one of rev/node is meaningful; build one with ByRev or ByNode.
type RevisionID struct {
	rev RevNum
	node Node
	byNode bool
}

// ByRev builds a RevisionID addressing a revision by its local dense index.
func ByRev(r RevNum) RevisionID { return RevisionID{rev: r} }

// ByNode builds a RevisionID addressing a revision by its stable node id.
func ByNode(n Node) RevisionID { return RevisionID{node: n, byNode: true} }
