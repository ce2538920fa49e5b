package revlog

import (
	"os"

	"github.com/rcowham/gorevlog/errs"
)

// AppendRevision materializes payload as the next revision, choosing between
// a delta against p1's full text (recorded with p1 as its base_rev) and a
// fresh snapshot per the write policy, then journals and appends it.
//
// journalNote, if non-nil, is called with the pre-append lengths of the
// index (and data, if split) files before any bytes are written, so a
// transaction can record them for rollback. It may be nil for
// callers that manage their own journaling (e.g. changegroup apply, which
// journals once per transaction rather than once per revision).
func (rl *Revlog) AppendRevision(p1, p2 RevNum, linkRev RevNum, payload []byte, flags Flags, journalNote func(indexLen, dataLen int64)) (RevNum, Node, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	p1Node, p2Node := NullID, NullID
	if p1 != NullRev {
		p1Node = rl.entries[p1].Node
	}
	if p2 != NullRev {
		p2Node = rl.entries[p2].Node
	}
	node := HashRevision(p1Node, p2Node, payload)
	if existing, ok := rl.byNode[node]; ok {
		return existing, node, nil // identical (parents, payload) already recorded
	}

	rev := RevNum(len(rl.entries))
	baseRev, raw, err := rl.buildStorageForm(rev, p1, payload)
	if err != nil {
		return 0, Node{}, err
	}

	if journalNote != nil {
		indexLen, dataLen := rl.currentLengths()
		journalNote(indexLen, dataLen)
	}

	if rl.inline && rl.inlineDataSize()+int64(len(raw)) > rl.opts.InlineLimit && rev > 0 {
		if err := rl.splitToDataFile(); err != nil {
			return 0, Node{}, err
		}
	}

	e := IndexEntry{
		CompressedLen: uint32(len(raw)),
		UncompressedLen: uint32(len(payload)),
		BaseRev: baseRev,
		LinkRev: linkRev,
		P1Rev: p1,
		P2Rev: p2,
		Node: node,
		Flags: flags,
	}

	if rl.inline {
		off, err := rl.indexFile.Seek(0, 2)
		if err != nil {
			return 0, Node{}, errs.Wrap(errs.Resource, "revlog.AppendRevision", "seek index", err)
		}
		e.Offset = off
		if _, err := rl.indexFile.Write(encodeEntry(rev, e, true)); err != nil {
			return 0, Node{}, errs.Wrap(errs.Resource, "revlog.AppendRevision", "write index record", err)
		}
		if _, err := rl.indexFile.Write(raw); err != nil {
			return 0, Node{}, errs.Wrap(errs.Resource, "revlog.AppendRevision", "write inline data", err)
		}
		e.Offset = off + indexEntrySize // inline data starts right after its record, as loadIndex computes

	} else {
		off, err := rl.dataFile.Seek(0, 2)
		if err != nil {
			return 0, Node{}, errs.Wrap(errs.Resource, "revlog.AppendRevision", "seek data", err)
		}
		e.Offset = off
		if _, err := rl.dataFile.Write(raw); err != nil {
			return 0, Node{}, errs.Wrap(errs.Resource, "revlog.AppendRevision", "write data", err)
		}
		if _, err := rl.indexFile.Seek(0, 2); err != nil {
			return 0, Node{}, errs.Wrap(errs.Resource, "revlog.AppendRevision", "seek index", err)
		}
		if _, err := rl.indexFile.Write(encodeEntry(rev, e, false)); err != nil {
			return 0, Node{}, errs.Wrap(errs.Resource, "revlog.AppendRevision", "write index record", err)
		}
	}

	rl.entries = append(rl.entries, e)
	rl.byNode[node] = rev
	rl.snapshotCache.rev = rev
	rl.snapshotCache.text = payload
	return rev, node, nil
}

// buildStorageForm decides snapshot vs delta (see write policy above) and returns
// the tagged+compressed bytes to store along with the chosen base_rev.
func (rl *Revlog) buildStorageForm(rev, p1 RevNum, payload []byte) (RevNum, []byte, error) {
	if p1 == NullRev || len(rl.entries) == 0 {
		return rev, tag(payload), nil
	}

	_, chainLen, chainSize, err := rl.chainStats(p1)
	if err != nil {
		return 0, nil, err
	}

	baseText, err := rl.revisionByRev(p1)
	if err != nil {
		return 0, nil, err
	}
	delta := computeDelta(baseText, payload)

	wouldExceedLen := chainLen+1 > rl.opts.MaxChainLen
	wouldExceedRatio := float64(chainSize+len(delta)) > rl.opts.MaxChainRatio*float64(len(payload))
	if wouldExceedLen || wouldExceedRatio {
		return rev, tag(payload), nil
	}
	return p1, tag(delta), nil
}

// chainStats walks back from rev to its snapshot base, returning that base
// rev, the chain depth, and the cumulative stored (compressed) size.
func (rl *Revlog) chainStats(rev RevNum) (base RevNum, length int, size int, err error) {
	r := rev
	for {
		e := rl.entries[r]
		size += int(e.CompressedLen)
		if e.isSnapshot(r) {
			return r, length, size, nil
		}
		length++
		r = e.BaseRev
		if length > len(rl.entries) {
			return 0, 0, 0, errs.New(errs.Integrity, "revlog.chainStats", "delta chain does not terminate in a snapshot")
		}
	}
}

func (rl *Revlog) inlineDataSize() int64 {
	var total int64
	for _, e := range rl.entries {
		total += int64(e.CompressedLen)
	}
	return total
}

func (rl *Revlog) currentLengths() (indexLen, dataLen int64) {
	if st, err := rl.indexFile.Stat(); err == nil {
		indexLen = st.Size()
	}
	if rl.dataFile != nil {
		if st, err := rl.dataFile.Stat(); err == nil {
			dataLen = st.Size()
		}
	}
	return
}

// splitToDataFile converts an inline revlog to split.i/.d form atomically
// within the caller's transaction: every stored chunk is
// copied out to a fresh data file and the index is rewritten with data-file
// offsets, then the inline header bit is cleared.
func (rl *Revlog) splitToDataFile() error {
	df, err := openTruncated(rl.dataPath)
	if err != nil {
		return errs.Wrap(errs.Resource, "revlog.splitToDataFile", "create data file", err)
	}
	newEntries := make([]IndexEntry, len(rl.entries))
	var offset int64
	for i, e := range rl.entries {
		raw, err := rl.readRaw(RevNum(i), e)
		if err != nil {
			df.Close()
			return err
		}
		if _, err := df.Write(raw); err != nil {
			df.Close()
			return errs.Wrap(errs.Resource, "revlog.splitToDataFile", "write data", err)
		}
		ne := e
		ne.Offset = offset
		newEntries[i] = ne
		offset += int64(e.CompressedLen)
	}

	idx, err := openTruncated(rl.indexPath)
	if err != nil {
		df.Close()
		return errs.Wrap(errs.Resource, "revlog.splitToDataFile", "recreate index file", err)
	}
	for i, e := range newEntries {
		if _, err := idx.Write(encodeEntry(RevNum(i), e, false)); err != nil {
			idx.Close()
			df.Close()
			return errs.Wrap(errs.Resource, "revlog.splitToDataFile", "write index record", err)
		}
	}

	rl.indexFile.Close()
	rl.indexFile = idx
	rl.dataFile = df
	rl.entries = newEntries
	rl.inline = false
	return nil
}

func openTruncated(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}
