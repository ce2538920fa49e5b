package revlog

import "github.com/rcowham/gorevlog/errs"

// Strip truncates the revlog so that keepRev is the new tip, physically
// removing every later revision. It is the only operation allowed to
// remove history and requires both the store and working-directory locks be
// held by the caller (enforced by the store package, not here).
//
// backup, if non-nil, is invoked with the first stripped rev before any
// bytes are removed, so the caller can write a recovery bundle (the store
// package wires this to changegroup.EncodeRange so the result lands under
// strip-backup/*.hg.
//
// note, if non-nil, receives the pre-strip
// file lengths so a transaction can journal the (larger) original length
// for rollback, mirroring AppendRevision's journalNote parameter.
func (rl *Revlog) Strip(keepRev RevNum, backup func(firstStripped RevNum) error, note func(indexLen, dataLen int64)) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if int(keepRev)+1 >= len(rl.entries) {
		return nil // nothing to strip
	}
	firstStripped := keepRev + 1

	if backup != nil {
		rl.mu.Unlock()
		err := backup(firstStripped)
		rl.mu.Lock()
		if err != nil {
			return errs.Wrap(errs.Resource, "revlog.Strip", "writing strip backup", err)
		}
	}

	if note != nil {
		indexLen, dataLen := rl.currentLengths()
		note(indexLen, dataLen)
	}

	keepCount := int(keepRev) + 1
	var newIndexLen, newDataLen int64
	if rl.inline {
		if keepCount == 0 {
			newIndexLen = 0
		} else {
			last := rl.entries[keepCount-1]
			newIndexLen = last.Offset + int64(last.CompressedLen)
		}
	} else {
		newIndexLen = int64(keepCount) * indexEntrySize
		if keepCount == 0 {
			newDataLen = 0
		} else {
			last := rl.entries[keepCount-1]
			newDataLen = last.Offset + int64(last.CompressedLen)
		}
	}

	if err := rl.indexFile.Truncate(newIndexLen); err != nil {
		return errs.Wrap(errs.Resource, "revlog.Strip", "truncate index", err)
	}
	if !rl.inline && rl.dataFile != nil {
		if err := rl.dataFile.Truncate(newDataLen); err != nil {
			return errs.Wrap(errs.Resource, "revlog.Strip", "truncate data", err)
		}
	}

	for _, n := range rl.entries[keepCount:] {
		delete(rl.byNode, n.Node)
	}
	rl.entries = rl.entries[:keepCount]
	rl.snapshotCache.text = nil
	return nil
}
