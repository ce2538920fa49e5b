package revlog

import "github.com/rcowham/gorevlog/errs"

// Censor replaces the payload of rev with tombstone, keeping the node id and
// parent linkage intact but marking the revision FlagCensored. The flag bit
// alone only marks a revision as censored; this is the operation that acts
// on it.
//
// A censored revision can no longer be used as a delta base; any later
// revision still chained against it is re-based onto a fresh snapshot the
// next time it is appended, since Revision on a censored rev returns the
// tombstone rather than real content.
//
// Censor forces the revlog out of inline mode first: inline storage relies
// on each revision's data immediately following its own index record, and
// an in-place content swap would break that invariant for every entry but
// the last. Split storage addresses data by an explicit offset recorded in
// the index, so it tolerates the rewrite.
func (rl *Revlog) Censor(rev RevNum, tombstone []byte) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if int(rev) >= len(rl.entries) || rev < 0 {
		return errs.New(errs.Usage, "revlog.Censor", "revision index out of range")
	}
	if rl.inline {
		if err := rl.splitToDataFile(); err != nil {
			return err
		}
	}

	e := rl.entries[rev]
	raw := tag(tombstone)

	off, err := rl.dataFile.Seek(0, 2)
	if err != nil {
		return errs.Wrap(errs.Resource, "revlog.Censor", "seek data", err)
	}
	if _, err := rl.dataFile.Write(raw); err != nil {
		return errs.Wrap(errs.Resource, "revlog.Censor", "write tombstone", err)
	}

	e.Offset = off
	e.CompressedLen = uint32(len(raw))
	e.UncompressedLen = uint32(len(tombstone))
	e.BaseRev = rev
	e.Flags |= FlagCensored
	rl.entries[rev] = e

	if _, err := rl.indexFile.WriteAt(encodeEntry(rev, e, false), int64(rev)*indexEntrySize); err != nil {
		return errs.Wrap(errs.Resource, "revlog.Censor", "rewrite index record", err)
	}
	if rl.snapshotCache.rev == rev {
		rl.snapshotCache.text = nil
	}
	return nil
}

// IsCensored reports whether rev carries the censored flag.
func (rl *Revlog) IsCensored(rev RevNum) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if int(rev) >= len(rl.entries) || rev < 0 {
		return false
	}
	return rl.entries[rev].Flags&FlagCensored != 0
}
