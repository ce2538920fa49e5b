package revlog

import "github.com/rcowham/gorevlog/errs"

// resolve turns a RevisionID into a local rev number.
func (rl *Revlog) resolve(id RevisionID) (RevNum, error) {
	if !id.byNode {
		if id.rev < 0 || int(id.rev) >= len(rl.entries) {
			return 0, errs.New(errs.Usage, "revlog.resolve", "revision index out of range")
		}
		return id.rev, nil
	}
	if id.node.IsNull() {
		return NullRev, nil
	}
	rev, ok := rl.byNode[id.node]
	if !ok {
		return 0, errs.New(errs.Usage, "revlog.resolve", "unknown node "+id.node.Short())
	}
	return rev, nil
}

// Revision reconstructs the full content of a revision.
func (rl *Revlog) Revision(id RevisionID) ([]byte, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rev, err := rl.resolve(id)
	if err != nil {
		return nil, err
	}
	if rev == NullRev {
		return nil, nil
	}
	return rl.revisionByRev(rev)
}

// revisionByRev materializes a revision given its local index, walking the
// delta chain back to the nearest snapshot base and replaying hunks forward.
// Callers must hold rl.mu.
func (rl *Revlog) revisionByRev(rev RevNum) ([]byte, error) {
	if int(rev) >= len(rl.entries) || rev < 0 {
		return nil, errs.New(errs.Usage, "revlog.revisionByRev", "revision index out of range")
	}
	if rl.snapshotCache.text != nil && rl.snapshotCache.rev == rev {
		return rl.snapshotCache.text, nil
	}

	// Walk back to the snapshot, collecting the chain of deltas to replay.
	var chain []RevNum
	r := rev
	for {
		e := rl.entries[r]
		chain = append(chain, r)
		if e.isSnapshot(r) {
			break
		}
		r = e.BaseRev
		if len(chain) > len(rl.entries) {
			return nil, errs.New(errs.Integrity, "revlog.revisionByRev", "delta chain does not terminate")
		}
	}

	// chain is currently [rev,..., snapshotRev]; replay in ascending order.
	text, err := rl.materialize(chain[len(chain)-1])
	if err != nil {
		return nil, err
	}
	for i := len(chain) - 2; i >= 0; i-- {
		r := chain[i]
		e := rl.entries[r]
		raw, err := rl.readRaw(r, e)
		if err != nil {
			return nil, err
		}
		delta, err := untag(raw)
		if err != nil {
			return nil, err
		}
		text, err = applyDelta(text, delta)
		if err != nil {
			return nil, err
		}
		if uint32(len(text)) != e.UncompressedLen {
			return nil, errs.New(errs.Integrity, "revlog.revisionByRev", "materialized length mismatch")
		}
	}
	rl.snapshotCache.rev = rev
	rl.snapshotCache.text = text
	return text, nil
}

// materialize reads a snapshot revision (base_rev == rev) directly.
func (rl *Revlog) materialize(rev RevNum) ([]byte, error) {
	e := rl.entries[rev]
	raw, err := rl.readRaw(rev, e)
	if err != nil {
		return nil, err
	}
	text, err := untag(raw)
	if err != nil {
		return nil, err
	}
	if uint32(len(text)) != e.UncompressedLen {
		return nil, errs.New(errs.Integrity, "revlog.materialize", "snapshot length mismatch")
	}
	return text, nil
}

// NodeOf returns the stable node id for a local rev.
func (rl *Revlog) NodeOf(rev RevNum) (Node, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rev == NullRev {
		return NullID, nil
	}
	if int(rev) >= len(rl.entries) || rev < 0 {
		return Node{}, errs.New(errs.Usage, "revlog.NodeOf", "revision index out of range")
	}
	return rl.entries[rev].Node, nil
}

// RevOf returns the local rev for a node, if present.
func (rl *Revlog) RevOf(n Node) (RevNum, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if n.IsNull() {
		return NullRev, true
	}
	rev, ok := rl.byNode[n]
	return rev, ok
}

// LinkRevOf returns the changelog-linking revision recorded for rev.
func (rl *Revlog) LinkRevOf(rev RevNum) (RevNum, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if int(rev) >= len(rl.entries) || rev < 0 {
		return 0, errs.New(errs.Usage, "revlog.LinkRevOf", "revision index out of range")
	}
	return rl.entries[rev].LinkRev, nil
}
