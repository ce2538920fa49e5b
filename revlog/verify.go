package revlog

// Verify walks every revision, recomputes its node from (sorted parent
// nodes || materialized payload), and compares it to the recorded node.
// It does not stop at the first mismatch so an operator gets the
// full picture of corruption in one pass.
func (rl *Revlog) Verify() []VerifyError {
	rl.mu.Lock()
	n := len(rl.entries)
	rl.mu.Unlock()

	var failures []VerifyError
	for i := 0; i < n; i++ {
		rev := RevNum(i)
		rl.mu.Lock()
		e := rl.entries[rev]
		rl.mu.Unlock()

		text, err := rl.Revision(ByRev(rev))
		if err != nil {
			failures = append(failures, VerifyError{Rev: rev, Expected: e.Node})
			continue
		}
		p1Node, _ := rl.NodeOf(e.P1Rev)
		p2Node, _ := rl.NodeOf(e.P2Rev)
		got := HashRevision(p1Node, p2Node, text)
		if got != e.Node {
			failures = append(failures, VerifyError{Rev: rev, Expected: e.Node, Actual: got})
		}
	}
	return failures
}
