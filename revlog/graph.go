package revlog

// Parents returns the local parent revs of rev, or NullRev where absent.
func (rl *Revlog) Parents(rev RevNum) (RevNum, RevNum) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rev == NullRev || int(rev) >= len(rl.entries) {
		return NullRev, NullRev
	}
	e := rl.entries[rev]
	return e.P1Rev, e.P2Rev
}

// Children returns every rev whose p1 or p2 is rev.
func (rl *Revlog) Children(rev RevNum) []RevNum {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	var out []RevNum
	for i, e := range rl.entries {
		if e.P1Rev == rev || e.P2Rev == rev {
			out = append(out, RevNum(i))
		}
	}
	return out
}

// Heads returns revs with no children, ordered by descending rev, restricted
// to descendants of start when given.
func (rl *Revlog) Heads(start ...RevNum) []RevNum {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	hasChild := make([]bool, len(rl.entries))
	for _, e := range rl.entries {
		if e.P1Rev != NullRev {
			hasChild[e.P1Rev] = true
		}
		if e.P2Rev != NullRev {
			hasChild[e.P2Rev] = true
		}
	}

	var allowed map[RevNum]bool
	if len(start) > 0 {
		allowed = make(map[RevNum]bool)
		rl.collectDescendantsLocked(start, allowed)
		for _, s := range start {
			allowed[s] = true
		}
	}

	var heads []RevNum
	for i := len(rl.entries) - 1; i >= 0; i-- {
		r := RevNum(i)
		if hasChild[r] {
			continue
		}
		if allowed != nil && !allowed[r] {
			continue
		}
		heads = append(heads, r)
	}
	return heads
}

// Descendants returns every rev reachable forward from any of roots, excluding the roots themselves.
func (rl *Revlog) Descendants(roots ...RevNum) []RevNum {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	set := make(map[RevNum]bool)
	rl.collectDescendantsLocked(roots, set)
	for _, r := range roots {
		delete(set, r)
	}
	out := make([]RevNum, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sortRevs(out)
	return out
}

func (rl *Revlog) collectDescendantsLocked(roots []RevNum, set map[RevNum]bool) {
	queue := append([]RevNum{}, roots...)
	for _, r := range roots {
		set[r] = true
	}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		for i, e := range rl.entries {
			c := RevNum(i)
			if set[c] {
				continue
			}
			if e.P1Rev == r || e.P2Rev == r {
				set[c] = true
				queue = append(queue, c)
			}
		}
	}
}

// Ancestor returns the lowest common ancestor of a and b within this
// revlog's own parent graph (distinct from the changelog-level dag package,
// which operates across the whole repository).
func (rl *Revlog) Ancestor(a, b RevNum) RevNum {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	ancestorsOfA := make(map[RevNum]int)
	depth := 0
	for queue := []RevNum{a}; len(queue) > 0; {
		next := []RevNum{}
		for _, r := range queue {
			if r == NullRev {
				continue
			}
			if _, seen := ancestorsOfA[r]; seen {
				continue
			}
			ancestorsOfA[r] = depth
			e := rl.entries[r]
			next = append(next, e.P1Rev, e.P2Rev)
		}
		queue = next
		depth++
	}

	best := NullRev
	bestDepth := -1
	visited := make(map[RevNum]bool)
	for queue := []RevNum{b}; len(queue) > 0; {
		next := []RevNum{}
		for _, r := range queue {
			if r == NullRev || visited[r] {
				continue
			}
			visited[r] = true
			if d, ok := ancestorsOfA[r]; ok && (bestDepth == -1 || d < bestDepth) {
				best = r
				bestDepth = d
			}
			e := rl.entries[r]
			next = append(next, e.P1Rev, e.P2Rev)
		}
		queue = next
	}
	return best
}

// NodesBetween returns every rev reachable from any root and that is an
// ancestor of some head, plus the roots/heads themselves.
func (rl *Revlog) NodesBetween(roots, heads []RevNum) []RevNum {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	reachableFromRoot := make(map[RevNum]bool)
	rl.collectDescendantsLocked(roots, reachableFromRoot)
	for _, r := range roots {
		reachableFromRoot[r] = true
	}

	ancestorOfHead := make(map[RevNum]bool)
	queue := append([]RevNum{}, heads...)
	for _, h := range heads {
		ancestorOfHead[h] = true
	}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if r == NullRev {
			continue
		}
		e := rl.entries[r]
		for _, p := range []RevNum{e.P1Rev, e.P2Rev} {
			if p != NullRev && !ancestorOfHead[p] {
				ancestorOfHead[p] = true
				queue = append(queue, p)
			}
		}
	}

	var out []RevNum
	for r := range reachableFromRoot {
		if ancestorOfHead[r] {
			out = append(out, r)
		}
	}
	sortRevs(out)
	return out
}

func sortRevs(s []RevNum) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
