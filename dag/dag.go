// Package dag implements the repository-wide graph algorithms,
// expressed over changelog.Changelog's node space. Where revlog/graph.go
// answers per-revlog-local questions needed by delta-chain and strip
// bookkeeping, this package answers the node-level questions push/pull/
// update actually ask (ancestor sets, missing revisions between peers).
package dag

import (
	"github.com/rcowham/gorevlog/changelog"
	"github.com/rcowham/gorevlog/revlog"
)

// DAG wraps a changelog's revlog to answer graph queries over the full
// commit history.
type DAG struct {
	cl *changelog.Changelog
}

// New returns a DAG view over cl.
func New(cl *changelog.Changelog) *DAG {
	return &DAG{cl: cl}
}

func (d *DAG) rl() *revlog.Revlog { return d.cl.Revlog() }

// Heads returns every revision with no child, ordered by descending rev.
func (d *DAG) Heads() []revlog.RevNum {
	return d.rl().Heads()
}

// Ancestors returns every ancestor of any rev in input, excluding the
// input revisions themselves.
func (d *DAG) Ancestors(revs []revlog.RevNum) []revlog.RevNum {
	input := make(map[revlog.RevNum]bool, len(revs))
	for _, r := range revs {
		input[r] = true
	}
	seen := make(map[revlog.RevNum]bool)
	var stack []revlog.RevNum
	stack = append(stack, revs...)
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		p1, p2 := d.rl().Parents(r)
		for _, p := range []revlog.RevNum{p1, p2} {
			if p == revlog.NullRev || seen[p] {
				continue
			}
			seen[p] = true
			stack = append(stack, p)
		}
	}
	var out []revlog.RevNum
	for r := range seen {
		if !input[r] {
			out = append(out, r)
		}
	}
	sortRevs(out)
	return out
}

// Descendants returns every descendant of any rev in input, excluding the
// input revisions themselves.
func (d *DAG) Descendants(revs []revlog.RevNum) []revlog.RevNum {
	all := d.rl().Descendants(revs...)
	input := make(map[revlog.RevNum]bool, len(revs))
	for _, r := range revs {
		input[r] = true
	}
	var out []revlog.RevNum
	for _, r := range all {
		if !input[r] {
			out = append(out, r)
		}
	}
	return out
}

// ancestorSet returns rev and every one of its ancestors.
func (d *DAG) ancestorSet(rev revlog.RevNum) map[revlog.RevNum]bool {
	set := map[revlog.RevNum]bool{rev: true}
	stack := []revlog.RevNum{rev}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		p1, p2 := d.rl().Parents(r)
		for _, p := range []revlog.RevNum{p1, p2} {
			if p == revlog.NullRev || set[p] {
				continue
			}
			set[p] = true
			stack = append(stack, p)
		}
	}
	return set
}

// CommonAncestors returns the maximal set of revisions that are ancestors
// of (or equal to) both a and b. For a single deterministic LCA, the
// caller picks the smallest rev of the returned set.
func (d *DAG) CommonAncestors(a, b revlog.RevNum) []revlog.RevNum {
	setA := d.ancestorSet(a)
	setB := d.ancestorSet(b)
	var common []revlog.RevNum
	for r := range setA {
		if setB[r] {
			common = append(common, r)
		}
	}
	sortRevs(common)
	return common
}

// LowestCommonAncestor picks the smallest rev among CommonAncestors,
// the deterministic tie-break.
func (d *DAG) LowestCommonAncestor(a, b revlog.RevNum) (revlog.RevNum, bool) {
	common := d.CommonAncestors(a, b)
	if len(common) == 0 {
		return revlog.NullRev, false
	}
	return common[0], true
}

// FindMissing returns every revision reachable from heads but not from
// common, the set push/pull use to decide what to transfer. Both sides
// walk backward through parents one layer at a time, alternating: the
// common frontier discovers ancestors-of-common, the heads frontier
// discovers candidate-missing revisions, and each round a head-side
// branch stops the instant it lands on a revision the common side has
// already reached. Neither side is walked to completion up front, so
// cost is bounded by how far the two frontiers must expand to meet
// (the answer plus the frontier), not by the size of the whole graph —
// a repository where common sits near the root costs nothing extra as
// long as heads and common converge quickly.
func (d *DAG) FindMissing(common, heads []revlog.RevNum) []revlog.RevNum {
	knownAncestor := make(map[revlog.RevNum]bool, len(common))
	commonFrontier := make(map[revlog.RevNum]bool, len(common))
	for _, c := range common {
		if c == revlog.NullRev {
			continue
		}
		knownAncestor[c] = true
		commonFrontier[c] = true
	}

	headFrontier := make(map[revlog.RevNum]bool, len(heads))
	for _, h := range heads {
		if h != revlog.NullRev && !knownAncestor[h] {
			headFrontier[h] = true
		}
	}

	missing := make(map[revlog.RevNum]bool)
	for len(headFrontier) > 0 {
		// Expand the common frontier one layer backward; anything it
		// reaches is known, pruning the corresponding head-side branch
		// before it is ever classified as missing.
		nextCommon := make(map[revlog.RevNum]bool)
		for r := range commonFrontier {
			p1, p2 := d.rl().Parents(r)
			for _, p := range []revlog.RevNum{p1, p2} {
				if p == revlog.NullRev || knownAncestor[p] {
					continue
				}
				knownAncestor[p] = true
				nextCommon[p] = true
			}
		}
		commonFrontier = nextCommon

		// Expand the heads frontier one layer backward, skipping any
		// revision the common side reached this round or earlier.
		nextHead := make(map[revlog.RevNum]bool)
		for r := range headFrontier {
			if knownAncestor[r] {
				continue
			}
			missing[r] = true
			p1, p2 := d.rl().Parents(r)
			for _, p := range []revlog.RevNum{p1, p2} {
				if p == revlog.NullRev || knownAncestor[p] || missing[p] {
					continue
				}
				nextHead[p] = true
			}
		}
		headFrontier = nextHead
	}

	var out []revlog.RevNum
	for r := range missing {
		out = append(out, r)
	}
	sortRevs(out)
	return out
}

// NodesBetween returns every revision reachable from any root and an
// ancestor of some head, plus the roots and heads themselves.
func (d *DAG) NodesBetween(roots, heads []revlog.RevNum) []revlog.RevNum {
	return d.rl().NodesBetween(roots, heads)
}

func sortRevs(s []revlog.RevNum) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
