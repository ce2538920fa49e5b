// group.go implements the repository-level orchestration on top of the
// chunk/section primitives in codec.go: picking which revisions belong in
// a changegroup (dag.FindMissing, consumed here rather than
// reimplemented), and the full three-section encode/apply, including the
// "changelog applied last" durability rule.
package changegroup

import (
	"io"
	"sort"
	"sync"

	"github.com/alitto/pond"

	"github.com/rcowham/gorevlog/changelog"
	"github.com/rcowham/gorevlog/dag"
	"github.com/rcowham/gorevlog/errs"
	"github.com/rcowham/gorevlog/filelog"
	"github.com/rcowham/gorevlog/manifest"
	"github.com/rcowham/gorevlog/revlog"
)

// FilelogOpener resolves a tracked path to its filelog, narrowed to avoid
// a changegroup -> store import cycle (same shape as merge.FileLookup).
type FilelogOpener interface {
	Open(path string) (*filelog.Filelog, error)
}

// Stats reports what an Apply or EncodeRange call actually did, for the
// caller's log line and for the push/pull result summary. EncodeRange
// fills Changesets and Manifests only and leaves Files at zero.
type Stats struct {
	Changesets int
	Manifests int
	Files int
}

// revsForLinkRevs returns, in ascending order, every local revision of rl
// whose link-rev names one of the given changelog revisions — the
// per-revlog "which of my revisions does this changegroup need" query
// that both the changelog-rev-range selection and the matching file/
// manifest sections are built from.
func revsForLinkRevs(rl *revlog.Revlog, changelogRevs map[revlog.RevNum]bool) []revlog.RevNum {
	var out []revlog.RevNum
	for rev := 0; rev < rl.Len(); rev++ {
		r := revlog.RevNum(rev)
		lrev, err := rl.LinkRevOf(r)
		if err != nil {
			continue
		}
		if changelogRevs[lrev] {
			out = append(out, r)
		}
	}
	return out
}

// EncodeRange writes the changegroup for every changelog revision
// reachable from heads but not from common (dag.FindMissing picks the
// set; this picks the wire layout): the changelog section, then the
// manifest section, then one file section per touched path, with the
// whole stream wrapped once in the chosen compression envelope.
func EncodeRange(cl *changelog.Changelog, mf *manifest.Manifest, fl FilelogOpener, heads, common []revlog.Node, version Version, wrapper Wrapper, w io.Writer) (*Stats, error) {
	rl := cl.Revlog()
	headRevs, err := nodesToRevs(rl, heads)
	if err != nil {
		return nil, err
	}
	commonRevs, err := nodesToRevs(rl, common)
	if err != nil {
		return nil, err
	}

	d := dag.New(cl)
	missing := d.FindMissing(commonRevs, headRevs)
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	changelogSet := make(map[revlog.RevNum]bool, len(missing))
	for _, r := range missing {
		changelogSet[r] = true
	}

	out, closeOut, err := WrapWriter(w, wrapper)
	if err != nil {
		return nil, err
	}

	clLinkNode := func(lrev revlog.RevNum) (revlog.Node, error) {
		return rl.NodeOf(lrev) // changelog entries record link-rev 0, so this is rev 0's node
	}
	if err := encodeRevlogSection(out, rl, missing, clLinkNode, version); err != nil {
		return nil, err
	}

	mfLinkNode := func(lrev revlog.RevNum) (revlog.Node, error) { return rl.NodeOf(lrev) }
	mfRevs := revsForLinkRevs(mf.Revlog(), changelogSet)
	if err := encodeRevlogSection(out, mf.Revlog(), mfRevs, mfLinkNode, version); err != nil {
		return nil, err
	}

	paths, err := touchedPaths(cl, missing)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		flog, err := fl.Open(path)
		if err != nil {
			return nil, err
		}
		frevs := revsForLinkRevs(flog.Revlog(), changelogSet)
		if len(frevs) == 0 {
			continue
		}
		if err := writeFilenameChunk(out, path); err != nil {
			return nil, err
		}
		if err := encodeRevlogSection(out, flog.Revlog(), frevs, mfLinkNode, version); err != nil {
			return nil, err
		}
	}
	if err := writeSectionEnd(out); err != nil {
		return nil, err
	}
	if err := closeOut(); err != nil {
		return nil, err
	}
	return &Stats{Changesets: len(missing), Manifests: len(mfRevs)}, nil
}

func nodesToRevs(rl *revlog.Revlog, nodes []revlog.Node) ([]revlog.RevNum, error) {
	var out []revlog.RevNum
	for _, n := range nodes {
		if n.IsNull() {
			continue
		}
		rev, ok := rl.RevOf(n)
		if !ok {
			return nil, errs.New(errs.Capability, "changegroup.nodesToRevs", "unknown node "+n.String())
		}
		out = append(out, rev)
	}
	return out, nil
}

func touchedPaths(cl *changelog.Changelog, revs []revlog.RevNum) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, r := range revs {
		cs, err := cl.Read(revlog.ByRev(r))
		if err != nil {
			return nil, err
		}
		for _, f := range cs.Files {
			if !seen[f] {
				seen[f] = true
				paths = append(paths, f)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// pendingChangelogRev is one changelog chunk decoded but not yet durably
// appended: its future local rev number is already fixed (the changelog
// tip grows by exactly one per chunk in stream order), which is what lets
// manifest/file sections — applied first — resolve their link-node to the
// right rev before the changelog entry they point at physically exists.
type pendingChangelogRev struct {
	futureRev revlog.RevNum
	node revlog.Node
	p1, p2 revlog.Node
	text []byte
}

// pendingFileRev is one file-section chunk decoded (chunk framing and
// delta-chain application only) but not yet durably appended to its
// filelog.
type pendingFileRev struct {
	node, p1, p2, linkNode revlog.Node
	text []byte
}

// decodeFileChunks reads one file subsection's chunks off the wire —
// the part that must run sequentially against the shared stream r — and
// materializes each revision's full text, without touching the target
// filelog at all. The returned records carry everything appendPendingFile
// needs, so the disk work can run later, off the hot read loop.
func decodeFileChunks(r io.Reader, version Version) ([]pendingFileRev, error) {
	var prevText []byte
	var pending []pendingFileRev
	for {
		payload, ok, err := readChunk(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rec, err := decodeChunk(payload, version)
		if err != nil {
			return nil, err
		}
		text, err := revlog.ApplyDelta(prevText, rec.Delta)
		if err != nil {
			return nil, err
		}
		pending = append(pending, pendingFileRev{node: rec.Node, p1: rec.P1, p2: rec.P2, linkNode: rec.LinkNode, text: text})
		prevText = text
	}
	return pending, nil
}

// appendPendingFile durably appends one file's already-decoded revisions
// in order, the CPU/IO-heavy half (zlib compression, index/data writes)
// that decodeFileChunks deliberately left undone. It touches only rl, so
// it is safe to run concurrently with decoding or appending any other
// file's revisions.
func appendPendingFile(rl *revlog.Revlog, pending []pendingFileRev, linkRev linkRevResolver, note func(int64, int64)) (int, error) {
	localRev := func(n revlog.Node) (revlog.RevNum, error) {
		if n.IsNull() {
			return revlog.NullRev, nil
		}
		if rev, ok := rl.RevOf(n); ok {
			return rev, nil
		}
		return 0, errs.New(errs.Integrity, "changegroup.appendPendingFile", "unresolvable parent node "+n.String())
	}
	for _, p := range pending {
		p1rev, err := localRev(p.p1)
		if err != nil {
			return 0, err
		}
		p2rev, err := localRev(p.p2)
		if err != nil {
			return 0, err
		}
		lrev, err := linkRev(p.linkNode)
		if err != nil {
			return 0, err
		}
		_, gotNode, err := rl.AppendRevision(p1rev, p2rev, lrev, p.text, 0, note)
		if err != nil {
			return 0, err
		}
		if gotNode != p.node {
			return 0, errs.New(errs.Integrity, "changegroup.appendPendingFile", "decoded revision hash mismatch")
		}
	}
	return len(pending), nil
}

// Apply decodes a changegroup from r and appends its revisions to the
// target store, honoring the changelog-last durability rule: manifest and
// file sections are appended first (their link-rev resolved against the
// future changelog rev numbers computed up front), and only once all of
// those succeed are the changelog entries themselves appended. Reading
// the wire is necessarily sequential (one shared stream), but each file's
// append — the zlib/compression and index/data write work — is
// independent of every other file's, so it is dispatched to the worker
// pool and overlaps with decoding the next file's chunks off the wire.
func Apply(cl *changelog.Changelog, mf *manifest.Manifest, fl FilelogOpener, version Version, r io.Reader, note func(string, int64, int64), pool *pond.WorkerPool) (*Stats, error) {
	in, err := UnwrapReader(r)
	if err != nil {
		return nil, err
	}

	pending, nodeToFutureRev, err := decodeChangelogHeaders(cl.Revlog(), in, version)
	if err != nil {
		return nil, err
	}

	mfLinkRev := func(linkNode revlog.Node) (revlog.RevNum, error) {
		if rev, ok := nodeToFutureRev[linkNode]; ok {
			return rev, nil
		}
		if rev, ok := cl.Revlog().RevOf(linkNode); ok {
			return rev, nil
		}
		return 0, errs.New(errs.Integrity, "changegroup.Apply", "unresolvable link node "+linkNode.String())
	}
	mfNote := func(a, b int64) {
		if note != nil {
			note("manifest", a, b)
		}
	}
	mfAppended, err := decodeRevlogSection(in, mf.Revlog(), mfLinkRev, version, mfNote)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Manifests: len(mfAppended)}
	if pool == nil {
		pool = pond.New(1, 0, pond.MinWorkers(1))
		defer pool.StopAndWait()
	}

	var mu sync.Mutex
	var firstErr error
	recordErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for {
		name, ok, err := readFilenameChunk(in)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		flog, err := fl.Open(name)
		if err != nil {
			return nil, err
		}
		// Decoding this file's chunks must happen now, before the next
		// filename chunk becomes readable off the shared stream.
		fileChunks, err := decodeFileChunks(in, version)
		if err != nil {
			return nil, err
		}
		rl := flog.Revlog()
		fileNote := func(a, b int64) {
			mu.Lock()
			defer mu.Unlock()
			if note != nil {
				note(name, a, b)
			}
		}
		// The actual disk work for this file runs on the pool, overlapping
		// with the main loop decoding the next filename chunk's bytes.
		pool.Submit(func() {
			appended, err := appendPendingFile(rl, fileChunks, mfLinkRev, fileNote)
			if err != nil {
				recordErr(err)
				return
			}
			mu.Lock()
			stats.Files += appended
			mu.Unlock()
		})
	}
	pool.StopAndWait()
	if firstErr != nil {
		return nil, firstErr
	}

	clNote := func(a, b int64) {
		if note != nil {
			note("changelog", a, b)
		}
	}
	if err := appendPendingChangelog(cl.Revlog(), pending, clNote); err != nil {
		return nil, err
	}
	stats.Changesets = len(pending)
	return stats, nil
}

// decodeChangelogHeaders reads every chunk of the changelog section,
// materializing each revision's text and assigning it the future local
// rev number it will receive once actually appended, without appending
// it yet.
func decodeChangelogHeaders(rl *revlog.Revlog, r io.Reader, version Version) ([]pendingChangelogRev, map[revlog.Node]revlog.RevNum, error) {
	nextRev := revlog.RevNum(rl.Len())
	nodeToFutureRev := make(map[revlog.Node]revlog.RevNum)
	var pending []pendingChangelogRev

	var prevText []byte
	for {
		payload, ok, err := readChunk(r)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		rec, err := decodeChunk(payload, version)
		if err != nil {
			return nil, nil, err
		}
		text, err := revlog.ApplyDelta(prevText, rec.Delta)
		if err != nil {
			return nil, nil, err
		}
		pending = append(pending, pendingChangelogRev{
			futureRev: nextRev, node: rec.Node, p1: rec.P1, p2: rec.P2, text: text,
		})
		nodeToFutureRev[rec.Node] = nextRev
		nextRev++
		prevText = text
	}
	return pending, nodeToFutureRev, nil
}

// appendPendingChangelog durably appends every decoded changelog
// revision in order, resolving each one's parents against both the
// store's pre-existing nodes and nodes earlier in this same batch, and
// verifying the materialized hash matches what the sender claimed before
// trusting it.
func appendPendingChangelog(rl *revlog.Revlog, pending []pendingChangelogRev, note func(int64, int64)) error {
	localRev := func(n revlog.Node) (revlog.RevNum, error) {
		if n.IsNull() {
			return revlog.NullRev, nil
		}
		if rev, ok := rl.RevOf(n); ok {
			return rev, nil
		}
		for _, p := range pending {
			if p.node == n {
				return p.futureRev, nil
			}
		}
		return 0, errs.New(errs.Integrity, "changegroup.appendPendingChangelog", "unresolvable parent node "+n.String())
	}

	for _, p := range pending {
		p1rev, err := localRev(p.p1)
		if err != nil {
			return err
		}
		p2rev, err := localRev(p.p2)
		if err != nil {
			return err
		}
		gotRev, gotNode, err := rl.AppendRevision(p1rev, p2rev, 0, p.text, 0, note)
		if err != nil {
			return err
		}
		if gotNode != p.node {
			return errs.New(errs.Integrity, "changegroup.appendPendingChangelog", "decoded changeset hash mismatch")
		}
		if gotRev != p.futureRev {
			return errs.New(errs.Integrity, "changegroup.appendPendingChangelog", "changelog rev allocation drifted mid-apply")
		}
	}
	return nil
}
