package dag

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/gorevlog/changelog"
	"github.com/rcowham/gorevlog/revlog"
)

// chain builds: 0 -> 1 -> 2, 1 -> 3 (so 2 and 3 are both heads sharing
// ancestor 1).
func buildTestChangelog(t *testing.T) *changelog.Changelog {
	t.Helper()
	dir := t.TempDir()
	cl, err := changelog.Open(filepath.Join(dir, "00changelog.i"), filepath.Join(dir, "00changelog.d"), revlog.DefaultOptions)
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })

	mnode := func(s string) revlog.Node { return revlog.HashRevision(revlog.NullID, revlog.NullID, []byte(s)) }

	_, n0, err := cl.Add(mnode("m0"), nil, "u", "0 0", nil, "c0", revlog.NullRev, revlog.NullRev, nil)
	require.NoError(t, err)
	_ = n0
	_, n1, err := cl.Add(mnode("m1"), nil, "u", "0 0", nil, "c1", 0, revlog.NullRev, nil)
	require.NoError(t, err)
	_ = n1
	_, _, err = cl.Add(mnode("m2"), nil, "u", "0 0", nil, "c2", 1, revlog.NullRev, nil)
	require.NoError(t, err)
	_, _, err = cl.Add(mnode("m3"), nil, "u", "0 0", nil, "c3", 1, revlog.NullRev, nil)
	require.NoError(t, err)
	return cl
}

func TestHeads(t *testing.T) {
	cl := buildTestChangelog(t)
	d := New(cl)
	heads := d.Heads()
	assert.ElementsMatch(t, []revlog.RevNum{2, 3}, heads)
}

func TestAncestorsExcludesInput(t *testing.T) {
	cl := buildTestChangelog(t)
	d := New(cl)
	anc := d.Ancestors([]revlog.RevNum{2})
	assert.ElementsMatch(t, []revlog.RevNum{0, 1}, anc)
}

func TestCommonAncestorsAndLCA(t *testing.T) {
	cl := buildTestChangelog(t)
	d := New(cl)
	common := d.CommonAncestors(2, 3)
	assert.ElementsMatch(t, []revlog.RevNum{0, 1}, common)

	lca, ok := d.LowestCommonAncestor(2, 3)
	require.True(t, ok)
	assert.Equal(t, revlog.RevNum(0), lca)
}

func TestFindMissing(t *testing.T) {
	cl := buildTestChangelog(t)
	d := New(cl)
	missing := d.FindMissing([]revlog.RevNum{1}, []revlog.RevNum{2, 3})
	assert.ElementsMatch(t, []revlog.RevNum{2, 3}, missing)
}

func TestDescendantsExcludesInput(t *testing.T) {
	cl := buildTestChangelog(t)
	d := New(cl)
	desc := d.Descendants([]revlog.RevNum{1})
	assert.ElementsMatch(t, []revlog.RevNum{2, 3}, desc)
}
