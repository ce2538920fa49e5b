package pushkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/gorevlog/revlog"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPushSetsThenCASProtectsAgainstStaleWriter(t *testing.T) {
	s := openTest(t)

	ok, err := s.Push("bookmarks", "main", "", "abc123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Push("bookmarks", "main", "", "zzz999")
	require.NoError(t, err)
	assert.False(t, ok, "CAS must reject a push whose expected old value is stale")

	v, ok, err := s.Get("bookmarks", "main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc123", v)
}

func TestPushEmptyNewDeletesKey(t *testing.T) {
	s := openTest(t)
	_, err := s.Push("phases", "tip", "", "draft")
	require.NoError(t, err)

	ok, err := s.Push("phases", "tip", "draft", "")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = s.Get("phases", "tip")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListReturnsEveryKey(t *testing.T) {
	s := openTest(t)
	_, err := s.Push("ns", "a", "", "1")
	require.NoError(t, err)
	_, err = s.Push("ns", "b", "", "2")
	require.NoError(t, err)

	vals, err := s.List("ns")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, vals)
}

func TestNamespacesPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	_, err = s1.Push("bookmarks", "main", "", "node1")
	require.NoError(t, err)

	s2, err := Open(dir)
	require.NoError(t, err)
	v, ok, err := s2.Get("bookmarks", "main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node1", v)
}

// fakePeer is a minimal HeadProvider over an in-memory parent map, used
// to exercise Discovery.Sample without a real repository.
type fakePeer struct {
	heads   []revlog.Node
	parents map[revlog.Node][]revlog.Node
	has     map[revlog.Node]bool
}

func (p *fakePeer) Heads() ([]revlog.Node, error) { return p.heads, nil }

func (p *fakePeer) Known(nodes []revlog.Node) ([]bool, error) {
	out := make([]bool, len(nodes))
	for i, n := range nodes {
		out[i] = p.has[n]
	}
	return out, nil
}

func (p *fakePeer) Parents(n revlog.Node) ([]revlog.Node, error) {
	return p.parents[n], nil
}

func nodeFor(b byte) revlog.Node {
	var n revlog.Node
	n[0] = b
	return n
}

func TestSampleFindsCommonAncestorAcrossOneHop(t *testing.T) {
	tip := nodeFor(3)
	shared := nodeFor(2)
	root := nodeFor(1)

	local := &fakePeer{
		heads: []revlog.Node{tip},
		parents: map[revlog.Node][]revlog.Node{
			tip:    {shared},
			shared: {root},
		},
	}
	remote := &fakePeer{
		heads: []revlog.Node{shared},
		has:   map[revlog.Node]bool{shared: true},
	}

	d := NewDiscovery(5)
	common, err := d.Sample(local, remote)
	require.NoError(t, err)
	assert.Contains(t, common, shared)
	assert.NotContains(t, common, tip)
}

func TestSampleWithNoSharedHistoryReturnsEmpty(t *testing.T) {
	local := &fakePeer{heads: []revlog.Node{nodeFor(9)}}
	remote := &fakePeer{heads: []revlog.Node{nodeFor(8)}, has: map[revlog.Node]bool{}}

	d := NewDiscovery(3)
	common, err := d.Sample(local, remote)
	require.NoError(t, err)
	assert.Empty(t, common)
}

func TestNewDiscoveryDefaultsNonPositiveRounds(t *testing.T) {
	d := NewDiscovery(0)
	assert.Equal(t, 10, d.maxRounds)
}
