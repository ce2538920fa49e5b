package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/gorevlog/revlog"
)

func openTest(t *testing.T) *Manifest {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "00manifest.i"), filepath.Join(dir, "00manifest.d"), revlog.DefaultOptions)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func node(s string) revlog.Node {
	return revlog.HashRevision(revlog.NullID, revlog.NullID, []byte(s))
}

func TestAddReadRoundTrip(t *testing.T) {
	m := openTest(t)
	entries := Entries{
		"foo":     {Node: node("foo-v1")},
		"dir/bar": {Node: node("bar-v1"), Flag: FlagExecutable},
	}
	_, n, err := m.Add(entries, revlog.NullRev, revlog.NullRev, 0, nil)
	require.NoError(t, err)

	got, err := m.Read(revlog.ByNode(n))
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestDiff(t *testing.T) {
	m := openTest(t)
	a := Entries{"foo": {Node: node("v1")}, "bar": {Node: node("v1")}}
	b := Entries{"foo": {Node: node("v2")}, "baz": {Node: node("v1")}}

	_, na, err := m.Add(a, revlog.NullRev, revlog.NullRev, 0, nil)
	require.NoError(t, err)
	_, nb, err := m.Add(b, revlog.NullRev, revlog.NullRev, 1, nil)
	require.NoError(t, err)

	deltas, err := m.Diff(revlog.ByNode(na), revlog.ByNode(nb))
	require.NoError(t, err)
	require.Len(t, deltas, 3)

	byPath := map[string]Delta{}
	for _, d := range deltas {
		byPath[d.Path] = d
	}
	assert.NotNil(t, byPath["bar"].OldEntry)
	assert.Nil(t, byPath["bar"].NewEntry)
	assert.NotNil(t, byPath["baz"].NewEntry)
	assert.Nil(t, byPath["baz"].OldEntry)
	assert.NotNil(t, byPath["foo"].OldEntry)
	assert.NotNil(t, byPath["foo"].NewEntry)
}
