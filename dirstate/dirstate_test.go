package dirstate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/gorevlog/revlog"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ds := New()
	ds.P1 = revlog.HashRevision(revlog.NullID, revlog.NullID, []byte("c1"))
	ds.Normal("foo.txt", 0644, 10, 1000)
	require.NoError(t, ds.Add("bar.txt", nil, "foo.txt"))
	require.NoError(t, ds.Remove("baz.txt", nil))

	path := filepath.Join(t.TempDir(), "dirstate")
	require.NoError(t, ds.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ds.P1, loaded.P1)
	assert.Equal(t, ds.Entries, loaded.Entries)
	assert.Equal(t, ds.Copies, loaded.Copies)
}

func TestLoadMissingFileReturnsEmptyDirstate(t *testing.T) {
	ds, err := Load(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.True(t, ds.P1.IsNull())
	assert.Empty(t, ds.Entries)
}

func TestAddRejectsPathAlreadyInParentManifest(t *testing.T) {
	ds := New()
	parent := map[string]struct{}{"foo.txt": {}}
	err := ds.Add("foo.txt", parent, "")
	require.Error(t, err)
}

func TestRemoveRejectsPathNotInParentManifest(t *testing.T) {
	ds := New()
	parent := map[string]struct{}{}
	err := ds.Remove("foo.txt", parent)
	require.Error(t, err)
}

func TestMergeRequiresTwoNonNullParents(t *testing.T) {
	ds := New()
	err := ds.Merge("foo.txt")
	require.Error(t, err)

	ds.P1 = revlog.HashRevision(revlog.NullID, revlog.NullID, []byte("a"))
	ds.P2 = revlog.HashRevision(revlog.NullID, revlog.NullID, []byte("b"))
	require.NoError(t, ds.Merge("foo.txt"))
	assert.Equal(t, StateMerged, ds.Entries["foo.txt"].State)
}

func TestForgetRemovesEntryAndCopy(t *testing.T) {
	ds := New()
	ds.Normal("foo.txt", 0644, 1, 1)
	ds.Copies["foo.txt"] = "bar.txt"
	ds.Forget("foo.txt")
	_, ok := ds.Entries["foo.txt"]
	assert.False(t, ok)
	_, ok = ds.Copies["foo.txt"]
	assert.False(t, ok)
}
