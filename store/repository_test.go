package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/gorevlog/dirstate"
	"github.com/rcowham/gorevlog/merge"
	"github.com/rcowham/gorevlog/revlog"
)

func openRepo(t *testing.T) *Repository {
	t.Helper()
	root := t.TempDir()
	r, err := Init(root, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func writeAndAdd(t *testing.T, r *Repository, path, content string) {
	t.Helper()
	full := filepath.Join(r.root, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	require.NoError(t, r.Dirstate.Add(path, nil, ""))
}

func TestInitThenOpenRoundTrip(t *testing.T) {
	root := t.TempDir()
	r, err := Init(root, nil, nil)
	require.NoError(t, err)
	r.Close()

	reopened, err := Open(root, nil, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, revlog.NullRev, reopened.Changelog.Tip())
}

func TestCommitAppendsChangesetAndUpdatesDirstate(t *testing.T) {
	r := openRepo(t)
	writeAndAdd(t, r, "a.txt", "hello\n")

	node, err := r.Commit("alice", "initial commit", nil, "0 0")
	require.NoError(t, err)
	assert.NotEqual(t, revlog.NullID, node)
	assert.Equal(t, revlog.RevNum(0), r.Changelog.Tip())

	entry, ok := r.Dirstate.Entries["a.txt"]
	require.True(t, ok)
	assert.Equal(t, dirstate.StateNormal, entry.State)
	assert.Equal(t, node, r.Dirstate.P1)

	st, err := r.Status()
	require.NoError(t, err)
	assert.Empty(t, st.Modified)
	assert.Empty(t, st.Added)
	assert.Contains(t, st.Clean, "a.txt")
}

func TestCommitWithNoChangesFails(t *testing.T) {
	r := openRepo(t)
	_, err := r.Commit("alice", "empty", nil, "0 0")
	assert.Error(t, err)
}

func TestCommitDetectsModifiedFileOnSecondCommit(t *testing.T) {
	r := openRepo(t)
	writeAndAdd(t, r, "a.txt", "v1\n")
	_, err := r.Commit("alice", "first", nil, "0 0")
	require.NoError(t, err)

	full := filepath.Join(r.root, "a.txt")
	require.NoError(t, os.WriteFile(full, []byte("v2\n"), 0644))

	st, err := r.Status()
	require.NoError(t, err)
	assert.Contains(t, st.Modified, "a.txt")

	second, err := r.Commit("alice", "second", nil, "0 0")
	require.NoError(t, err)
	assert.Equal(t, revlog.RevNum(1), r.Changelog.Tip())

	st, err = r.Status()
	require.NoError(t, err)
	assert.Contains(t, st.Clean, "a.txt")
	assert.Equal(t, second, r.Dirstate.P1)
}

func TestVerifyReportsNoProblemsOnHealthyRepo(t *testing.T) {
	r := openRepo(t)
	writeAndAdd(t, r, "a.txt", "v1\n")
	_, err := r.Commit("alice", "first", nil, "0 0")
	require.NoError(t, err)
	assert.Empty(t, r.Verify())
}

func TestStripTruncatesChangelogAndBacksUpBundle(t *testing.T) {
	r := openRepo(t)
	writeAndAdd(t, r, "a.txt", "v1\n")
	_, err := r.Commit("alice", "first", nil, "0 0")
	require.NoError(t, err)

	full := filepath.Join(r.root, "a.txt")
	require.NoError(t, os.WriteFile(full, []byte("v2\n"), 0644))
	require.NoError(t, r.Dirstate.Add("a.txt", nil, ""))
	_, err = r.Commit("alice", "second", nil, "0 0")
	require.NoError(t, err)
	require.Equal(t, revlog.RevNum(1), r.Changelog.Tip())

	require.NoError(t, r.Strip(0))
	assert.Equal(t, revlog.RevNum(0), r.Changelog.Tip())

	entries, err := os.ReadDir(r.hgPath(stripBackupDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCommitRefusesWhileMergeUnresolved(t *testing.T) {
	r := openRepo(t)
	ms, err := r.Mergestate()
	require.NoError(t, err)
	ms.Add("conflict.txt", revlog.NullID, revlog.NullID, revlog.NullID, "")
	require.NoError(t, r.SaveMergestate(ms))

	_, err = r.Commit("alice", "attempt", nil, "0 0")
	require.Error(t, err)
	assert.ErrorIs(t, err, merge.ErrUnresolved)
}

func TestMergestateRoundTripsThroughResolve(t *testing.T) {
	r := openRepo(t)
	ms, err := r.Mergestate()
	require.NoError(t, err)
	ms.Add("conflict.txt", revlog.NullID, revlog.NullID, revlog.NullID, "")
	require.NoError(t, r.SaveMergestate(ms))

	reloaded, err := r.Mergestate()
	require.NoError(t, err)
	assert.Equal(t, []string{"conflict.txt"}, reloaded.Unresolved())

	require.NoError(t, reloaded.Resolve("conflict.txt"))
	require.NoError(t, r.SaveMergestate(reloaded))

	final, err := r.Mergestate()
	require.NoError(t, err)
	assert.Empty(t, final.Unresolved())
	require.NoError(t, final.CheckCommittable())
}
