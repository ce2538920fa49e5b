package merge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/gorevlog/manifest"
	"github.com/rcowham/gorevlog/revlog"
)

func node(s string) revlog.Node {
	return revlog.HashRevision(revlog.NullID, revlog.NullID, []byte(s))
}

func entry(s string) manifest.Entry { return manifest.Entry{Node: node(s)} }

func actionFor(entries []ActionEntry, path string) ActionEntry {
	for _, e := range entries {
		if e.Path == path {
			return e
		}
	}
	return ActionEntry{}
}

func TestPlanBasicActions(t *testing.T) {
	base := manifest.Entries{
		"unchanged": entry("v1"),
		"deleted":   entry("v1"),
		"changed":   entry("v1"),
	}
	local := manifest.Entries{
		"unchanged": entry("v1"),
		"changed":   entry("v1"),
		"added":     entry("new"),
		"deleted":   entry("v1"),
	}
	other := manifest.Entries{
		"unchanged": entry("v1"),
		"changed":   entry("v2"),
	}

	entries, err := Plan(local, other, base, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, ActionKeep, actionFor(entries, "unchanged").Action)
	assert.Equal(t, ActionGet, actionFor(entries, "changed").Action)
	assert.Equal(t, ActionKeep, actionFor(entries, "added").Action)
	assert.Equal(t, ActionDelete, actionFor(entries, "deleted").Action)
}

func TestPlanConflictWhenBothAddDifferentContent(t *testing.T) {
	base := manifest.Entries{}
	local := manifest.Entries{"new.txt": entry("local-version")}
	other := manifest.Entries{"new.txt": entry("other-version")}

	entries, err := Plan(local, other, base, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, ActionConflict, actionFor(entries, "new.txt").Action)
}

func TestPlanMergeWhenBothSidesChange(t *testing.T) {
	base := manifest.Entries{"f": entry("base")}
	local := manifest.Entries{"f": entry("local")}
	other := manifest.Entries{"f": entry("other")}

	entries, err := Plan(local, other, base, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, ActionMerge, actionFor(entries, "f").Action)
}

func TestPlanFlagChangeOnly(t *testing.T) {
	base := manifest.Entries{"f": {Node: node("v1")}}
	local := manifest.Entries{"f": {Node: node("v1"), Flag: manifest.FlagExecutable}}
	other := manifest.Entries{"f": {Node: node("v1")}}

	entries, err := Plan(local, other, base, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, ActionFlagChange.String(), actionFor(entries, "f").Action.String())
}

func TestLineSimilarity(t *testing.T) {
	a := []byte("one\ntwo\nthree\n")
	b := []byte("one\ntwo\nfour\n")
	score := lineSimilarity(a, b)
	assert.InDelta(t, 2.0/3.0, score, 0.001)
}

func TestMergestateSaveLoadAndCommitGuard(t *testing.T) {
	ms := NewMergestate()
	ms.Add("f.txt", node("l"), node("o"), node("b"), "hash")
	assert.Error(t, ms.CheckCommittable())

	path := filepath.Join(t.TempDir(), "mergestate")
	require.NoError(t, ms.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Unresolved(), 1)

	require.NoError(t, loaded.Resolve("f.txt"))
	assert.NoError(t, loaded.CheckCommittable())
}

func TestMergestateLoadMissingFileIsEmpty(t *testing.T) {
	ms, err := Load(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, ms.Records)
	assert.NoError(t, ms.CheckCommittable())
}
