package match

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/gorevlog/dirstate"
)

func TestGlobMatch(t *testing.T) {
	m, err := NewMatcher([]Pattern{{Kind: KindGlob, Text: "*.go"}}, nil)
	require.NoError(t, err)
	assert.True(t, m.Match("main.go"))
	assert.False(t, m.Match("dir/main.go"))
	assert.False(t, m.Match("main.txt"))
}

func TestDoubleStarGlobCrossesDirectories(t *testing.T) {
	m, err := NewMatcher([]Pattern{{Kind: KindGlob, Text: "**/*.go"}}, nil)
	require.NoError(t, err)
	assert.True(t, m.Match("dir/sub/main.go"))
}

func TestExcludeWins(t *testing.T) {
	m, err := NewMatcher(
		[]Pattern{{Kind: KindGlob, Text: "*.go"}},
		[]Pattern{{Kind: KindPath, Text: "skip.go"}},
	)
	require.NoError(t, err)
	assert.True(t, m.Match("main.go"))
	assert.False(t, m.Match("skip.go"))
}

func TestEmptyIncludesMatchesEverythingNotExcluded(t *testing.T) {
	m, err := NewMatcher(nil, []Pattern{{Kind: KindPath, Text: "skip.go"}})
	require.NoError(t, err)
	assert.True(t, m.Match("anything"))
	assert.False(t, m.Match("skip.go"))
}

func TestRelPathMatchesPrefixTree(t *testing.T) {
	m, err := NewMatcher([]Pattern{{Kind: KindRelPath, Text: "dir"}}, nil)
	require.NoError(t, err)
	assert.True(t, m.Match("dir"))
	assert.True(t, m.Match("dir/sub/file.go"))
	assert.False(t, m.Match("other/file.go"))
}

func TestVisitFastPathOnlyForExactPathIncludes(t *testing.T) {
	m, err := NewMatcher([]Pattern{{Kind: KindPath, Text: "a"}, {Kind: KindPath, Text: "b"}}, nil)
	require.NoError(t, err)
	files, ok := m.Visit()
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, files)

	m2, err := NewMatcher([]Pattern{{Kind: KindGlob, Text: "*.go"}}, nil)
	require.NoError(t, err)
	_, ok = m2.Visit()
	assert.False(t, ok)
}

type fakeFS struct{ files []string }

func (f fakeFS) List() ([]string, error) { return f.files, nil }

func TestWalkYieldsTrackedThenUntrackedFiltered(t *testing.T) {
	ds := dirstate.New()
	ds.Normal("tracked.go", 0644, 1, 1)
	fs := fakeFS{files: []string{"tracked.go", "untracked.go", "skip.txt"}}

	m, err := NewMatcher([]Pattern{{Kind: KindGlob, Text: "*.go"}}, nil)
	require.NoError(t, err)

	var got []string
	for p := range Walk(fs, ds, m) {
		got = append(got, p)
	}
	slices.Sort(got)
	assert.Equal(t, []string{"tracked.go", "untracked.go"}, got)
}

func TestWalkNarrowsToRelPathRoots(t *testing.T) {
	ds := dirstate.New()
	ds.Normal("src/main.go", 0644, 1, 1)
	ds.Normal("src/lib/util.go", 0644, 1, 1)
	ds.Normal("docs/readme.md", 0644, 1, 1)
	fs := fakeFS{}

	m, err := NewMatcher([]Pattern{{Kind: KindRelPath, Text: "src"}}, nil)
	require.NoError(t, err)
	_, ok := m.(dirVisitor)
	require.True(t, ok)

	var got []string
	for p := range Walk(fs, ds, m) {
		got = append(got, p)
	}
	slices.Sort(got)
	assert.Equal(t, []string{"src/lib/util.go", "src/main.go"}, got)
}

func TestWalkStopsEarly(t *testing.T) {
	ds := dirstate.New()
	ds.Normal("a.go", 0644, 1, 1)
	ds.Normal("b.go", 0644, 1, 1)
	m, err := NewMatcher(nil, nil)
	require.NoError(t, err)

	count := 0
	for range Walk(fakeFS{}, ds, m) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}
