package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadOrFail(t *testing.T, cfgString string) *Config {
	t.Helper()
	cfg, err := Unmarshal([]byte(cfgString))
	require.NoError(t, err)
	return cfg
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := loadOrFail(t, "")
	assert.Equal(t, "", cfg.Username)
	assert.Empty(t, cfg.Paths)
	assert.Equal(t, DefaultMergeSimilarity, cfg.MergeSimilarity)
}

func TestUsernameAndPaths(t *testing.T) {
	const cfgString = `
username: Jane Doe <jane@example.com>
paths:
  - name: default
    url: https://example.com/repo
`
	cfg := loadOrFail(t, cfgString)
	assert.Equal(t, "Jane Doe <jane@example.com>", cfg.Username)
	url, ok := cfg.Path("default")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/repo", url)

	_, ok = cfg.Path("missing")
	assert.False(t, ok)
}

func TestDuplicatePathAliasIsError(t *testing.T) {
	const cfgString = `
paths:
  - name: default
    url: a
  - name: default
    url: b
`
	_, err := Unmarshal([]byte(cfgString))
	require.Error(t, err)
}

func TestIgnorePatterns(t *testing.T) {
	const cfgString = `
ignore:
  - "*.o"
  - "build/.../cache"
`
	cfg := loadOrFail(t, cfgString)
	assert.True(t, cfg.IsIgnored("*.o")) // literal glob metachar in our syntax is only "..."
	assert.True(t, cfg.IsIgnored("build/sub/dir/cache"))
	assert.False(t, cfg.IsIgnored("build/cache/extra"))
}

func TestMergeSimilarityOutOfRangeIsError(t *testing.T) {
	_, err := Unmarshal([]byte("merge_similarity: 1.5"))
	require.Error(t, err)
}

func TestMergeSimilarityOverride(t *testing.T) {
	cfg := loadOrFail(t, "merge_similarity: 0.8")
	assert.Equal(t, 0.8, cfg.MergeSimilarity)
}
