package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintFormatsNameAndBuildMetadata(t *testing.T) {
	Version, Commit, BuildDate = "1.2.3", "abcdef", "2026-01-01"
	t.Cleanup(func() { Version, Commit, BuildDate = "dev", "unknown", "unknown" })

	got := Print("gorevlog")
	assert.Equal(t, "gorevlog version 1.2.3 (commit abcdef, built 2026-01-01)", got)
}
