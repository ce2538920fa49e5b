package transaction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitRemovesJournalAndKeepsData(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(target, []byte("abc"), 0644))

	tx, err := Begin(filepath.Join(dir, "journal"), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Note(target, 3))

	require.NoError(t, os.WriteFile(target, []byte("abcdef"), 0644))
	require.NoError(t, tx.Commit())

	_, err = os.Stat(filepath.Join(dir, "journal"))
	assert.True(t, os.IsNotExist(err))

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(content))
}

func TestAbortTruncatesBackToNotedLength(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(target, []byte("abc"), 0644))

	tx, err := Begin(filepath.Join(dir, "journal"), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Note(target, 3))
	require.NoError(t, os.WriteFile(target, []byte("abcdef"), 0644))

	require.NoError(t, tx.Abort())

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content))
}

func TestRecoverReplaysAnAbandonedJournal(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(target, []byte("abc"), 0644))
	journalPath := filepath.Join(dir, "journal")

	tx, err := Begin(journalPath, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Note(target, 3))
	require.NoError(t, os.WriteFile(target, []byte("abcdef"), 0644))
	// Simulate a crash: the journal file is left behind, never committed
	// or aborted.

	require.NoError(t, Recover(journalPath, nil))
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content))

	_, err = os.Stat(journalPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRecoverOnMissingJournalIsNoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Recover(filepath.Join(dir, "nope"), nil))
}

func TestNoteIsIdempotentPerPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(target, []byte("abc"), 0644))

	tx, err := Begin(filepath.Join(dir, "journal"), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Note(target, 3))
	require.NoError(t, os.WriteFile(target, []byte("abcdef"), 0644))
	require.NoError(t, tx.Note(target, 6)) // later Note of the same path is a no-op

	require.NoError(t, tx.Abort())
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content), "rollback should use the FIRST recorded length, not a later one")
}
