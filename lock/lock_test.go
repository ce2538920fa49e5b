package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l := New(path)
	require.NoError(t, l.Acquire(context.Background(), time.Second))
	assert.True(t, l.Locked())
	require.NoError(t, l.Release())
}

func TestSecondAcquireTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l1 := New(path)
	require.NoError(t, l1.Acquire(context.Background(), time.Second))
	defer l1.Release()

	l2 := New(path)
	err := l2.Acquire(context.Background(), 100*time.Millisecond)
	require.Error(t, err)
}

func TestAcquireRespectsCanceledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l1 := New(path)
	require.NoError(t, l1.Acquire(context.Background(), time.Second))
	defer l1.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l2 := New(path)
	err := l2.Acquire(ctx, time.Minute)
	require.Error(t, err)
}
