package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "integrity", Integrity.String())
	assert.Equal(t, "lock", Lock.String())
	assert.Equal(t, "resource", Resource.String())
	assert.Equal(t, "usage", Usage.String())
	assert.Equal(t, "semantic", Semantic.String())
	assert.Equal(t, "capability", Capability.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestErrorMessageWithAndWithoutCause(t *testing.T) {
	plain := New(Semantic, "store.Commit", "nothing to commit")
	assert.Equal(t, "store.Commit: semantic: nothing to commit", plain.Error())

	cause := fmt.Errorf("disk full")
	wrapped := Wrap(Resource, "dirstate.Save", "write temp file", cause)
	assert.Equal(t, "dirstate.Save: resource: write temp file: disk full", wrapped.Error())
	assert.Equal(t, cause, wrapped.Unwrap())
}

func TestIsMatchesDirectKind(t *testing.T) {
	err := New(Integrity, "revlog.Read", "hash mismatch")
	assert.True(t, Is(err, Integrity))
	assert.False(t, Is(err, Resource))
}

func TestIsWalksUnwrapChain(t *testing.T) {
	inner := New(Lock, "lock.Acquire", "timed out")
	outer := fmt.Errorf("acquiring store lock: %w", inner)
	assert.True(t, Is(outer, Lock))
	assert.False(t, Is(outer, Usage))
}

func TestIsReturnsFalseForUnrelatedError(t *testing.T) {
	assert.False(t, Is(fmt.Errorf("plain error"), Integrity))
	assert.False(t, Is(nil, Integrity))
}
