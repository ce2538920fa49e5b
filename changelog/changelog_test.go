package changelog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/gorevlog/revlog"
)

func openTest(t *testing.T) *Changelog {
	t.Helper()
	dir := t.TempDir()
	cl, err := Open(filepath.Join(dir, "00changelog.i"), filepath.Join(dir, "00changelog.d"), revlog.DefaultOptions)
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })
	return cl
}

func TestAddAndReadRoundTrip(t *testing.T) {
	cl := openTest(t)
	mnode := revlog.HashRevision(revlog.NullID, revlog.NullID, []byte("manifest-payload"))

	rev, node, err := cl.Add(mnode, []string{"foo", "bar"}, "u", "0 0", map[string]string{"branch": "default"}, "c1", revlog.NullRev, revlog.NullRev, nil)
	require.NoError(t, err)
	assert.Equal(t, revlog.RevNum(0), rev)

	cs, err := cl.Read(revlog.ByNode(node))
	require.NoError(t, err)
	assert.Equal(t, mnode, cs.Manifest)
	assert.Equal(t, "u", cs.User)
	assert.Equal(t, []string{"bar", "foo"}, cs.Files)
	assert.Equal(t, "c1", cs.Message)
	assert.Equal(t, "default", cs.Extras["branch"])
	assert.Equal(t, "0 0", cs.Date)
}

func TestUnknownExtrasRoundTrip(t *testing.T) {
	cl := openTest(t)
	mnode := revlog.HashRevision(revlog.NullID, revlog.NullID, []byte("m"))
	_, node, err := cl.Add(mnode, nil, "u", "100 0", map[string]string{"future-field": "keep-me"}, "msg", revlog.NullRev, revlog.NullRev, nil)
	require.NoError(t, err)

	cs, err := cl.Read(revlog.ByNode(node))
	require.NoError(t, err)
	assert.Equal(t, "keep-me", cs.Extras["future-field"])
}

func TestMultilineMessage(t *testing.T) {
	cl := openTest(t)
	mnode := revlog.HashRevision(revlog.NullID, revlog.NullID, []byte("m2"))
	_, node, err := cl.Add(mnode, []string{"a"}, "u", "0 0", nil, "line1\nline2\n\nline4", revlog.NullRev, revlog.NullRev, nil)
	require.NoError(t, err)
	cs, err := cl.Read(revlog.ByNode(node))
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n\nline4", cs.Message)
}
