package changegroup

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/alitto/pond"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/gorevlog/changelog"
	"github.com/rcowham/gorevlog/filelog"
	"github.com/rcowham/gorevlog/manifest"
	"github.com/rcowham/gorevlog/revlog"
)

// fakeOpener is a minimal FilelogOpener lazily opening one filelog per
// path under a temp store directory, standing in for store.Repository.
type fakeOpener struct {
	dir string
	fl  map[string]*filelog.Filelog
}

func newFakeOpener(dir string) *fakeOpener {
	return &fakeOpener{dir: dir, fl: make(map[string]*filelog.Filelog)}
}

func (o *fakeOpener) Open(path string) (*filelog.Filelog, error) {
	if f, ok := o.fl[path]; ok {
		return f, nil
	}
	base := filelog.EncodeStorePath(path)
	if err := os.MkdirAll(filepath.Dir(filepath.Join(o.dir, base)), 0755); err != nil {
		return nil, err
	}
	f, err := filelog.Open(path, filepath.Join(o.dir, base+".i"), filepath.Join(o.dir, base+".d"), revlog.DefaultOptions)
	if err != nil {
		return nil, err
	}
	o.fl[path] = f
	return f, nil
}

func (o *fakeOpener) close() {
	for _, f := range o.fl {
		f.Close()
	}
}

// testRepo is a minimal changelog+manifest+filelog triple, enough to
// drive EncodeRange/Apply without the rest of store.Repository.
type testRepo struct {
	cl *changelog.Changelog
	mf *manifest.Manifest
	fo *fakeOpener
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	cl, err := changelog.Open(filepath.Join(dir, "00changelog.i"), filepath.Join(dir, "00changelog.d"), revlog.DefaultOptions)
	require.NoError(t, err)
	mf, err := manifest.Open(filepath.Join(dir, "00manifest.i"), filepath.Join(dir, "00manifest.d"), revlog.DefaultOptions)
	require.NoError(t, err)
	fo := newFakeOpener(dir)
	t.Cleanup(func() {
		cl.Close()
		mf.Close()
		fo.close()
	})
	return &testRepo{cl: cl, mf: mf, fo: fo}
}

func (r *testRepo) tipManifest(t *testing.T) manifest.Entries {
	t.Helper()
	tip := r.cl.Tip()
	if tip == revlog.NullRev {
		return manifest.Entries{}
	}
	cs, err := r.cl.Read(revlog.ByRev(tip))
	require.NoError(t, err)
	mrev, ok := r.mf.Revlog().RevOf(cs.Manifest)
	require.True(t, ok)
	entries, err := r.mf.Read(revlog.ByRev(mrev))
	require.NoError(t, err)
	return entries
}

// commit appends one single-parent changeset touching path with content.
func (r *testRepo) commit(t *testing.T, path, content, message string) revlog.Node {
	t.Helper()
	p1 := r.cl.Tip()
	futureRev := revlog.RevNum(r.cl.Revlog().Len())

	fl, err := r.fo.Open(path)
	require.NoError(t, err)
	fp1 := revlog.NullRev
	if e, ok := r.tipManifest(t)[path]; ok {
		if rev, ok := fl.Revlog().RevOf(e.Node); ok {
			fp1 = rev
		}
	}
	_, fnode, err := fl.Add(fp1, revlog.NullRev, futureRev, []byte(content), nil, nil)
	require.NoError(t, err)

	entries := r.tipManifest(t)
	newEntries := make(manifest.Entries, len(entries)+1)
	for k, v := range entries {
		newEntries[k] = v
	}
	newEntries[path] = manifest.Entry{Node: fnode}

	_, mnode, err := r.mf.Add(newEntries, p1, revlog.NullRev, futureRev, nil)
	require.NoError(t, err)

	_, cnode, err := r.cl.Add(mnode, []string{path}, "tester", "0 0", nil, message, p1, revlog.NullRev, nil)
	require.NoError(t, err)
	return cnode
}

func TestEncodeRangeThenApplyRoundTrip(t *testing.T) {
	src := newTestRepo(t)
	src.commit(t, "a.txt", "v1\n", "first")
	tip := src.commit(t, "a.txt", "v2\n", "second")

	var buf bytes.Buffer
	stats, err := EncodeRange(src.cl, src.mf, src.fo, []revlog.Node{tip}, nil, VersionV2, WrapperUncompressed, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Changesets)
	assert.Equal(t, 2, stats.Manifests)

	dst := newTestRepo(t)
	pool := pond.New(2, 0, pond.MinWorkers(1))
	defer pool.StopAndWait()
	applyStats, err := Apply(dst.cl, dst.mf, dst.fo, VersionV2, &buf, nil, pool)
	require.NoError(t, err)
	assert.Equal(t, 2, applyStats.Changesets)
	assert.Equal(t, 2, applyStats.Files)

	dstTip := dst.cl.Tip()
	require.NotEqual(t, revlog.NullRev, dstTip)
	gotNode, err := dst.cl.Revlog().NodeOf(dstTip)
	require.NoError(t, err)
	assert.Equal(t, tip, gotNode)

	entries := dst.tipManifest(t)
	content, _, err := dst.fo.fl["a.txt"].Read(revlog.ByNode(entries["a.txt"].Node))
	require.NoError(t, err)
	assert.Equal(t, "v2\n", string(content))
}

func TestEncodeRangeWithGzipWrapperRoundTrips(t *testing.T) {
	src := newTestRepo(t)
	tip := src.commit(t, "only.txt", "hello\n", "only commit")

	var buf bytes.Buffer
	_, err := EncodeRange(src.cl, src.mf, src.fo, []revlog.Node{tip}, nil, VersionV1, WrapperGzip, &buf)
	require.NoError(t, err)

	dst := newTestRepo(t)
	applyStats, err := Apply(dst.cl, dst.mf, dst.fo, VersionV1, &buf, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, applyStats.Changesets)
}

func TestEncodeRangeRejectsBzip2Wrapper(t *testing.T) {
	src := newTestRepo(t)
	tip := src.commit(t, "a.txt", "v1\n", "first")

	var buf bytes.Buffer
	_, err := EncodeRange(src.cl, src.mf, src.fo, []revlog.Node{tip}, nil, VersionV1, WrapperBzip2, &buf)
	assert.Error(t, err)
}
