package main

// fastimport replays a `git fast-export` stream into a repository store,
// the same architecture as the teacher's GitParse/DumpGit pipeline in
// main.go but targeting this store's changelog/manifest/filelog instead
// of a Perforce journal: blobs are buffered by mark as they stream past,
// commits accumulate their file actions, and each CmdCommitEnd durably
// appends one changeset, inside one transaction per commit, honoring the
// changelog-extended-last rule the same way store.Repository.Commit does.

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/alitto/pond"
	"github.com/h2non/filetype"
	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/gorevlog/changelog"
	"github.com/rcowham/gorevlog/filelog"
	"github.com/rcowham/gorevlog/internal/version"
	"github.com/rcowham/gorevlog/manifest"
	"github.com/rcowham/gorevlog/revlog"
	"github.com/rcowham/gorevlog/transaction"
)

type pendingFile struct {
	path string
	delete bool
	mark int // blob mark for modify; unused for delete
	copy *filelog.CopyInfo
}

type pendingCommit struct {
	mark int
	ref string
	user string
	date string
	message string
	from string
	merges []string
	files []pendingFile
}

// importer replays one fast-export stream into a single repository
// store, tracking blob data by mark and each commit mark's resulting
// changelog node so later From/Merge references resolve.
type importer struct {
	logger *logrus.Logger

	cl *changelog.Changelog
	mf *manifest.Manifest
	fl map[string]*filelog.Filelog

	storeDir string

	blobs map[int][]byte
	markToNode map[int]revlog.Node
	manifests manifest.Entries

	pool *pond.WorkerPool

	commits int
	filesSeen int
}

func newImporter(storeDir string, logger *logrus.Logger, pool *pond.WorkerPool) (*importer, error) {
	cl, err := changelog.Open(storeDir+"/00changelog.i", storeDir+"/00changelog.d", revlog.DefaultOptions)
	if err != nil {
		return nil, err
	}
	mf, err := manifest.Open(storeDir+"/00manifest.i", storeDir+"/00manifest.d", revlog.DefaultOptions)
	if err != nil {
		cl.Close()
		return nil, err
	}
	return &importer{
		logger: logger,
		cl: cl,
		mf: mf,
		fl: make(map[string]*filelog.Filelog),
		storeDir: storeDir,
		blobs: make(map[int][]byte),
		markToNode: make(map[int]revlog.Node),
		manifests: make(manifest.Entries),
		pool: pool,
	}, nil
}

func (im *importer) close() {
	im.cl.Close()
	im.mf.Close()
	for _, fl := range im.fl {
		fl.Close()
	}
}

func (im *importer) filelogFor(path string) (*filelog.Filelog, error) {
	if fl, ok := im.fl[path]; ok {
		return fl, nil
	}
	base := filelog.EncodeStorePath(path)
	fl, err := filelog.Open(path, im.storeDir+"/"+base+".i", im.storeDir+"/"+base+".d", revlog.DefaultOptions)
	if err != nil {
		return nil, err
	}
	im.fl[path] = fl
	return fl, nil
}

func markFromRef(ref string) (int, bool) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, ":") {
		return 0, false
	}
	n, err := strconv.Atoi(ref[1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (im *importer) resolveParent(ref string) revlog.Node {
	if ref == "" {
		return revlog.NullID
	}
	if mark, ok := markFromRef(ref); ok {
		if n, ok := im.markToNode[mark]; ok {
			return n
		}
	}
	return revlog.NullID
}

// classify mirrors the teacher's setCompressionDetails: it only labels
// this blob's content class for the debug log; nothing is stored from it
// (merge.isBinary sniffs content on its own), and this store's flags word
// only encodes censorship, not content class.
func classify(content []byte) string {
	n := len(content)
	if n > 261 {
		n = 261
	}
	head := content[:n]
	switch {
	case filetype.IsImage(head), filetype.IsVideo(head), filetype.IsArchive(head), filetype.IsAudio(head):
		return "binary"
	case filetype.IsDocument(head):
		return "document"
	default:
		return "text"
	}
}

// classifyAll sniffs every modified blob in c concurrently on im.pool:
// classify only reads its own content slice and reports a result keyed
// by mark, so one file's sniff has nothing to wait on from another's —
// the same independent-unit shape as the teacher's SaveBlob/pool.Submit
// use, here applied to the per-commit fan-out instead of per-revision.
func (im *importer) classifyAll(c *pendingCommit) map[int]string {
	kinds := make(map[int]string, len(c.files))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, pf := range c.files {
		if pf.delete {
			continue
		}
		content, ok := im.blobs[pf.mark]
		if !ok {
			continue
		}
		mark := pf.mark
		wg.Add(1)
		im.pool.Submit(func() {
			defer wg.Done()
			kind := classify(content)
			mu.Lock()
			kinds[mark] = kind
			mu.Unlock()
		})
	}
	wg.Wait()
	return kinds
}

// applyCommit durably appends one changeset: every modified file's
// filelog revision, then the manifest snapshot, then the changelog entry
// last, inside its own transaction.
func (im *importer) applyCommit(c *pendingCommit, journalPath string) error {
	tr, err := transaction.Begin(journalPath, logrus.NewEntry(im.logger))
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tr.Abort()
		}
	}()

	p1node := im.resolveParent(c.from)
	p2node := revlog.NullID
	if len(c.merges) > 0 {
		p2node = im.resolveParent(c.merges[0])
	}
	p1rev, _ := im.cl.Revlog().RevOf(p1node)
	if p1node.IsNull() {
		p1rev = revlog.NullRev
	}
	p2rev, _ := im.cl.Revlog().RevOf(p2node)
	if p2node.IsNull() {
		p2rev = revlog.NullRev
	}

	futureClRev := revlog.RevNum(im.cl.Revlog().Len())
	var files []string
	kinds := im.classifyAll(c)

	for _, pf := range c.files {
		if pf.delete {
			delete(im.manifests, pf.path)
			files = append(files, pf.path)
			continue
		}
		content, ok := im.blobs[pf.mark]
		if !ok {
			im.logger.Warnf("fastimport: mark %d referenced but no blob buffered for %s", pf.mark, pf.path)
			continue
		}
		kind := kinds[pf.mark]
		im.logger.Debugf("fastimport: %s (%s, %d bytes)", pf.path, kind, len(content))

		fl, err := im.filelogFor(pf.path)
		if err != nil {
			return err
		}
		fp1 := revlog.NullRev
		if prev, ok := im.manifests[pf.path]; ok {
			if rev, ok := fl.Revlog().RevOf(prev.Node); ok {
				fp1 = rev
			}
		}
		_, fnode, err := fl.Add(fp1, revlog.NullRev, futureClRev, content, pf.copy, journalNoteFor(fl.Revlog(), tr))
		if err != nil {
			return err
		}
		im.manifests[pf.path] = manifest.Entry{Node: fnode}
		files = append(files, pf.path)
		delete(im.blobs, pf.mark)
	}

	_, mnode, err := im.mf.Add(im.manifests, p1rev, p2rev, futureClRev, journalNoteFor(im.mf.Revlog(), tr))
	if err != nil {
		return err
	}

	_, cnode, err := im.cl.Add(mnode, files, c.user, c.date, nil, c.message, p1rev, p2rev,
		journalNoteFor(im.cl.Revlog(), tr))
	if err != nil {
		return err
	}
	im.markToNode[c.mark] = cnode

	if err := tr.Commit(); err != nil {
		return err
	}
	committed = true
	im.commits++
	im.filesSeen += len(files)
	return nil
}

func journalNoteFor(rl *revlog.Revlog, tr *transaction.Transaction) func(int64, int64) {
	indexPath, dataPath := rl.Paths()
	return func(indexLen, dataLen int64) {
		tr.Note(indexPath, indexLen)
		if dataPath != "" {
			tr.Note(dataPath, dataLen)
		}
	}
}

func parseAuthor(raw string) (user, date string) {
	idx := strings.LastIndex(raw, ">")
	if idx < 0 {
		return raw, ""
	}
	user = strings.TrimSpace(raw[:idx+1])
	date = strings.TrimSpace(raw[idx+1:])
	return user, date
}

func (im *importer) run(r io.Reader, journalPath string, maxCommits int) error {
	f := libfastimport.NewFrontend(bufio.NewReader(r), nil, nil)
	var current *pendingCommit

	for {
		cmd, err := f.ReadCmd()
		if err != nil {
			if err != io.EOF {
				return fmt.Errorf("fastimport: reading command: %w", err)
			}
			break
		}
		switch v := cmd.(type) {
		case libfastimport.CmdBlob:
			im.blobs[v.Mark] = []byte(v.Data)
		case libfastimport.CmdReset:
			// Branch resets outside an active commit need no replay here;
			// this store tracks history by parent node, not by ref name.
		case libfastimport.CmdCommit:
			user, date := parseAuthor(fmt.Sprintf("%s <%s> %d", v.Author.Name, v.Author.Email, v.Author.Time.Unix()))
			current = &pendingCommit{
				mark: v.Mark, ref: v.Ref, user: user, date: date,
				message: v.Msg, from: v.From, merges: v.Merge,
			}
		case libfastimport.FileModify:
			if current == nil {
				continue
			}
			mark, ok := markFromRef(v.DataRef)
			if !ok {
				continue
			}
			current.files = append(current.files, pendingFile{path: string(v.Path), mark: mark})
		case libfastimport.FileDelete:
			if current == nil {
				continue
			}
			current.files = append(current.files, pendingFile{path: string(v.Path), delete: true})
		case libfastimport.FileRename:
			if current == nil {
				continue
			}
			src, dst := string(v.Src), string(v.Dst)
			if prev, ok := im.manifests[src]; ok {
				current.files = append(current.files,
					pendingFile{path: src, delete: true},
					pendingFile{path: dst, mark: -1, copy: &filelog.CopyInfo{Source: src, SourceRev: prev.Node}})
				// A rename with no accompanying blob reuses the source
				// content directly rather than going through im.blobs.
				if content, _, err := im.readManifestEntry(src); err == nil {
					current.files[len(current.files)-1].mark = im.bufferSynthetic(content)
				}
			}
		case libfastimport.FileCopy:
			if current == nil {
				continue
			}
			src, dst := string(v.Src), string(v.Dst)
			if prev, ok := im.manifests[src]; ok {
				if content, _, err := im.readManifestEntry(src); err == nil {
					mark := im.bufferSynthetic(content)
					current.files = append(current.files,
						pendingFile{path: dst, mark: mark, copy: &filelog.CopyInfo{Source: src, SourceRev: prev.Node}})
				}
			}
		case libfastimport.CmdCommitEnd:
			if current == nil {
				continue
			}
			if err := im.applyCommit(current, journalPath); err != nil {
				return err
			}
			current = nil
			if maxCommits > 0 && im.commits >= maxCommits {
				return nil
			}
		case libfastimport.CmdTag:
			// Tag objects have no changelog-level representation here.
		}
	}
	return nil
}

var syntheticMark = -1

func (im *importer) bufferSynthetic(content []byte) int {
	syntheticMark--
	im.blobs[syntheticMark] = content
	return syntheticMark
}

func (im *importer) readManifestEntry(path string) ([]byte, *filelog.CopyInfo, error) {
	ent, ok := im.manifests[path]
	if !ok {
		return nil, nil, fmt.Errorf("fastimport: %s not present in current manifest", path)
	}
	fl, err := im.filelogFor(path)
	if err != nil {
		return nil, nil, err
	}
	return fl.Read(revlog.ByNode(ent.Node))
}

func main() {
	var (
		storeDir = kingpin.Flag(
			"store",
			"Path to the repository's.hg/store directory (created if absent).",
		).Required().String()
		gitExport = kingpin.Arg(
			"gitexport",
			"Git fast-export file to replay (defaults to stdin).",
		).String()
		maxCommits = kingpin.Flag(
			"max.commits",
			"Stop after this many commits (0 means all).",
		).Default("0").Int()
		poolSize = kingpin.Flag(
			"workers",
			"Worker pool size for parallel blob preprocessing.",
		).Default("4").Int()
		profileFlag = kingpin.Flag(
			"profile",
			"Enable CPU profiling for the duration of the import.",
		).Bool()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Default("0").Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("fastimport")).Author("gorevlog")
	kingpin.CommandLine.Help = "Replays a git fast-export stream into a repository store\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	logger.Infof("%v", version.Print("fastimport"))

	if *profileFlag {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	if err := os.MkdirAll(*storeDir, 0755); err != nil {
		logger.Error(err)
		os.Exit(1)
	}

	pool := pond.New(*poolSize, 0, pond.MinWorkers(1))
	defer pool.StopAndWait()

	im, err := newImporter(*storeDir, logger, pool)
	if err != nil {
		logger.Error(err)
		os.Exit(1)
	}
	defer im.close()

	var in io.Reader = os.Stdin
	if *gitExport != "" {
		file, err := os.Open(*gitExport)
		if err != nil {
			logger.Error(err)
			os.Exit(1)
		}
		defer file.Close()
		in = file
	}

	journalPath := *storeDir + "/journal"
	if err := im.run(in, journalPath, *maxCommits); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
	logger.Infof("imported %d commits touching %d files", im.commits, im.filesSeen)
}
