// Package store implements the Repository context: the central owner of
// the changelog, manifest, per-path filelogs, and dirstate, handing out
// narrow capability views to subsystems that need to reach each other
// (merge, dirstate.Status, match.Walk) instead of those subsystems
// holding back-pointers into one another. It also enforces the two
// cross-cutting invariants that require knowing about every subsystem at
// once: lock acquisition order (store lock before working-copy lock) and
// "changelog extended last" within a transaction.
package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rcowham/gorevlog/changegroup"
	"github.com/rcowham/gorevlog/changelog"
	"github.com/rcowham/gorevlog/config"
	"github.com/rcowham/gorevlog/dirstate"
	"github.com/rcowham/gorevlog/errs"
	"github.com/rcowham/gorevlog/filelog"
	"github.com/rcowham/gorevlog/lock"
	"github.com/rcowham/gorevlog/manifest"
	"github.com/rcowham/gorevlog/merge"
	"github.com/rcowham/gorevlog/revlog"
	"github.com/rcowham/gorevlog/transaction"
)

// Layout names the fixed on-disk paths under a repository root.
const (
	dotDir = ".hg"
	requiresFile = "requires"
	storeDir = "store"
	changelogBase = "00changelog"
	manifestBase = "00manifest"
	dirstateFile = "dirstate"
	branchFile = "branch"
	lockFile = "lock"
	wlockFile = "wlock"
	journalFile = "journal"
	lastMessageFile = "last-message.txt"
	stripBackupDir = "strip-backup"
	pushkeyDir = "pushkey"
	mergestateFile = "merge/state"
)

// Repository owns every on-disk subsystem for one working copy, by
// value: no subsystem stores a pointer back to the Repository.
type Repository struct {
	root string
	log *logrus.Entry
	cfg *config.Config

	Changelog *changelog.Changelog
	Manifest *manifest.Manifest
	Dirstate *dirstate.Dirstate

	wd *osWorkingDir

	filelogs map[string]*filelog.Filelog

	storeLock *lock.Lock
	wlock *lock.Lock

	Hooks *HookChain
}

func (r *Repository) hgPath(parts ...string) string {
	return filepath.Join(append([]string{r.root, dotDir}, parts...)...)
}

// Init creates a new, empty repository at root, writing the
// requires file and an empty changelog/manifest/dirstate.
func Init(root string, cfg *config.Config, log *logrus.Logger) (*Repository, error) {
	if cfg == nil {
		cfg, _ = config.Unmarshal(nil)
	}
	dirs := []string{
		filepath.Join(root, dotDir, storeDir, "data"),
		filepath.Join(root, dotDir, storeDir, "dh"),
		filepath.Join(root, dotDir, storeDir, pushkeyDir),
		filepath.Join(root, dotDir, stripBackupDir),
		filepath.Join(root, dotDir, "merge"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, errs.Wrap(errs.Resource, "store.Init", "create "+d, err)
		}
	}
	requiresPath := filepath.Join(root, dotDir, requiresFile)
	if _, err := os.Stat(requiresPath); os.IsNotExist(err) {
		if err := os.WriteFile(requiresPath, []byte("revlogv1\n"), 0644); err != nil {
			return nil, errs.Wrap(errs.Resource, "store.Init", "write requires", err)
		}
	}
	return Open(root, cfg, log)
}

// Open opens an existing repository at root, recovering any transaction
// journal left behind by a prior crash before anything else touches the
// store.
func Open(root string, cfg *config.Config, log *logrus.Logger) (*Repository, error) {
	if log == nil {
		log = logrus.New()
	}
	entry := logrus.NewEntry(log)

	requiresPath := filepath.Join(root, dotDir, requiresFile)
	if data, err := os.ReadFile(requiresPath); err == nil {
		if err := checkRequires(data); err != nil {
			return nil, err
		}
	}

	journalPath := filepath.Join(root, dotDir, journalFile)
	if err := transaction.Recover(journalPath, entry); err != nil {
		return nil, err
	}

	r := &Repository{
		root: root,
		log: entry,
		cfg: cfg,
		wd: newOSWorkingDir(root),
		filelogs: make(map[string]*filelog.Filelog),
		Hooks: NewHookChain(),
	}

	cl, err := changelog.Open(
		filepath.Join(root, dotDir, storeDir, changelogBase+".i"),
		filepath.Join(root, dotDir, storeDir, changelogBase+".d"),
		revlog.DefaultOptions,
	)
	if err != nil {
		return nil, err
	}
	r.Changelog = cl

	mf, err := manifest.Open(
		filepath.Join(root, dotDir, storeDir, manifestBase+".i"),
		filepath.Join(root, dotDir, storeDir, manifestBase+".d"),
		revlog.DefaultOptions,
	)
	if err != nil {
		cl.Close()
		return nil, err
	}
	r.Manifest = mf

	ds, err := dirstate.Load(filepath.Join(root, dotDir, dirstateFile))
	if err != nil {
		cl.Close()
		mf.Close()
		return nil, err
	}
	r.Dirstate = ds

	r.storeLock = lock.New(filepath.Join(root, dotDir, lockFile))
	r.wlock = lock.New(filepath.Join(root, dotDir, wlockFile))
	return r, nil
}

func checkRequires(data []byte) error {
	known := map[string]bool{"revlogv1": true, "store": true, "fncache": true}
	for _, line := range splitLines(string(data)) {
		if line == "" {
			continue
		}
		if !known[line] {
			return errs.New(errs.Capability, "store.checkRequires", "unknown repository feature: "+line)
		}
	}
	return nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// Close releases every open file handle.
func (r *Repository) Close() error {
	var err error
	if r.Changelog != nil {
		err = r.Changelog.Close()
	}
	if r.Manifest != nil {
		if e := r.Manifest.Close(); err == nil {
			err = e
		}
	}
	for _, fl := range r.filelogs {
		if e := fl.Close(); err == nil {
			err = e
		}
	}
	return err
}

// AcquireLocks acquires the store lock and then the working-copy lock.
// Store lock is always acquired before working-directory lock when both
// are needed. Release always happens in the reverse order.
func (r *Repository) AcquireLocks(ctx context.Context) error {
	if err := r.storeLock.Acquire(ctx, lock.DefaultTimeout); err != nil {
		return err
	}
	if err := r.wlock.Acquire(ctx, lock.DefaultTimeout); err != nil {
		r.storeLock.Release()
		return err
	}
	return nil
}

// ReleaseLocks releases the working-copy lock and then the store lock.
func (r *Repository) ReleaseLocks() {
	r.wlock.Release()
	r.storeLock.Release()
}

// Filelog opens (and caches) the filelog backing path, routing through
// the path-encoding scheme.
func (r *Repository) Filelog(path string) (*filelog.Filelog, error) {
	if fl, ok := r.filelogs[path]; ok {
		return fl, nil
	}
	base := filelog.EncodeStorePath(path)
	indexPath := filepath.Join(r.root, dotDir, storeDir, base+".i")
	dataPath := filepath.Join(r.root, dotDir, storeDir, base+".d")
	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		return nil, errs.Wrap(errs.Resource, "store.Filelog", "create filelog dir", err)
	}
	fl, err := filelog.Open(path, indexPath, dataPath, revlog.DefaultOptions)
	if err != nil {
		return nil, err
	}
	r.filelogs[path] = fl
	return fl, nil
}

// filelogLookup adapts Repository to the narrow Open(path) interfaces
// merge.Plan and changegroup.EncodeRange/Apply expect, without exposing
// the rest of Repository's surface to those packages.
type filelogLookup struct{ r *Repository }

func (f filelogLookup) Open(path string) (*filelog.Filelog, error) { return f.r.Filelog(path) }

// AsFileLookup returns the capability view merge.Plan needs.
func (r *Repository) AsFileLookup() merge.FileLookup { return filelogLookup{r} }

// AsFilelogOpener returns the capability view changegroup.EncodeRange/
// Apply need.
func (r *Repository) AsFilelogOpener() changegroup.FilelogOpener { return filelogLookup{r} }

// ReadAtP1 implements dirstate.FilelogOpener: the content of path as of
// the working directory's first parent.
func (r *Repository) ReadAtP1(path string) ([]byte, error) {
	entries, err := r.manifestAt(r.Dirstate.P1)
	if err != nil {
		return nil, err
	}
	ent, ok := entries[path]
	if !ok {
		return nil, errs.New(errs.Usage, "store.ReadAtP1", path+" not present in p1 manifest")
	}
	fl, err := r.Filelog(path)
	if err != nil {
		return nil, err
	}
	content, _, err := fl.Read(revlog.ByNode(ent.Node))
	return content, err
}

func (r *Repository) manifestAt(node revlog.Node) (manifest.Entries, error) {
	if node.IsNull() {
		return manifest.Entries{}, nil
	}
	cs, err := r.Changelog.Read(revlog.ByNode(node))
	if err != nil {
		return nil, err
	}
	return r.Manifest.Read(revlog.ByNode(cs.Manifest))
}

// Status compares the working directory to the dirstate.
func (r *Repository) Status() (*dirstate.Status, error) {
	return r.Dirstate.Status(r.wd, r, r.cfg)
}

// WorkingDir exposes the OS-backed filesystem view for match.Walk callers.
func (r *Repository) WorkingDir() *osWorkingDir { return r.wd }

// journalNoteFor returns a note callback that journals both of rl's
// files against tr, suitable as a revlog AppendRevision journalNote.
func journalNoteFor(rl *revlog.Revlog, tr *transaction.Transaction) func(int64, int64) {
	indexPath, dataPath := rl.Paths()
	return func(indexLen, dataLen int64) {
		tr.Note(indexPath, indexLen)
		if dataPath != "" {
			tr.Note(dataPath, dataLen)
		}
	}
}

// modeFlag maps a WorkingDirFS mode word to the manifest flag it implies
// (empty, 'x' executable, 'l' symlink).
func modeFlag(mode uint32) manifest.Flag {
	switch {
	case mode == uint32(os.ModeSymlink):
		return manifest.FlagSymlink
	case mode&0o111 != 0:
		return manifest.FlagExecutable
	default:
		return manifest.FlagNone
	}
}

// Commit builds a new changeset from the current working-directory
// changes (per Status), appending filelog revisions, a manifest
// snapshot, and finally the changelog entry — in that order, inside one
// transaction, so the changelog-extended-last rule holds and a crash
// never leaves the changelog pointing at a manifest that doesn't fully
// exist. Refuses while any merge path is unresolved.
func (r *Repository) Commit(user, message string, extras map[string]string, date string) (revlog.Node, error) {
	ctx := context.Background()
	if err := r.AcquireLocks(ctx); err != nil {
		return revlog.NullID, err
	}
	defer r.ReleaseLocks()

	msPath := r.hgPath(mergestateFile)
	ms, err := merge.Load(msPath)
	if err != nil {
		return revlog.NullID, err
	}
	if err := ms.CheckCommittable(); err != nil {
		return revlog.NullID, err
	}

	st, err := r.Status()
	if err != nil {
		return revlog.NullID, err
	}
	changed := append(append([]string{}, st.Added...), st.Modified...)
	sort.Strings(changed)
	removed := append([]string{}, st.Removed...)
	sort.Strings(removed)

	if len(changed) == 0 && len(removed) == 0 && !r.Dirstate.P2.IsNull() {
		// A pending merge with no further content changes still produces
		// a two-parent changeset recording the merge itself.
	} else if len(changed) == 0 && len(removed) == 0 {
		return revlog.NullID, errs.New(errs.Semantic, "store.Commit", "nothing to commit")
	}

	parentEntries, err := r.manifestAt(r.Dirstate.P1)
	if err != nil {
		return revlog.NullID, err
	}
	newEntries := make(manifest.Entries, len(parentEntries))
	for p, e := range parentEntries {
		newEntries[p] = e
	}

	tr, err := transaction.Begin(r.hgPath(journalFile), r.log)
	if err != nil {
		return revlog.NullID, err
	}
	committed := false
	defer func() {
		if !committed {
			tr.Abort()
		}
	}()

	p1rev, p2rev := r.parentRevs()
	futureClRev := revlog.RevNum(r.Changelog.Revlog().Len())
	var allFiles []string
	for _, path := range changed {
		content, err := r.wd.ReadFile(path)
		if err != nil {
			return revlog.NullID, errs.Wrap(errs.Resource, "store.Commit", "read "+path, err)
		}
		mode, _, _, _ := r.wd.Stat(path)
		fl, err := r.Filelog(path)
		if err != nil {
			return revlog.NullID, err
		}
		fp1 := revlog.NullRev
		if prev, ok := parentEntries[path]; ok {
			if rev, ok := fl.Revlog().RevOf(prev.Node); ok {
				fp1 = rev
			}
		}
		var copyInfo *filelog.CopyInfo
		if src, ok := r.Dirstate.Copies[path]; ok {
			if srcEnt, ok := parentEntries[src]; ok {
				copyInfo = &filelog.CopyInfo{Source: src, SourceRev: srcEnt.Node}
			}
		}
		_, fnode, err := fl.Add(fp1, revlog.NullRev, futureClRev, content, copyInfo, journalNoteFor(fl.Revlog(), tr))
		if err != nil {
			return revlog.NullID, err
		}
		newEntries[path] = manifest.Entry{Node: fnode, Flag: modeFlag(mode)}
		allFiles = append(allFiles, path)
	}
	for _, path := range removed {
		delete(newEntries, path)
		allFiles = append(allFiles, path)
	}
	sort.Strings(allFiles)

	_, mnode, err := r.Manifest.Add(newEntries, p1rev, p2rev, futureClRev, journalNoteFor(r.Manifest.Revlog(), tr))
	if err != nil {
		return revlog.NullID, err
	}

	if err := r.Hooks.Fire(HookArgs{Event: EventPreTxnCommit}); err != nil {
		return revlog.NullID, err
	}

	_, cnode, err := r.Changelog.Add(mnode, allFiles, user, date, extras, message, p1rev, p2rev,
		journalNoteFor(r.Changelog.Revlog(), tr))
	if err != nil {
		return revlog.NullID, err
	}

	if err := tr.Commit(); err != nil {
		return revlog.NullID, err
	}
	committed = true

	r.Dirstate.P1 = cnode
	r.Dirstate.P2 = revlog.NullID
	for _, path := range changed {
		mode, size, mtime, _ := r.wd.Stat(path)
		if mtime >= touchedMtime() {
			mtime = -1 // written this second: force a content check on the next Status
		}
		r.Dirstate.Normal(path, mode, size, mtime)
	}
	for _, path := range removed {
		r.Dirstate.Forget(path)
	}
	if err := r.Dirstate.Save(r.hgPath(dirstateFile)); err != nil {
		return revlog.NullID, err
	}
	if err := os.WriteFile(r.hgPath(lastMessageFile), []byte(message), 0644); err != nil {
		r.log.WithError(err).Warn("failed to write last-message.txt backup")
	}
	if err := merge.Clear(msPath); err != nil {
		return revlog.NullID, err
	}

	if err := r.Hooks.Fire(HookArgs{Event: EventCommit, Nodes: []string{cnode.String()}}); err != nil {
		r.log.WithError(err).Warn("commit hook reported a failure after commit already landed")
	}

	return cnode, nil
}

func (r *Repository) parentRevs() (p1, p2 revlog.RevNum) {
	p1, p2 = revlog.NullRev, revlog.NullRev
	if rev, ok := r.Changelog.Revlog().RevOf(r.Dirstate.P1); ok {
		p1 = rev
	}
	if rev, ok := r.Changelog.Revlog().RevOf(r.Dirstate.P2); ok {
		p2 = rev
	}
	return p1, p2
}

// Mergestate loads the persisted merge-in-progress record, if any.
func (r *Repository) Mergestate() (*merge.Mergestate, error) {
	return merge.Load(r.hgPath(mergestateFile))
}

// SaveMergestate persists ms as the repository's merge-in-progress record.
func (r *Repository) SaveMergestate(ms *merge.Mergestate) error {
	return ms.Save(r.hgPath(mergestateFile))
}

// Strip truncates rl back to keepRev, backing up the stripped revisions
// as a changegroup bundle under strip-backup/ first, and requires both
// locks — which this method itself acquires, since it is the one
// destructive rewrite allowed to need both at once.
func (r *Repository) Strip(keepRev revlog.RevNum) error {
	ctx := context.Background()
	if err := r.AcquireLocks(ctx); err != nil {
		return err
	}
	defer r.ReleaseLocks()

	rl := r.Changelog.Revlog()
	if int(keepRev)+1 >= rl.Len() {
		return nil
	}
	tip := revlog.RevNum(rl.Len() - 1)
	keepNode, err := nodeOrNull(rl, keepRev)
	if err != nil {
		return err
	}
	tipNode, err := rl.NodeOf(tip)
	if err != nil {
		return err
	}

	backup := func(firstStripped revlog.RevNum) error {
		if err := os.MkdirAll(r.hgPath(stripBackupDir), 0755); err != nil {
			return err
		}
		name := filepath.Join(r.hgPath(stripBackupDir), "backup-"+tipNode.Short()+".hg")
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = changegroup.EncodeRange(r.Changelog, r.Manifest, r.AsFilelogOpener(),
			[]revlog.Node{tipNode}, []revlog.Node{keepNode}, changegroup.VersionV2, changegroup.WrapperGzip, f)
		return err
	}

	tr, err := transaction.Begin(r.hgPath(journalFile), r.log)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tr.Abort()
		}
	}()

	if err := rl.Strip(keepRev, backup, journalNoteFor(rl, tr)); err != nil {
		return err
	}
	if err := tr.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func nodeOrNull(rl *revlog.Revlog, rev revlog.RevNum) (revlog.Node, error) {
	if rev == revlog.NullRev {
		return revlog.NullID, nil
	}
	return rl.NodeOf(rev)
}

// Verify walks every revlog (changelog, manifest, every known filelog)
// recomputing hashes, and cross-checking that every changelog entry's
// manifest exists, and every (path, filenode) it names exists in that
// path's filelog.
func (r *Repository) Verify() []error {
	var problems []error
	for _, e := range r.Changelog.Revlog().Verify() {
		problems = append(problems, e)
	}
	for _, e := range r.Manifest.Revlog().Verify() {
		problems = append(problems, e)
	}

	tip := r.Changelog.Tip()
	if tip == revlog.NullRev {
		return problems
	}
	verified := map[string]bool{}
	for rev := revlog.RevNum(0); rev <= tip; rev++ {
		cs, err := r.Changelog.Read(revlog.ByRev(rev))
		if err != nil {
			problems = append(problems, err)
			continue
		}
		entries, err := r.Manifest.Read(revlog.ByNode(cs.Manifest))
		if err != nil {
			problems = append(problems, errs.Wrap(errs.Integrity, "store.Verify", "missing manifest for changelog rev", err))
			continue
		}
		for path, ent := range entries {
			fl, err := r.Filelog(path)
			if err != nil {
				problems = append(problems, err)
				continue
			}
			if !verified[path] {
				verified[path] = true
				for _, e := range fl.Revlog().Verify() {
					problems = append(problems, e)
				}
			}
			if _, ok := fl.Revlog().RevOf(ent.Node); !ok {
				problems = append(problems, errs.New(errs.Integrity, "store.Verify", "filenode missing from filelog: "+path))
			}
		}
	}
	return problems
}
