// Package transaction implements the rollback journal that every
// multi-revlog write passes through: a sequential record of each
// touched file's pre-transaction length, replayed to truncate everything
// back to its starting point if the transaction aborts before Commit.
package transaction

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rcowham/gorevlog/errs"
)

// record is one "<path> <original-length>\n" line, written the first time
// a path is touched during the transaction (subsequent touches of the same
// path do not re-record, since the first length is the one to roll back to).
type record struct {
	path string
	size int64
}

// Transaction accumulates a rollback journal for a set of files while a
// logical unit of work is in flight, and commits or aborts them together.
type Transaction struct {
	journalPath string
	w *os.File
	seen map[string]bool
	records []record
	done bool
	log *logrus.Entry
}

// Begin creates the on-disk journal file at journalPath and returns a
// Transaction ready to accept Note calls. A journal left behind by a prior
// crash should be passed to Recover instead of Begin.
func Begin(journalPath string, log *logrus.Entry) (*Transaction, error) {
	f, err := os.OpenFile(journalPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "transaction.Begin", "create journal", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transaction{journalPath: journalPath, w: f, seen: make(map[string]bool), log: log}, nil
}

// Note records path's length as of just before this transaction first
// touches it. Called by store before any AppendRevision/Strip/Censor call
// that extends or rewrites a revlog file; callers are expected to Note the
// changelog after every other touched file.
func (t *Transaction) Note(path string, preSize int64) error {
	if t.done {
		return errs.New(errs.Usage, "transaction.Note", "transaction already finished")
	}
	if t.seen[path] {
		return nil
	}
	t.seen[path] = true
	t.records = append(t.records, record{path: path, size: preSize})
	line := fmt.Sprintf("%s %d\n", path, preSize)
	if _, err := t.w.WriteString(line); err != nil {
		return errs.Wrap(errs.Resource, "transaction.Note", "append journal record", err)
	}
	return t.w.Sync()
}

// Commit finalizes the transaction: the journal file is removed since
// there is nothing left to roll back.
func (t *Transaction) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.w.Close(); err != nil {
		return errs.Wrap(errs.Resource, "transaction.Commit", "close journal", err)
	}
	if err := os.Remove(t.journalPath); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.Resource, "transaction.Commit", "remove journal", err)
	}
	t.log.Debug("transaction committed")
	return nil
}

// Abort truncates every touched file back to its recorded pre-transaction
// length, in reverse note order, then removes the journal.
func (t *Transaction) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.w.Close(); err != nil {
		return errs.Wrap(errs.Resource, "transaction.Abort", "close journal", err)
	}
	for i := len(t.records) - 1; i >= 0; i-- {
		r := t.records[i]
		if err := truncateTo(r.path, r.size); err != nil {
			return err
		}
	}
	if err := os.Remove(t.journalPath); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.Resource, "transaction.Abort", "remove journal", err)
	}
	t.log.WithField("files", len(t.records)).Warn("transaction aborted, rolled back")
	return nil
}

func truncateTo(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		if os.IsNotExist(err) && size == 0 {
			return nil
		}
		return errs.Wrap(errs.Resource, "transaction.truncateTo", "open "+path, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return errs.Wrap(errs.Resource, "transaction.truncateTo", "truncate "+path, err)
	}
	return nil
}

// Recover replays a journal file left behind by a process that crashed
// mid-transaction, truncating every recorded file back to its noted
// length, then removes the journal. Safe to call on a journal path that
// does not exist.
func Recover(journalPath string, log *logrus.Entry) error {
	f, err := os.Open(journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.Resource, "transaction.Recover", "open journal", err)
	}
	defer f.Close()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	var recs []record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx := strings.LastIndexByte(line, ' ')
		if idx < 0 {
			return errs.New(errs.Integrity, "transaction.Recover", "malformed journal record: "+line)
		}
		size, err := strconv.ParseInt(line[idx+1:], 10, 64)
		if err != nil {
			return errs.Wrap(errs.Integrity, "transaction.Recover", "malformed journal size", err)
		}
		recs = append(recs, record{path: line[:idx], size: size})
	}
	if err := scanner.Err(); err != nil {
		return errs.Wrap(errs.Resource, "transaction.Recover", "scan journal", err)
	}

	for i := len(recs) - 1; i >= 0; i-- {
		if err := truncateTo(recs[i].path, recs[i].size); err != nil {
			return err
		}
	}
	log.WithField("files", len(recs)).Warn("recovered incomplete transaction")
	return os.Remove(journalPath)
}
