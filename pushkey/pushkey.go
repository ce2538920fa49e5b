// Package pushkey implements the generic typed side channel used for
// repository metadata that must not go through the revlog machinery —
// phases, bookmarks, and the like: a compare-and-swap keyed store,
// plus the bounded probabilistic ancestor-sampling discovery protocol
// push/pull use to negotiate what history to exchange.
package pushkey

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rcowham/gorevlog/errs"
	"github.com/rcowham/gorevlog/revlog"
)

// Store is a namespaced (namespace, key) -> value table with
// compare-and-swap semantics, persisted as one flat file per namespace
// under the store directory.
type Store struct {
	mu sync.Mutex
	dir string
}

// Open returns a Store rooted at dir (typically "<repo>/.hg/store/pushkey"),
// creating the directory if absent.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrap(errs.Resource, "pushkey.Open", "create pushkey dir", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(ns string) string {
	return filepath.Join(s.dir, ns)
}

func (s *Store) load(ns string) (map[string]string, error) {
	f, err := os.Open(s.path(ns))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, errs.Wrap(errs.Resource, "pushkey.load", "open "+ns, err)
	}
	defer f.Close()

	vals := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		idx := strings.IndexByte(line, '\t')
		if idx < 0 {
			continue
		}
		vals[line[:idx]] = line[idx+1:]
	}
	if err := sc.Err(); err != nil {
		return nil, errs.Wrap(errs.Resource, "pushkey.load", "scan "+ns, err)
	}
	return vals, nil
}

func (s *Store) save(ns string, vals map[string]string) error {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tmp, err := os.CreateTemp(s.dir, ".pushkey-tmp-*")
	if err != nil {
		return errs.Wrap(errs.Resource, "pushkey.save", "create temp file", err)
	}
	tmpName := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, vals[k])
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.Resource, "pushkey.save", "flush temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.Resource, "pushkey.save", "close temp file", err)
	}
	if err := os.Rename(tmpName, s.path(ns)); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.Resource, "pushkey.save", "rename temp file", err)
	}
	return nil
}

// Get reads the current value of key in namespace ns; ok is false if unset.
func (s *Store) Get(ns, key string) (value string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals, err := s.load(ns)
	if err != nil {
		return "", false, err
	}
	v, ok := vals[key]
	return v, ok, nil
}

// Push performs a compare-and-swap: key's current value must equal old
// (the empty string standing for "absent") or Push fails without
// modifying anything. Returns true on success.
func (s *Store) Push(ns, key, old, new string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals, err := s.load(ns)
	if err != nil {
		return false, err
	}
	cur := vals[key]
	if cur != old {
		return false, nil
	}
	if new == "" {
		delete(vals, key)
	} else {
		vals[key] = new
	}
	if err := s.save(ns, vals); err != nil {
		return false, err
	}
	return true, nil
}

// List returns every key/value pair currently set in namespace ns.
func (s *Store) List(ns string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ns)
}

// HeadProvider is the narrow capability Discovery needs from a peer
// (local or remote): its current head node set and, for any node it
// holds, that node's immediate parents. A remote peer implements this
// over whatever transport it speaks; the core only consumes the
// interface, keeping transport front-ends thin.
type HeadProvider interface {
	Heads() ([]revlog.Node, error)
	Known(nodes []revlog.Node) ([]bool, error)
	Parents(node revlog.Node) ([]revlog.Node, error)
}

// sampleSize bounds how many candidate nodes one discovery round asks
// about; a tuning constant, not semantics, mirroring the revlog inline
// threshold open question.
const sampleSize = 200

// Discovery runs a bounded-round probabilistic ancestor-sampling
// protocol: repeatedly sample undecided nodes, ask the remote which it
// already has, and narrow the frontier until it is tight or the round
// budget is exhausted. On exhaustion it degrades gracefully, treating
// every still-undecided node as missing rather than risk omitting a
// revision the remote actually needs.
type Discovery struct {
	maxRounds int
}

// NewDiscovery returns a Discovery bounded to maxRounds sampling rounds;
// maxRounds<=0 uses a sensible default.
func NewDiscovery(maxRounds int) *Discovery {
	if maxRounds <= 0 {
		maxRounds = 10
	}
	return &Discovery{maxRounds: maxRounds}
}

// Sample negotiates the common ancestor set between local and remote,
// returning every node both sides agree on. It never returns a node the
// remote does not actually have (correctness), but may omit some common
// nodes if the round budget runs out first (bandwidth-bounded
// degradation), since the caller (changegroup encode) only needs a
// common set that is a subset of the truth, not the maximal one.
func (d *Discovery) Sample(local, remote HeadProvider) (common []revlog.Node, err error) {
	localHeads, err := local.Heads()
	if err != nil {
		return nil, errs.Wrap(errs.Capability, "pushkey.Sample", "read local heads", err)
	}
	remoteHeads, err := remote.Heads()
	if err != nil {
		return nil, errs.Wrap(errs.Capability, "pushkey.Sample", "read remote heads", err)
	}

	undecided := map[revlog.Node]bool{}
	known := map[revlog.Node]bool{}
	for _, h := range localHeads {
		undecided[h] = true
	}

	frontier := append([]revlog.Node{}, localHeads...)
	_ = remoteHeads
	for round := 0; round < d.maxRounds && len(frontier) > 0; round++ {
		sample := frontier
		if len(sample) > sampleSize {
			rand.Shuffle(len(frontier), func(i, j int) { frontier[i], frontier[j] = frontier[j], frontier[i] })
			sample = sample[:sampleSize]
		}
		have, err := remote.Known(sample)
		if err != nil {
			return nil, errs.Wrap(errs.Capability, "pushkey.Sample", "query remote Known", err)
		}
		var next []revlog.Node
		for i, n := range sample {
			delete(undecided, n)
			if i < len(have) && have[i] {
				known[n] = true
				continue
			}
			// Not common; its parents might still be, so keep exploring
			// backward from here next round.
			parents, err := local.Parents(n)
			if err != nil {
				continue
			}
			for _, p := range parents {
				if !p.IsNull() && !known[p] {
					next = append(next, p)
				}
			}
		}
		frontier = frontier[len(sample):]
		frontier = append(frontier, next...)
	}

	for n := range known {
		common = append(common, n)
	}
	sort.Slice(common, func(i, j int) bool { return common[i].Less(common[j]) })
	return common, nil
}
