// Package match implements pattern-based path selection over the working
// directory and manifests: include/exclude pattern sets compiled
// from glob/regexp/path/relpath syntax, and a lazy walk over a declared
// file set or a directory tree.
package match

import (
	"regexp"
	"strings"

	"github.com/rcowham/gorevlog/errs"
)

// Kind names a pattern's syntax.
type Kind int

const (
	KindGlob Kind = iota
	KindRegexp
	KindPath // exact path match
	KindRelPath // Text itself plus everything under it, matched against repository-root paths; no working-directory prefix is applied
)

// Pattern is one include/exclude pattern with its kind and raw text.
type Pattern struct {
	Kind Kind
	Text string
}

// compiled is a Pattern reduced to a predicate.
type compiled struct {
	match func(path string) bool
}

// Matcher decides whether a repository path is selected.
type Matcher interface {
	Match(path string) bool
	// Visit returns a fixed file set to check in place of a full walk,
	// when the matcher is precise enough to name every candidate, and
	// whether that set is usable (false when any pattern is not an
	// exact KindPath).
	Visit() ([]string, bool)
}

type matcher struct {
	includes []compiled
	excludes []compiled
	visit []string
	canVisit bool
	relpathRoots []string
	canRelpath bool
}

// NewMatcher compiles an include/exclude pattern set into a Matcher. A
// path is selected when (includes empty OR any include matches) AND NOT
// any exclude matches.
func NewMatcher(includes, excludes []Pattern) (Matcher, error) {
	m := &matcher{canVisit: len(excludes) == 0, canRelpath: len(excludes) == 0}
	for _, p := range includes {
		c, err := compile(p)
		if err != nil {
			return nil, err
		}
		m.includes = append(m.includes, c)
		if p.Kind == KindPath {
			m.visit = append(m.visit, p.Text)
		} else {
			m.canVisit = false
		}
		if p.Kind == KindRelPath {
			m.relpathRoots = append(m.relpathRoots, strings.TrimSuffix(p.Text, "/"))
		} else {
			m.canRelpath = false
		}
	}
	for _, p := range excludes {
		c, err := compile(p)
		if err != nil {
			return nil, err
		}
		m.excludes = append(m.excludes, c)
	}
	if len(includes) == 0 {
		m.canVisit = false
		m.canRelpath = false
	}
	return m, nil
}

// VisitDirs returns the relpath pattern roots when every include pattern
// is a KindRelPath pattern and there are no excludes, letting Walk narrow
// its tracked-file scan to those subdirectories instead of testing every
// path in the dirstate.
func (m *matcher) VisitDirs() ([]string, bool) {
	if !m.canRelpath {
		return nil, false
	}
	return m.relpathRoots, true
}

// escapesRoot reports whether an explicit path pattern could resolve
// outside the repository root: an absolute path, or any "." / ".."
// segment.
func escapesRoot(text string) bool {
	if strings.HasPrefix(text, "/") {
		return true
	}
	for _, seg := range strings.Split(text, "/") {
		if seg == ".." || seg == "." {
			return true
		}
	}
	return false
}

func compile(p Pattern) (compiled, error) {
	switch p.Kind {
	case KindPath:
		if escapesRoot(p.Text) {
			return compiled{}, errs.New(errs.Usage, "match.compile", "path escapes repository root: "+p.Text)
		}
		text := p.Text
		return compiled{match: func(path string) bool { return path == text }}, nil
	case KindRelPath:
		if escapesRoot(p.Text) {
			return compiled{}, errs.New(errs.Usage, "match.compile", "path escapes repository root: "+p.Text)
		}
		prefix := strings.TrimSuffix(p.Text, "/") + "/"
		text := p.Text
		return compiled{match: func(path string) bool {
			return path == text || strings.HasPrefix(path, prefix)
		}}, nil
	case KindGlob:
		re, err := globToRegexp(p.Text)
		if err != nil {
			return compiled{}, errs.Wrap(errs.Usage, "match.compile", "bad glob "+p.Text, err)
		}
		return compiled{match: re.MatchString}, nil
	case KindRegexp:
		re, err := regexp.Compile(p.Text)
		if err != nil {
			return compiled{}, errs.Wrap(errs.Usage, "match.compile", "bad regexp "+p.Text, err)
		}
		return compiled{match: re.MatchString}, nil
	default:
		return compiled{}, errs.New(errs.Usage, "match.compile", "unknown pattern kind")
	}
}

// globToRegexp compiles a shell-glob-style pattern (`*`, `?`, `**`) into
// an anchored regexp over repository paths ('/'-separated, no backslashes).
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// Match implements Matcher.
func (m *matcher) Match(path string) bool {
	selected := len(m.includes) == 0
	for _, c := range m.includes {
		if c.match(path) {
			selected = true
			break
		}
	}
	if !selected {
		return false
	}
	for _, c := range m.excludes {
		if c.match(path) {
			return false
		}
	}
	return true
}

// Visit implements Matcher.
func (m *matcher) Visit() ([]string, bool) {
	if !m.canVisit {
		return nil, false
	}
	return m.visit, true
}
