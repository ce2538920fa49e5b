package revlog

import "github.com/rcowham/gorevlog/errs"

// ResolvePrefix disambiguates a short hex node prefix against the index.
// ParseNode only zero-pads a short hex string without consulting any
// index; resolving a prefix against a live index is what this does instead.
func (rl *Revlog) ResolvePrefix(prefix string) (RevNum, error) {
	if len(prefix) < 4 {
		return 0, errs.New(errs.Usage, "revlog.ResolvePrefix", "prefix too short to disambiguate")
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	var match RevNum = -1
	found := 0
	for i, e := range rl.entries {
		s := e.Node.String()
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			match = RevNum(i)
			found++
			if found > 1 {
				return 0, errs.New(errs.Usage, "revlog.ResolvePrefix", "ambiguous node prefix "+prefix)
			}
		}
	}
	if found == 0 {
		return 0, errs.New(errs.Usage, "revlog.ResolvePrefix", "no match for node prefix "+prefix)
	}
	return match, nil
}
