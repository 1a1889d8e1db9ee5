// Package query implements the default Query evaluator: a fuzzy,
// case-insensitive match over an entry's name and full path, adapted
// from a name-ranking heuristic into the plain boolean predicate the
// search-view reconciliation loop needs.
package query

import (
	"strings"

	"github.com/fsearch/engine/internal/fsentry"
)

// Query is a compiled search pattern. The zero value (from New("")) is
// the empty pattern, which matches every entry.
type Query struct {
	raw   string
	plain string // pattern with '*' and spaces stripped
	lower string
}

// New compiles pattern. '*' and internal spaces are treated as
// non-semantic noise the way the upstream fuzzy matcher ignores them,
// rather than as wildcard/separator syntax.
func New(pattern string) Query {
	plain := strings.ReplaceAll(pattern, "*", "")
	plain = strings.ReplaceAll(plain, " ", "")
	return Query{raw: pattern, plain: plain, lower: strings.ToLower(plain)}
}

// String returns the original, uncompiled pattern text.
func (q Query) String() string { return q.raw }

// IsEmpty reports whether the pattern matches unconditionally.
func (q Query) IsEmpty() bool { return q.plain == "" }

// Match reports whether e satisfies the pattern, checked against the
// entry's own name first and its full path second.
func (q Query) Match(e *fsentry.Entry) bool {
	if q.plain == "" {
		return true
	}
	if fuzzyMatch(e.Name(), q.lower) {
		return true
	}
	return fuzzyMatch(e.Path(), q.lower)
}

// fuzzyMatch reports whether pl (already lowercased) is a contiguous
// substring of s, or failing that, an in-order subsequence of s (so
// "fbar" matches "foo_bar"). Word starts do not restrict the match:
// scattered letters that appear in order match as well.
func fuzzyMatch(s, pl string) bool {
	if s == "" {
		return false
	}
	sl := strings.ToLower(s)
	if strings.Contains(sl, pl) {
		return true
	}
	return subseqWithWordStarts(sl, pl, s)
}

func subseqWithWordStarts(sl, pl, orig string) bool {
	si, pi := 0, 0
	for si < len(sl) && pi < len(pl) {
		if sl[si] == pl[pi] {
			si++
			pi++
			continue
		}
		if isWordStart(orig, si) {
			idx := strings.IndexByte(sl[si:], pl[pi])
			if idx < 0 {
				return false
			}
			si += idx + 1
			pi++
			continue
		}
		si++
	}
	return pi == len(pl)
}

func isWordStart(s string, i int) bool {
	if i <= 0 {
		return true
	}
	prev, cur := s[i-1], s[i]
	if isBoundary(prev) {
		return true
	}
	return isLower(prev) && isUpper(cur)
}

func isBoundary(b byte) bool {
	return b == '/' || b == '\\' || b == '-' || b == '_' || b == '.'
}

func isLower(b byte) bool { return b >= 'a' && b <= 'z' }
func isUpper(b byte) bool { return b >= 'A' && b <= 'Z' }
