// Package exclude implements the default ExcludeManager: a chain of
// gitignore-style rule sets, where a path is excluded if any rule set
// that applies to it excludes it, matched with
// sabhiram/go-gitignore the same way the upstream index walker matches
// .gitignore files discovered during a scan.
package exclude

import (
	"bufio"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"
)

// Manager matches paths against a fixed set of explicit patterns plus
// any .gitignore files discovered under the watched roots. It satisfies
// rootindex.ExcludeManager.
type Manager struct {
	mu    sync.RWMutex
	base  *ignore.GitIgnore // global patterns, supplied at construction
	rules map[string]*ignore.GitIgnore
}

// New builds a Manager from an initial set of gitignore-syntax patterns
// applied at every root (e.g. ".git", "node_modules").
func New(patterns ...string) *Manager {
	m := &Manager{rules: make(map[string]*ignore.GitIgnore)}
	if len(patterns) > 0 {
		m.base = ignore.CompileIgnoreLines(patterns...)
	}
	return m
}

// LoadGitignore reads path as a .gitignore file rooted at dir (relative
// to the index root, "." for the root itself) and registers its rules.
// A missing file is not an error.
func (m *Manager) LoadGitignore(dir, gitignorePath string) error {
	f, err := os.Open(gitignorePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := s.Err(); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}

	m.mu.Lock()
	m.rules[dir] = ignore.CompileIgnoreLines(lines...)
	m.mu.Unlock()
	return nil
}

// Matches reports whether relPath should be excluded. It checks the
// base pattern set first, then every discovered .gitignore whose
// directory is an ancestor of relPath, applied root-to-closest in a
// deterministic order (rather than Go's unspecified map iteration
// order) so behavior never depends on discovery order. A path excluded
// by any applicable ruleset stays excluded; negation lines only
// override an exclusion from an earlier line within that same
// .gitignore file, not one from a different ancestor's file.
func (m *Manager) Matches(relPath string) bool {
	relPath = normalizeSlash(relPath)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.base != nil && m.base.MatchesPath(relPath) {
		return true
	}

	ignored := false
	for _, dir := range m.orderedRuleDirsLocked() {
		sub, ok := relativeTo(dir, relPath)
		if !ok || sub == "" {
			continue
		}
		if m.rules[dir].MatchesPath(sub) {
			ignored = true
		}
	}
	return ignored
}

// orderedRuleDirsLocked returns m.rules' keys ordered by ascending path
// depth (root "." first, deepest last), so the iteration in Matches
// applies the closest ancestor's .gitignore last regardless of Go's
// unspecified map iteration order. Caller must hold m.mu.
func (m *Manager) orderedRuleDirsLocked() []string {
	dirs := make([]string, 0, len(m.rules))
	for dir := range m.rules {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := depth(dirs[i]), depth(dirs[j])
		if di != dj {
			return di < dj
		}
		return dirs[i] < dirs[j]
	})
	return dirs
}

func depth(dir string) int {
	if dir == "." {
		return 0
	}
	return strings.Count(dir, "/") + 1
}

func relativeTo(dir, relPath string) (string, bool) {
	if dir == "." {
		return relPath, true
	}
	prefix := dir + "/"
	if !strings.HasPrefix(relPath, prefix) {
		return "", false
	}
	return relPath[len(prefix):], true
}

func normalizeSlash(p string) string {
	return strings.ReplaceAll(path.Clean(strings.ReplaceAll(p, "\\", "/")), "\\", "/")
}
