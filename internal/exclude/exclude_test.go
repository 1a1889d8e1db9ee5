package exclude

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBasePatternsMatch(t *testing.T) {
	m := New(".git", "node_modules")
	if !m.Matches(".git") {
		t.Error("expected .git excluded")
	}
	if !m.Matches("node_modules") {
		t.Error("expected node_modules excluded")
	}
	if m.Matches("src/main.go") {
		t.Error("expected src/main.go not excluded")
	}
}

func TestLoadGitignoreScopesToDirectory(t *testing.T) {
	dir := t.TempDir()
	gi := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(gi, []byte("*.log\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New()
	if err := m.LoadGitignore("sub", gi); err != nil {
		t.Fatal(err)
	}
	if !m.Matches("sub/debug.log") {
		t.Error("expected sub/debug.log excluded")
	}
	if m.Matches("other/debug.log") {
		t.Error("expected other/debug.log not excluded (different scope)")
	}
}

func TestMissingGitignoreIsNotError(t *testing.T) {
	m := New()
	if err := m.LoadGitignore(".", "/nonexistent/path/.gitignore"); err != nil {
		t.Fatalf("LoadGitignore on missing file: %v", err)
	}
}

func TestNegationWithinOneGitignoreApplies(t *testing.T) {
	dir := t.TempDir()
	gi := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(gi, []byte("*.log\n!keep.log\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New()
	if err := m.LoadGitignore("sub", gi); err != nil {
		t.Fatal(err)
	}

	if !m.Matches("sub/debug.log") {
		t.Error("expected sub/debug.log excluded")
	}
	if m.Matches("sub/keep.log") {
		t.Error("expected sub/keep.log re-included by the later negation line in the same file")
	}
}

func TestMultipleAncestorGitignoresBothExclude(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root.gitignore")
	if err := os.WriteFile(root, []byte("*.log\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "sub.gitignore")
	if err := os.WriteFile(sub, []byte("*.tmp\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New()
	if err := m.LoadGitignore(".", root); err != nil {
		t.Fatal(err)
	}
	if err := m.LoadGitignore("a/b", sub); err != nil {
		t.Fatal(err)
	}

	if !m.Matches("a/other.log") {
		t.Error("expected a/other.log excluded by the root .gitignore")
	}
	if !m.Matches("a/b/scratch.tmp") {
		t.Error("expected a/b/scratch.tmp excluded by the nested .gitignore")
	}
	if m.Matches("a/b/keep.txt") {
		t.Error("expected a/b/keep.txt not excluded by either ruleset")
	}
}

func TestOrderedRuleDirsAreDepthSorted(t *testing.T) {
	m := New()
	m.rules["a/b/c"] = nil
	m.rules["."] = nil
	m.rules["a"] = nil
	m.rules["a/b"] = nil

	got := m.orderedRuleDirsLocked()
	want := []string{".", "a", "a/b", "a/b/c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
