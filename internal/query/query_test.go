package query

import (
	"testing"

	"github.com/fsearch/engine/internal/fsentry"
)

func TestEmptyQueryMatchesEverything(t *testing.T) {
	q := New("")
	e := fsentry.New(fsentry.File, "anything.go", nil, 0, 0)
	if !q.Match(e) {
		t.Fatal("empty query should match")
	}
	if !q.IsEmpty() {
		t.Fatal("IsEmpty should be true for empty pattern")
	}
}

func TestSubstringMatch(t *testing.T) {
	q := New("main")
	e := fsentry.New(fsentry.File, "main.go", nil, 0, 0)
	if !q.Match(e) {
		t.Fatal("expected substring match")
	}
}

func TestCaseInsensitive(t *testing.T) {
	q := New("MAIN")
	e := fsentry.New(fsentry.File, "main.go", nil, 0, 0)
	if !q.Match(e) {
		t.Fatal("expected case-insensitive match")
	}
}

func TestCamelHumpSubsequence(t *testing.T) {
	q := New("fb")
	e := fsentry.New(fsentry.File, "foo_bar.go", nil, 0, 0)
	if !q.Match(e) {
		t.Fatal("expected word-start subsequence match")
	}
}

func TestNoMatch(t *testing.T) {
	q := New("xyz123")
	e := fsentry.New(fsentry.File, "main.go", nil, 0, 0)
	if q.Match(e) {
		t.Fatal("expected no match")
	}
}

func TestStarsAndSpacesAreStripped(t *testing.T) {
	q := New("* main *")
	e := fsentry.New(fsentry.File, "main.go", nil, 0, 0)
	if !q.Match(e) {
		t.Fatal("expected stars/spaces to be ignored")
	}
}
