// ABOUTME: Tests for speech text preprocessing
// ABOUTME: Covers markdown stripping, URL and code replacement, and truncation

package speech

import (
	"strings"
	"testing"
)

func TestProcess_StripsMarkdown(t *testing.T) {
	p := NewPreprocessor(4096, nil)
	got := p.Process("# Hello\n\nThis is **bold** and *italic* and [a doc](https://example.com/doc).")
	want := "Hello This is bold and italic and a doc."
	if got != want {
		t.Fatalf("Process = %q, want %q", got, want)
	}
}

func TestProcess_ReplacesURLs(t *testing.T) {
	p := NewPreprocessor(4096, nil)
	got := p.Process("See https://example.com/page?q=1 for details")
	if got != "See link for details" {
		t.Fatalf("Process = %q", got)
	}
}

func TestProcess_ReplacesCode(t *testing.T) {
	p := NewPreprocessor(4096, nil)
	got := p.Process("Run `make lint` then:\n\n```go\nfunc main() {}\n```\n\nDone")
	want := "Run code block then: code block Done"
	if got != want {
		t.Fatalf("Process = %q, want %q", got, want)
	}
}

func TestProcess_CollapsesWhitespace(t *testing.T) {
	p := NewPreprocessor(4096, nil)
	got := p.Process("one\ntwo\n\nthree\t four")
	if got != "one two three four" {
		t.Fatalf("Process = %q", got)
	}
}

func TestProcess_Truncates(t *testing.T) {
	p := NewPreprocessor(10, nil)
	got := p.Process(strings.Repeat("a", 100))
	if got != strings.Repeat("a", 10) {
		t.Fatalf("expected 10 runes, got %d: %q", len(got), got)
	}
}

func TestProcess_Empty(t *testing.T) {
	p := NewPreprocessor(4096, nil)
	for _, input := range []string{"", "   ", "\n\t\n"} {
		if got := p.Process(input); got != "" {
			t.Errorf("Process(%q) = %q, want empty", input, got)
		}
	}
}
