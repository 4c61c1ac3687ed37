package tools

import (
	"fmt"
	"strings"
	"testing"

	"github.com/m4xw311/conductor/config"
	"github.com/stretchr/testify/assert"
)

func seedTree(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, dir, "a.go", "package a\nfunc Foo() {}\n")
	writeFile(t, dir, "pkg/b.go", "package pkg\n// Foo is used\nvar x = 1\n")
	writeFile(t, dir, "pkg/c.txt", "Foo text\n")
	writeFile(t, dir, ".git/config", "Foo\n")
	writeFile(t, dir, "node_modules/m.go", "Foo\n")
}

func TestGlob(t *testing.T) {
	h := newHarness(t, config.FilesystemAccess{})
	seedTree(t, h.dir)

	assert.Equal(t, "a.go\npkg/b.go", h.run(t, "Glob", map[string]any{"pattern": "**/*.go"}))
	assert.Equal(t, "pkg/b.go", h.run(t, "Glob", map[string]any{"pattern": "*.go", "path": "pkg"}))
	assert.Equal(t, "No matching files found", h.run(t, "Glob", map[string]any{"pattern": "*.rs"}))
	assert.Equal(t, "Error: pattern is required", h.run(t, "Glob", nil))
}

func TestGrep(t *testing.T) {
	h := newHarness(t, config.FilesystemAccess{})
	seedTree(t, h.dir)

	assert.Equal(t, "a.go:2:func Foo() {}\npkg/b.go:2:// Foo is used",
		h.run(t, "Grep", map[string]any{"pattern": "Foo", "include": "*.go"}))
	assert.Equal(t, "a.go:2:func Foo() {}\npkg/b.go:2:// Foo is used\npkg/c.txt:1:Foo text",
		h.run(t, "search_files", map[string]any{"query": "Foo"}))
	assert.Equal(t, "No matches found", h.run(t, "Grep", map[string]any{"pattern": "absent"}))
	assert.Equal(t, "Error: pattern is required", h.run(t, "Grep", nil))
}

func TestGrepContextLines(t *testing.T) {
	h := newHarness(t, config.FilesystemAccess{})
	seedTree(t, h.dir)

	out := h.run(t, "Grep", map[string]any{"pattern": "used", "path": "pkg", "context_lines": 1})
	assert.Equal(t, "pkg/b.go-1-package pkg\npkg/b.go:2:// Foo is used\npkg/b.go-3-var x = 1", out)
}

func TestGrepSeparatesBlocks(t *testing.T) {
	h := newHarness(t, config.FilesystemAccess{})
	writeFile(t, h.dir, "f.txt", "hit\na\nb\nc\nhit\n")

	out := h.run(t, "Grep", map[string]any{"pattern": "hit", "path": "f.txt", "context_lines": 1})
	assert.Equal(t, "f.txt:1:hit\nf.txt-2-a\n--\nf.txt-4-c\nf.txt:5:hit", out)
}

func TestGrepInvalidRegexFallsBackToLiteral(t *testing.T) {
	h := newHarness(t, config.FilesystemAccess{})
	writeFile(t, h.dir, "f.go", "call Foo(x)\n")

	assert.Equal(t, "f.go:1:call Foo(x)", h.run(t, "Grep", map[string]any{"pattern": "Foo("}))
}

func TestGrepCapsOutput(t *testing.T) {
	h := newHarness(t, config.FilesystemAccess{})
	var b strings.Builder
	for i := 1; i <= 150; i++ {
		fmt.Fprintf(&b, "match %d\n", i)
	}
	writeFile(t, h.dir, "big.txt", b.String())

	out := h.run(t, "Grep", map[string]any{"pattern": "match"})
	lines := strings.Split(out, "\n")
	assert.Equal(t, "big.txt:1:match 1", lines[0])
	assert.Equal(t, "big.txt:100:match 100", lines[99])
	assert.True(t, strings.HasSuffix(out, "\n\n... 50 more lines (showing first 100)"), out)
}
