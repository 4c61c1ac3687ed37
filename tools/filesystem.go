package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/m4xw311/conductor/transaction"
)

// MaxReadBytes is the largest file Read will load.
const MaxReadBytes = 10_000_000

// ReadTool implements the tool for reading a file with line numbers.
type ReadTool struct {
	env *Env
}

func (t *ReadTool) Name() string { return "Read" }
func (t *ReadTool) Description() string {
	return "Reads a file from the filesystem. Returns content with line numbers. You MUST read a file before editing it. For large files, use offset and limit to read specific sections."
}

func (t *ReadTool) Parameters() map[string]any {
	return schema([]string{"file_path"}, map[string]map[string]any{
		"file_path": prop("string", "The absolute or relative path to the file to read"),
		"offset":    prop("integer", "Line number to start reading from (1-indexed). Only use for large files."),
		"limit":     prop("integer", "Maximum number of lines to read. Only use for large files."),
	})
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := stringParam(args, "file_path", "")
	if path == "" {
		return "", failf("Error: file_path is required")
	}
	if err := t.env.outside(path, "read files"); err != nil {
		return "", err
	}
	if err := t.env.hidden(path); err != nil {
		return "", err
	}

	abs := t.env.abs(path)
	if info, err := os.Stat(abs); err == nil && info.Size() > MaxReadBytes {
		return "", failf("Error: File too large (%d bytes). Use offset and limit for large files.", info.Size())
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", failf("Error reading file: %v", err)
	}

	lines := splitLines(string(data))
	total := len(lines)
	if total == 0 {
		return "(empty file)", nil
	}

	start, ok := intParam(args, "offset")
	if !ok {
		start, _ = intParam(args, "start_line")
	}
	start = max(start, 1)
	end := total
	if limit, ok := intParam(args, "limit"); ok {
		end = min(start+max(limit, 1)-1, total)
	} else if last, ok := intParam(args, "end_line"); ok {
		end = min(last, total)
	}
	if start > total {
		return "", failf("Error: offset %d exceeds file length (%d lines)", start, total)
	}

	width := max(len(fmt.Sprint(total)), 4)
	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%*d\t%s\n", width, i, lines[i-1])
	}
	if start > 1 || end < total {
		fmt.Fprintf(&b, "\n[Showing lines %d-%d of %d. Use offset/limit to see more.]", start, end, total)
	}
	return b.String(), nil
}

// EditTool performs an exact string replacement inside the open transaction.
type EditTool struct {
	env *Env
}

func (t *EditTool) Name() string { return "Edit" }
func (t *EditTool) Description() string {
	return "Performs exact string replacement in a file. You MUST Read the file first before editing. The old_string must match EXACTLY including all whitespace and indentation. The edit will FAIL if old_string is not found or is not unique in the file. To make old_string unique, include more surrounding context. Use replace_all only for renaming variables/functions across the file."
}

func (t *EditTool) Parameters() map[string]any {
	return schema([]string{"file_path", "old_string", "new_string"}, map[string]map[string]any{
		"file_path":   prop("string", "The path to the file to edit"),
		"old_string":  prop("string", "The exact text to find and replace. Must match the file content exactly, including whitespace and indentation. Copy this directly from the Read output."),
		"new_string":  prop("string", "The new text to replace old_string with. Must be different from old_string."),
		"replace_all": prop("boolean", "Replace all occurrences instead of requiring uniqueness. Use for renaming variables/functions. Default: false"),
	})
}

func (t *EditTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := stringParam(args, "file_path", "")
	oldString := stringParam(args, "old_string", "")
	newString := stringParam(args, "new_string", "")
	replaceAll := boolParam(args, "replace_all")

	if path == "" {
		return "", failf("Error: file_path is required")
	}
	if err := t.env.outside(path, "edit files"); err != nil {
		return "", err
	}
	if err := t.env.readOnly(path); err != nil {
		return "", err
	}
	if oldString == "" {
		return "", failf("Error: old_string cannot be empty")
	}
	if oldString == newString {
		return "✓ No changes needed - strings are identical", nil
	}

	abs := t.env.abs(path)
	count, err := transaction.Execute(t.env.Store, abs, func() (int, error) {
		data, err := os.ReadFile(abs)
		if err != nil {
			return 0, failf("Error reading file: %v", err)
		}
		content := string(data)
		n := strings.Count(content, oldString)
		if n == 0 {
			return 0, failf("Error: old_string not found in %s\n\n"+
				"The text must match EXACTLY, including:\n"+
				"- All whitespace and indentation\n"+
				"- Line endings\n"+
				"- Any special characters\n\n"+
				"Tip: Copy the exact text from the Read output.", path)
		}
		if n > 1 && !replaceAll {
			return 0, failf("Error: old_string appears %d times in the file.\n\n"+
				"To fix:\n"+
				"- Include more surrounding context to make old_string unique, OR\n"+
				"- Use replace_all: true to replace all occurrences", n)
		}
		if replaceAll {
			content = strings.ReplaceAll(content, oldString, newString)
		} else {
			content = strings.Replace(content, oldString, newString, 1)
		}
		if err := writeKeepingMode(abs, []byte(content)); err != nil {
			return 0, failf("Error writing file: %v", err)
		}
		return n, nil
	})
	if err != nil {
		return "", err
	}

	diff := diffSnippet(oldString, newString)
	if replaceAll && count > 1 {
		return fmt.Sprintf("%s\n\n%s\n\n✓ Replaced %d occurrences in %s", path, diff, count, path), nil
	}
	return fmt.Sprintf("%s\n\n%s\n\n✓ Successfully edited", path, diff), nil
}

// WriteTool implements the tool for writing to a file.
type WriteTool struct {
	env *Env
}

func (t *WriteTool) Name() string { return "Write" }
func (t *WriteTool) Description() string {
	return "Writes content to a file, replacing existing content or creating a new file. Creates parent directories if needed. For editing existing files, prefer Edit instead. Use Write for creating new files or complete rewrites."
}

func (t *WriteTool) Parameters() map[string]any {
	return schema([]string{"file_path", "content"}, map[string]map[string]any{
		"file_path": prop("string", "The path to the file to write"),
		"content":   prop("string", "The complete content to write to the file"),
	})
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := stringParam(args, "file_path", "")
	content := stringParam(args, "content", "")
	if path == "" {
		return "", failf("Error: file_path is required")
	}
	if err := t.env.outside(path, "write files"); err != nil {
		return "", err
	}
	if err := t.env.readOnly(path); err != nil {
		return "", err
	}

	abs := t.env.abs(path)
	err := t.env.Store.Do(abs, func() error {
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return failf("Error writing file: %v", err)
		}
		if err := writeKeepingMode(abs, []byte(content)); err != nil {
			return failf("Error writing file: %v", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully wrote to %s", path), nil
}

// ListTool lists a directory, directories first.
type ListTool struct {
	env *Env
}

func (t *ListTool) Name() string { return "List" }
func (t *ListTool) Description() string {
	return "Lists files and directories at the specified path. Shows directories first (with trailing /), then files."
}

func (t *ListTool) Parameters() map[string]any {
	return schema(nil, map[string]map[string]any{
		"path": prop("string", "Directory to list. Defaults to current directory."),
	})
}

func (t *ListTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := stringParam(args, "path", ".")
	if err := t.env.outside(path, "access directories"); err != nil {
		return "", err
	}
	if err := t.env.hidden(path); err != nil {
		return "", err
	}

	abs := t.env.abs(path)
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", failf("Error listing directory: %v", err)
	}
	var dirs, files []string
	for _, entry := range entries {
		name := entry.Name()
		if t.env.hidden(filepath.Join(path, name)) != nil {
			continue
		}
		if isDir(filepath.Join(abs, name), entry) {
			dirs = append(dirs, name+"/")
		} else {
			files = append(files, name)
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)
	if len(dirs)+len(files) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(append(dirs, files...), "\n"), nil
}

// FileInfoTool reports file metadata.
type FileInfoTool struct {
	env *Env
}

func (t *FileInfoTool) Name() string { return "FileInfo" }
func (t *FileInfoTool) Description() string {
	return "Get metadata about a file or directory, including size, permissions, modification time, and whether it exists."
}

func (t *FileInfoTool) Parameters() map[string]any {
	return schema([]string{"path"}, map[string]map[string]any{
		"path": prop("string", "The path to check"),
	})
}

func (t *FileInfoTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := stringParam(args, "path", "")
	if path == "" {
		return "", failf("Error: path is required")
	}
	if err := t.env.outside(path, "access paths"); err != nil {
		return "", err
	}
	if err := t.env.hidden(path); err != nil {
		return "", err
	}

	info, err := os.Stat(t.env.abs(path))
	if err != nil {
		return "", failf("Error getting metadata for %s: %v", path, err)
	}
	kind := "other"
	switch {
	case info.Mode().IsRegular():
		kind = "file"
	case info.IsDir():
		kind = "directory"
	}
	readOnly := info.Mode().Perm()&0o222 == 0
	return fmt.Sprintf("Path: %s\nType: %s\nSize: %d bytes\nModified: %d (Unix timestamp)\nRead-only: %t",
		path, kind, info.Size(), info.ModTime().Unix(), readOnly), nil
}

// splitLines splits like a line reader: no trailing empty line, CRLF
// tolerated.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func diffSnippet(oldString, newString string) string {
	oldLines := splitLines(oldString)
	newLines := splitLines(newString)
	var b strings.Builder
	fmt.Fprintf(&b, "@@ -%d lines +%d lines @@\n", len(oldLines), len(newLines))
	for _, l := range oldLines {
		fmt.Fprintf(&b, "-  %s\n", l)
	}
	for _, l := range newLines {
		fmt.Fprintf(&b, "+  %s\n", l)
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}

func writeKeepingMode(path string, data []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, data, mode)
}

func isDir(path string, entry fs.DirEntry) bool {
	if entry.Type()&fs.ModeSymlink == 0 {
		return entry.IsDir()
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
