package patch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sbenjam1n/seopatch/internal/markup"
	"github.com/sbenjam1n/seopatch/internal/seo"
)

// Formatter renders annotation text in a file's comment syntax.
type Formatter interface {
	FormatAnnotation(path, code string) string
}

// Mutate applies one edit to content and returns the new bytes together with
// the number of lines the edit added. line is 1-indexed. Every untouched byte,
// including line terminators, is preserved.
func Mutate(content []byte, path string, line int, action seo.Action, code string, f Formatter) ([]byte, int, error) {
	lines := splitKeepEnds(string(content))
	if line < 1 || line > len(lines) {
		return nil, 0, fmt.Errorf("line %d of %d: %w", line, len(lines), ErrLineOutOfRange)
	}

	target := lines[line-1]
	body, eol := cutEOL(target)
	newline := eol
	if newline == "" {
		newline = detectEOL(string(content))
	}

	var segment string
	var delta int
	switch action {
	case seo.ActionReplaceLine:
		repl := codeLines(code)
		if markup.ScriptExtensions[strings.ToLower(filepath.Ext(path))] {
			repl = reindent(repl, leadingSpace(body))
		}
		segment = strings.Join(repl, newline) + eol
		delta = len(repl) - 1
	case seo.ActionInsertAfterLine:
		added := codeLines(code)
		segment = body + newline + strings.Join(added, newline) + eol
		delta = len(added)
	case seo.ActionAnnotate:
		segment = body + newline + f.FormatAnnotation(path, code) + eol
		delta = 1
	default:
		return nil, 0, fmt.Errorf("mutate: unsupported action %q", action)
	}

	var sb strings.Builder
	sb.Grow(len(content) + len(segment))
	for _, l := range lines[:line-1] {
		sb.WriteString(l)
	}
	sb.WriteString(segment)
	for _, l := range lines[line:] {
		sb.WriteString(l)
	}
	return []byte(sb.String()), delta, nil
}

// splitKeepEnds splits s into lines that keep their terminators.
func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func cutEOL(line string) (string, string) {
	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2], "\r\n"
	}
	if strings.HasSuffix(line, "\n") {
		return line[:len(line)-1], "\n"
	}
	return line, ""
}

func detectEOL(s string) string {
	if strings.Contains(s, "\r\n") {
		return "\r\n"
	}
	return "\n"
}

func codeLines(code string) []string {
	code = strings.TrimSuffix(strings.ReplaceAll(code, "\r\n", "\n"), "\n")
	return strings.Split(code, "\n")
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func reindent(lines []string, indent string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		if i == 0 {
			l = strings.TrimLeft(l, " \t")
		}
		if l != "" {
			l = indent + l
		}
		out[i] = l
	}
	return out
}
