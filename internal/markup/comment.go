package markup

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CommentStyle maps file extensions to their comment prefix.
var CommentStyle = map[string]string{
	".js":   "//",
	".jsx":  "//",
	".ts":   "//",
	".tsx":  "//",
	".mjs":  "//",
	".py":   "#",
	".rb":   "#",
	".sh":   "#",
	".yaml": "#",
	".yml":  "#",
	".css":  "/*",
	".scss": "/*",
}

// HTMLStyleExtensions use <!-- --> comment syntax.
var HTMLStyleExtensions = map[string]bool{
	".html":   true,
	".htm":    true,
	".php":    true,
	".xml":    true,
	".vue":    true,
	".svelte": true,
}

// ScriptExtensions keep the original indentation when a line is replaced.
var ScriptExtensions = map[string]bool{
	".js":  true,
	".jsx": true,
	".ts":  true,
	".tsx": true,
	".mjs": true,
}

// GetCommentPrefix returns the comment prefix for a file extension.
func GetCommentPrefix(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if HTMLStyleExtensions[ext] {
		return "<!--"
	}
	if prefix, ok := CommentStyle[ext]; ok {
		return prefix
	}
	return "<!--"
}

// AnnotationLabel prefixes every annotation written into a file.
const AnnotationLabel = "SEO NOTE:"

// CommentFormatter renders annotation text as a comment in the file's own syntax.
type CommentFormatter struct{}

// FormatAnnotation returns code wrapped as a single-line comment for filename.
func (CommentFormatter) FormatAnnotation(filename, code string) string {
	text := strings.Join(strings.Fields(strings.ReplaceAll(code, "\r", "")), " ")
	switch GetCommentPrefix(filename) {
	case "<!--":
		text = strings.ReplaceAll(text, "-->", "--&gt;")
		return fmt.Sprintf("<!-- %s %s -->", AnnotationLabel, text)
	case "/*":
		text = strings.ReplaceAll(text, "*/", "* /")
		return fmt.Sprintf("/* %s %s */", AnnotationLabel, text)
	default:
		return fmt.Sprintf("%s %s %s", GetCommentPrefix(filename), AnnotationLabel, text)
	}
}
