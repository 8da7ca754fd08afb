package chunker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

// DefaultPatterns are the source files reviewed when no pattern is given.
var DefaultPatterns = []string{"**/*.{php,html,htm,js,jsx,ts,tsx,css}"}

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// IgnoreFile is the per-project list of paths excluded from review.
const IgnoreFile = ".seopatchignore"

// FindSources returns the slash-separated paths under root that match any
// pattern, minus skipped directories and ignored paths. Results are sorted.
func FindSources(root string, patterns, ignore []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	fsys := os.DirFS(root)
	seen := map[string]bool{}
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] || inSkippedDir(m) || isIgnored(m, ignore) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// ChunkTree chunks every source file under root. Chunk paths are relative to root.
func (c *Chunker) ChunkTree(ctx context.Context, root string, patterns []string) ([]seo.Chunk, error) {
	files, err := FindSources(root, patterns, ParseIgnore(root))
	if err != nil {
		return nil, err
	}
	var chunks []seo.Chunk
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		chunks = append(chunks, c.Chunk(rel, string(data))...)
	}
	return chunks, nil
}

func inSkippedDir(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}

// ParseIgnore reads ignore patterns from root/.seopatchignore.
func ParseIgnore(root string) []string {
	data, err := os.ReadFile(filepath.Join(root, IgnoreFile))
	if err != nil {
		return nil
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

func isIgnored(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
		// A trailing slash excludes a whole directory.
		if strings.HasSuffix(pattern, "/") && strings.HasPrefix(rel, pattern) {
			return true
		}
	}
	return false
}
