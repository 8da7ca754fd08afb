// Package chunker splits source files into overlapping line windows that
// never cut a structured block (script, style, head, JSON-LD) in half.
package chunker

import (
	"fmt"
	"strings"

	"github.com/sbenjam1n/seopatch/internal/markup"
	"github.com/sbenjam1n/seopatch/internal/seo"
)

// ConfigurationError reports a chunker configuration that cannot work.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("chunker config: %s %s", e.Field, e.Reason)
}

// Config holds chunking configuration.
type Config struct {
	// MaxLines is the nominal window size before semantic expansion.
	MaxLines int

	// Overlap is how many lines each window shares with the previous one.
	Overlap int

	// ContextLines is how many lines around a chunk are attached as prompt context.
	ContextLines int
}

// DefaultConfig returns the production chunking defaults.
func DefaultConfig() Config {
	return Config{
		MaxLines:     180,
		Overlap:      20,
		ContextLines: 10,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxLines <= 0 {
		return &ConfigurationError{Field: "MaxLines", Reason: fmt.Sprintf("must be positive, got %d", c.MaxLines)}
	}
	if c.Overlap < 0 {
		return &ConfigurationError{Field: "Overlap", Reason: fmt.Sprintf("must not be negative, got %d", c.Overlap)}
	}
	if c.Overlap >= c.MaxLines {
		return &ConfigurationError{
			Field:  "Overlap",
			Reason: fmt.Sprintf("(%d) must be less than MaxLines (%d)", c.Overlap, c.MaxLines),
		}
	}
	if c.ContextLines < 0 {
		return &ConfigurationError{Field: "ContextLines", Reason: fmt.Sprintf("must not be negative, got %d", c.ContextLines)}
	}
	return nil
}

// Chunker splits files into chunks using per-file-type block markers.
type Chunker struct {
	config   Config
	profiles *markup.Profiles
}

// New creates a Chunker. A nil profiles value uses the built-in profiles.
func New(cfg Config, profiles *markup.Profiles) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if profiles == nil {
		profiles = markup.DefaultProfiles()
	}
	return &Chunker{config: cfg, profiles: profiles}, nil
}

// MustNew creates a Chunker, panicking on invalid config.
func MustNew(cfg Config, profiles *markup.Profiles) *Chunker {
	c, err := New(cfg, profiles)
	if err != nil {
		panic(err)
	}
	return c
}

// NewDefault creates a Chunker with default configuration.
func NewDefault() *Chunker {
	return MustNew(DefaultConfig(), nil)
}

// Config returns the chunker's configuration.
func (c *Chunker) Config() Config { return c.config }

// Chunk splits text into windows. The first window covers [1, MaxLines].
// Each later window starts Overlap lines before the previous chunk's end.
// A window whose range contains a block opener is extended to that block's
// closer, or to the end of the file when the closer is missing.
func (c *Chunker) Chunk(path, text string) []seo.Chunk {
	lines := markup.SplitLines(text)
	total := len(lines)
	if total == 0 {
		return nil
	}
	blocks := markup.ScanBlocks(lines, c.profiles.For(path).Blocks)

	var chunks []seo.Chunk
	start, overlap := 1, 0
	for {
		end := start + c.config.MaxLines - 1
		if end > total {
			end = total
		}
		end = expand(blocks, start, end, total)
		chunks = append(chunks, c.build(path, lines, start, end, overlap))
		if end >= total {
			return chunks
		}
		overlap = c.config.Overlap
		start = end - c.config.Overlap + 1
	}
}

// expand grows end until no block opened inside [start, end] closes after end.
// blocks are sorted by start line.
func expand(blocks []markup.Block, start, end, total int) int {
	for _, b := range blocks {
		if b.StartLine < start {
			continue
		}
		if b.StartLine > end {
			break
		}
		closeLine := b.EndLine
		if !b.Closed() {
			closeLine = total
		}
		if closeLine > end {
			end = closeLine
		}
	}
	return end
}

func (c *Chunker) build(path string, lines []string, start, end, overlap int) seo.Chunk {
	headFrom := start - 1 - c.config.ContextLines
	if headFrom < 0 {
		headFrom = 0
	}
	tailTo := end + c.config.ContextLines
	if tailTo > len(lines) {
		tailTo = len(lines)
	}
	return seo.Chunk{
		FilePath:     path,
		StartLine:    start,
		EndLine:      end,
		Text:         strings.Join(lines[start-1:end], "\n"),
		OverlapLines: overlap,
		ContextHead:  strings.Join(lines[headFrom:start-1], "\n"),
		ContextTail:  strings.Join(lines[end:tailTo], "\n"),
	}
}

// LineContext renders the lines around line, marking the target with ">>>".
func LineContext(text string, line, radius int) string {
	lines := markup.SplitLines(text)
	if line < 1 || line > len(lines) {
		return ""
	}
	from := line - radius
	if from < 1 {
		from = 1
	}
	to := line + radius
	if to > len(lines) {
		to = len(lines)
	}
	var sb strings.Builder
	for i := from; i <= to; i++ {
		marker := "   "
		if i == line {
			marker = ">>>"
		}
		fmt.Fprintf(&sb, "%s %4d: %s\n", marker, i, lines[i-1])
	}
	return sb.String()
}
