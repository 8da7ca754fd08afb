package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

var (
	// ErrNoJSON is returned when a model response holds no JSON object.
	ErrNoJSON = errors.New("no JSON object in response")
	// ErrChunkMismatch is returned when a response describes a different file or range.
	ErrChunkMismatch = errors.New("response does not match chunk")
)

// Response is the envelope the model returns for one chunk.
type Response struct {
	File       string            `json:"file"`
	ChunkStart int               `json:"chunk_start"`
	ChunkEnd   int               `json:"chunk_end"`
	Issues     []seo.RawProposal `json:"issues"`
}

// ParseResponse extracts the proposals from a model reply for chunk.
// Markdown fences and surrounding prose are tolerated. The envelope's file
// and range, when present, must match the chunk. Individual proposals are
// returned as-is for issue.Normalize to judge.
func ParseResponse(text string, chunk seo.Chunk) ([]seo.RawProposal, error) {
	body := extractJSON(text)
	if body == "" || !gjson.Valid(body) {
		return nil, ErrNoJSON
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return nil, ErrNoJSON
	}

	if f := root.Get("file"); f.Exists() && f.String() != "" && !samePath(f.String(), chunk.FilePath) {
		return nil, fmt.Errorf("%w: file %q, want %q", ErrChunkMismatch, f.String(), chunk.FilePath)
	}
	if s := root.Get("chunk_start"); s.Exists() && int(s.Int()) != chunk.StartLine {
		return nil, fmt.Errorf("%w: chunk_start %d, want %d", ErrChunkMismatch, s.Int(), chunk.StartLine)
	}
	if e := root.Get("chunk_end"); e.Exists() && int(e.Int()) != chunk.EndLine {
		return nil, fmt.Errorf("%w: chunk_end %d, want %d", ErrChunkMismatch, e.Int(), chunk.EndLine)
	}

	issues := root.Get("issues")
	if !issues.Exists() || issues.Type == gjson.Null {
		return nil, nil
	}
	if !issues.IsArray() {
		return nil, fmt.Errorf("decode response: issues is not an array")
	}
	var out []seo.RawProposal
	for i, item := range issues.Array() {
		var p seo.RawProposal
		if err := json.Unmarshal([]byte(item.Raw), &p); err != nil {
			return nil, fmt.Errorf("decode issue %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// extractJSON returns the JSON object inside a fenced block, or the text
// between the first '{' and the last '}'.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		text = strings.TrimSpace(rest)
	}
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first < 0 || last <= first {
		return ""
	}
	return text[first : last+1]
}

func samePath(a, b string) bool {
	a, b = filepath.ToSlash(filepath.Clean(a)), filepath.ToSlash(filepath.Clean(b))
	return a == b || strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}
