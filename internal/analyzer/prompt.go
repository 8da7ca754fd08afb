package analyzer

import (
	"encoding/json"
	"fmt"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

// SystemPrompt fixes the output contract the response parser relies on.
const SystemPrompt = `You are a code analysis assistant for technical SEO.
You receive one CODE CHUNK of a website source file (PHP, HTML, JS, JSX, TS or CSS)
and report SEO problems in it as line-addressed edits.

Rules:
1. Output strict JSON only. No markdown fences, no prose before or after the object.
2. Every issue names a line inside [chunk_start, chunk_end], an action
   (insert_after_line, replace_line, annotate), the code to insert or the replacement line,
   a reason, a severity (critical, high, medium, low) and a confidence between 0 and 1.
3. Never add server-side logic. Only propose DOM-safe HTML, JSON-LD or meta insertions,
   or single line replacements.
4. JSON-LD must be minified onto one line and must be valid JSON with @context and @type.
5. Use only facts visible in the chunk. When a value such as a product name or price is
   unknown, write a placeholder like {{PRODUCT_NAME}} or {{PRICE}} instead of inventing it.
6. When confidence is below 0.70 set "review_required": true.
7. If anchor text reads unnaturally, put a better sentence in "suggested_rewrite".
8. The context_head and context_tail lines are for reference only. Do not target them.

Checks:
- Structured data: Product, Offer, FAQPage, BreadcrumbList, Article, Review, LocalBusiness and their required fields.
- Title of 45 to 60 characters with the main keyword near the start.
- Meta description of 120 to 155 characters.
- Exactly one H1 and an unbroken H2 to H6 hierarchy.
- Canonical link, Open Graph (og:title, og:description, og:image, og:url) and Twitter card tags.
- alt attributes on every img.
- Natural internal anchor text and suitable rel attributes on external links.
- Render-blocking scripts, script errors and CSS that hurts layout stability.

Output:
{"file":"<path>","chunk_start":1,"chunk_end":180,"issues":[
 {"type":"schema_missing|meta_issue|title_length|h_tag_issue|link_naturalness|image_alt_missing|performance_hint|js_error|css_suggestion",
  "line":12,"action":"insert_after_line|replace_line|annotate","code":"...","reason":"...",
  "severity":"critical|high|medium|low","confidence":0.9,"review_required":false,"suggested_rewrite":""}]}`

type promptData struct {
	File        string   `json:"file"`
	ChunkStart  int      `json:"chunk_start"`
	ChunkEnd    int      `json:"chunk_end"`
	Content     string   `json:"content"`
	ContextHead string   `json:"context_head,omitempty"`
	ContextTail string   `json:"context_tail,omitempty"`
	Keywords    []string `json:"keywords"`
	Language    string   `json:"site_language,omitempty"`
	URL         string   `json:"site_url,omitempty"`
}

// BuildUserPrompt renders the per-chunk request.
func BuildUserPrompt(chunk seo.Chunk, site Site) (string, error) {
	keywords := site.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	data, err := json.MarshalIndent(promptData{
		File:        chunk.FilePath,
		ChunkStart:  chunk.StartLine,
		ChunkEnd:    chunk.EndLine,
		Content:     numberLines(chunk),
		ContextHead: chunk.ContextHead,
		ContextTail: chunk.ContextTail,
		Keywords:    keywords,
		Language:    site.Language,
		URL:         site.URL,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}
	return "Analyze this code chunk and return ONLY the JSON object.\n\n" + string(data), nil
}

// numberLines prefixes each chunk line with its file line number so the
// model can address lines without counting.
func numberLines(chunk seo.Chunk) string {
	var out []byte
	line := chunk.StartLine
	start := 0
	text := chunk.Text
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] != '\n' {
			continue
		}
		if i == len(text) && start == len(text) {
			break
		}
		out = fmt.Appendf(out, "%d: %s\n", line, text[start:i])
		line++
		start = i + 1
	}
	return string(out)
}
