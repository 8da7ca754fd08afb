package markup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCommentPrefix(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"app.js", "//"},
		{"Page.TSX", "//"},
		{"deploy.sh", "#"},
		{"style.css", "/*"},
		{"index.html", "<!--"},
		{"index.php", "<!--"},
		{"unknown.xyz", "<!--"},
	}

	for _, tt := range tests {
		got := GetCommentPrefix(tt.filename)
		if got != tt.want {
			t.Errorf("GetCommentPrefix(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestFormatAnnotation(t *testing.T) {
	f := CommentFormatter{}
	tests := []struct {
		filename string
		code     string
		want     string
	}{
		{"index.html", "add alt text", "<!-- SEO NOTE: add alt text -->"},
		{"index.php", "close --> early", "<!-- SEO NOTE: close --&gt; early -->"},
		{"app.js", "defer this\nscript", "// SEO NOTE: defer this script"},
		{"site.css", "inline */ critical css", "/* SEO NOTE: inline * / critical css */"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.FormatAnnotation(tt.filename, tt.code), tt.filename)
	}
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, SplitLines(""))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\r\nb"))
	assert.Equal(t, []string{"a", "", "b"}, SplitLines("a\n\nb"))
}

func TestScanBlocks(t *testing.T) {
	lines := SplitLines(`<html>
<head>
<title>x</title>
<script src="a.js"></script>
<script>
var s = "<script>";
</script>
</head>
<body>
<header>nav</header>
<style>
p { color: red }
`)
	blocks := ScanBlocks(lines, MarkupProfile().Blocks)

	var got []Block
	for _, b := range blocks {
		if b.Name != "json_ld" {
			got = append(got, b)
		}
	}
	require.Len(t, got, 4)
	assert.Equal(t, Block{Name: "head", StartLine: 2, EndLine: 8}, got[0])
	assert.Equal(t, Block{Name: "script", StartLine: 4, EndLine: 4}, got[1])
	assert.Equal(t, Block{Name: "script", StartLine: 5, EndLine: 7}, got[2])
	assert.Equal(t, Block{Name: "style", StartLine: 11, EndLine: 0}, got[3])
	assert.False(t, got[3].Closed())
}

func TestScanBlocksJSONLD(t *testing.T) {
	lines := SplitLines(`<script type="application/ld+json">
{"@context": "https://schema.org", "@type": "Organization"}
</script>`)
	var jsonLD []Block
	for _, b := range ScanBlocks(lines, MarkupProfile().Blocks) {
		if b.Name == "json_ld" {
			jsonLD = append(jsonLD, b)
		}
	}
	require.Len(t, jsonLD, 1)
	assert.Equal(t, 1, jsonLD[0].StartLine)
	assert.Equal(t, 3, jsonLD[0].EndLine)
}

func TestCheckIntegrity(t *testing.T) {
	prof := MarkupProfile()
	tests := []struct {
		name  string
		text  string
		rules []string
	}{
		{"clean", "<html><head></head><body><p>x</p></body></html>", nil},
		{"double head", "<head></head>\n<head></head>\n<body></body>", []string{"single_head"}},
		{"double body", "<body></body><body></body>", []string{"single_body"}},
		{"header is not head", "<head></head><header></header>", nil},
		{"unclosed style", "<style>\np{}\n", []string{"closed_style"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rules []string
			for _, v := range CheckIntegrity(tt.text, prof) {
				rules = append(rules, v.Rule)
			}
			assert.Equal(t, tt.rules, rules)
		})
	}
}

func TestContainsMarkup(t *testing.T) {
	assert.True(t, ContainsMarkup("<div class=\"x\">"))
	assert.True(t, ContainsMarkup("</p>"))
	assert.False(t, ContainsMarkup("body { margin: 0 }"))
	assert.False(t, ContainsMarkup("if (a < b) {}"))
}

func TestProfilesFor(t *testing.T) {
	p := DefaultProfiles()
	assert.Equal(t, "markup", p.For("index.PHP").Name)
	assert.Equal(t, "plain", p.For("site.css").Name)
	assert.Equal(t, "markup", p.For("README").Name)
	assert.Equal(t, "markup", p.Integrity("site.css").Name)
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	data := `profiles:
  - name: twig
    extensions: [twig]
    blocks:
      - name: block
        open: '\{%\s*block\b'
        close: '\{%\s*endblock\s*%\}'
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	p, err := LoadProfiles(path)
	require.NoError(t, err)
	prof := p.For("base.twig")
	assert.Equal(t, "twig", prof.Name)
	require.NotNil(t, prof.Block("block"))
	assert.Equal(t, "markup", p.For("index.html").Name)

	blocks := ScanBlocks(SplitLines("{% block main %}\nx\n{% endblock %}"), prof.Blocks)
	require.Len(t, blocks, 1)
	assert.Equal(t, 3, blocks[0].EndLine)
}

func TestLoadProfilesBadPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	data := "profiles:\n  - name: bad\n    extensions: [.x]\n    blocks:\n      - name: b\n        open: '('\n        close: ')'\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	_, err := LoadProfiles(path)
	assert.Error(t, err)
}
