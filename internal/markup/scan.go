package markup

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Block is one occurrence of a structured block in a file.
type Block struct {
	Name      string
	StartLine int // line of the opener
	EndLine   int // line of the closer (0 if unclosed)
}

// Closed reports whether a closer was found for the block.
func (b Block) Closed() bool { return b.EndLine > 0 }

// SplitLines splits text into lines without their terminators.
// A trailing newline does not produce an extra empty line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// ScanBlocks finds every block of the given specs in lines.
// Content between an opener and its first closer is raw text, so openers
// inside an open block are not counted. Results are ordered by start line.
func ScanBlocks(lines []string, specs []BlockSpec) []Block {
	var blocks []Block
	for _, spec := range specs {
		blocks = append(blocks, scanSpec(lines, spec)...)
	}
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].StartLine < blocks[j].StartLine
	})
	return blocks
}

func scanSpec(lines []string, spec BlockSpec) []Block {
	var blocks []Block
	line, col := 0, 0
	for line < len(lines) {
		oLine, oEnd, ok := find(lines, spec.Open, line, col)
		if !ok {
			break
		}
		b := Block{Name: spec.Name, StartLine: oLine + 1}
		cLine, cEnd, ok := find(lines, spec.Close, oLine, oEnd)
		if !ok {
			blocks = append(blocks, b)
			break
		}
		b.EndLine = cLine + 1
		blocks = append(blocks, b)
		line, col = cLine, cEnd
	}
	return blocks
}

// find returns the line index and end column of the first match of re at or
// after (line, col).
func find(lines []string, re *regexp.Regexp, line, col int) (int, int, bool) {
	for i := line; i < len(lines); i++ {
		start := 0
		if i == line {
			start = col
		}
		if start > len(lines[i]) {
			continue
		}
		if loc := re.FindStringIndex(lines[i][start:]); loc != nil {
			return i, start + loc[1], true
		}
	}
	return 0, 0, false
}

var tagPattern = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9-]*(\s[^<>]*)?/?>`)

// ContainsMarkup reports whether text contains anything that looks like a tag.
func ContainsMarkup(text string) bool {
	return tagPattern.MatchString(text)
}

// Violation is one failed integrity rule.
type Violation struct {
	Rule   string
	Line   int
	Detail string
}

func (v Violation) String() string {
	if v.Line > 0 {
		return fmt.Sprintf("line %d: %s", v.Line, v.Detail)
	}
	return v.Detail
}

// CheckIntegrity applies the structural markup rules of prof to text.
// A singleton may open at most once. Every block opener needs a closer
// before the end of the file.
func CheckIntegrity(text string, prof *Profile) []Violation {
	var violations []Violation
	for _, s := range prof.Singletons {
		if n := len(s.Open.FindAllStringIndex(text, -1)); n > 1 {
			violations = append(violations, Violation{
				Rule:   "single_" + s.Name,
				Detail: fmt.Sprintf("found %d <%s> elements, want at most 1", n, s.Name),
			})
		}
	}
	lines := SplitLines(text)
	for _, b := range ScanBlocks(lines, prof.Blocks) {
		if !b.Closed() {
			violations = append(violations, Violation{
				Rule:   "closed_" + b.Name,
				Line:   b.StartLine,
				Detail: fmt.Sprintf("%s block opened but never closed", b.Name),
			})
		}
	}
	return violations
}
