package validator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sbenjam1n/seopatch/internal/markup"
	"github.com/sbenjam1n/seopatch/internal/seo"
)

// Result codes. Tier 0 is structural, tier 1 is JSON-LD, tier 2 is linters.
const (
	CodeDuplicateSingleton = 1
	CodeUnclosedBlock      = 2
	CodeInvalidJSONLD      = 10
	CodeLintFailed         = 20
)

// Linter checks a patched file with an external tool.
type Linter interface {
	Lint(ctx context.Context, path string, content []byte) (ok bool, message string, err error)
}

// Validator runs Tier 0 (markup integrity), Tier 1 (JSON-LD) and Tier 2
// (per-extension linters) on a patched file.
type Validator struct {
	profiles *markup.Profiles
	linters  map[string]Linter
}

// New creates a Validator with no linters. A nil profiles value uses the defaults.
func New(profiles *markup.Profiles) *Validator {
	if profiles == nil {
		profiles = markup.DefaultProfiles()
	}
	return &Validator{profiles: profiles, linters: map[string]Linter{}}
}

// NewDefault creates a Validator with the php -l linter registered for .php files.
func NewDefault(profiles *markup.Profiles) *Validator {
	v := New(profiles)
	v.Register(".php", PHPLinter{})
	return v
}

// Register installs l for files with the given extension.
func (v *Validator) Register(ext string, l Linter) {
	v.linters[strings.ToLower(ext)] = l
}

// Validate runs every tier in order and stops at the first failing one.
func (v *Validator) Validate(ctx context.Context, path string, content []byte) *seo.ValidationResult {
	text := string(content)
	if result := v.Tier0Integrity(path, text); !result.Passed {
		return result
	}
	if result := v.Tier1JSONLD(path, text); !result.Passed {
		return result
	}
	return v.Tier2Lint(ctx, path, content)
}

// Tier0Integrity checks markup structure. Files without markup pass.
func (v *Validator) Tier0Integrity(path, text string) *seo.ValidationResult {
	result := &seo.ValidationResult{Tier: 0, Passed: true}
	if !markup.ContainsMarkup(text) {
		result.Message = "Tier 0 skipped: no markup"
		return result
	}

	for _, viol := range markup.CheckIntegrity(text, v.profiles.Integrity(path)) {
		detail := seo.ValidationDetail{Check: viol.Rule, Passed: false, Got: viol.String()}
		code := CodeUnclosedBlock
		if strings.HasPrefix(viol.Rule, "single_") {
			code = CodeDuplicateSingleton
			name := strings.TrimPrefix(viol.Rule, "single_")
			detail.Expected = fmt.Sprintf("at most one <%s>", name)
			detail.Fix = fmt.Sprintf("Remove the extra <%s> element the patch introduced.", name)
		} else {
			name := strings.TrimPrefix(viol.Rule, "closed_")
			detail.Expected = fmt.Sprintf("every <%s> closed before end of file", name)
			detail.Fix = fmt.Sprintf("Add the matching closing tag for the %s block at %s.", name, viol.String())
		}
		if result.Passed {
			result.Passed = false
			result.Code = code
			result.Message = fmt.Sprintf("Markup integrity failed in %s: %s", path, viol.Detail)
		}
		result.Details = append(result.Details, detail)
	}
	if result.Passed {
		result.Message = "Tier 0 passed"
	}
	return result
}

// Tier1JSONLD checks that every JSON-LD block parses and names a schema.
func (v *Validator) Tier1JSONLD(path, text string) *seo.ValidationResult {
	result := &seo.ValidationResult{Tier: 1, Passed: true}
	spec := v.profiles.Integrity(path).Block("json_ld")
	if spec == nil {
		result.Message = "Tier 1 skipped: no JSON-LD marker"
		return result
	}

	for i, body := range extractBlocks(text, spec) {
		if problem := checkJSONLD(body); problem != "" {
			if result.Passed {
				result.Passed = false
				result.Code = CodeInvalidJSONLD
				result.Message = fmt.Sprintf("Invalid JSON-LD block %d in %s: %s", i+1, path, problem)
			}
			result.Details = append(result.Details, seo.ValidationDetail{
				Check:    "json_ld",
				Passed:   false,
				Expected: "valid JSON with @context and @type",
				Got:      problem,
				Fix:      fmt.Sprintf("Correct JSON-LD block %d so it parses and declares @context and @type.", i+1),
			})
		}
	}
	if result.Passed {
		result.Message = "Tier 1 passed"
	}
	return result
}

// Tier2Lint runs the linter registered for the file's extension, if any.
func (v *Validator) Tier2Lint(ctx context.Context, path string, content []byte) *seo.ValidationResult {
	result := &seo.ValidationResult{Tier: 2, Passed: true, Message: "Tier 2 passed"}
	linter, ok := v.linters[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return result
	}

	passed, message, err := linter.Lint(ctx, path, content)
	if err != nil {
		passed = false
		message = err.Error()
	}
	if !passed {
		result.Passed = false
		result.Code = CodeLintFailed
		result.Message = fmt.Sprintf("Lint failed for %s: %s", path, message)
		result.Details = append(result.Details, seo.ValidationDetail{
			Check:    "lint",
			Passed:   false,
			Expected: "no syntax errors",
			Got:      message,
			Fix:      "Fix the syntax error reported by the linter, or reject the issue.",
		})
	}
	return result
}

// extractBlocks returns the text between each opener and closer of spec.
func extractBlocks(text string, spec *markup.BlockSpec) []string {
	var bodies []string
	pos := 0
	for pos < len(text) {
		open := spec.Open.FindStringIndex(text[pos:])
		if open == nil {
			break
		}
		bodyStart := pos + open[1]
		closer := spec.Close.FindStringIndex(text[bodyStart:])
		if closer == nil {
			// Unclosed blocks are Tier 0's concern.
			break
		}
		bodies = append(bodies, text[bodyStart:bodyStart+closer[0]])
		pos = bodyStart + closer[1]
	}
	return bodies
}

func checkJSONLD(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return "empty block"
	}
	if !gjson.Valid(body) {
		return "not valid JSON"
	}
	doc := gjson.Parse(body)
	if doc.IsArray() {
		for _, item := range doc.Array() {
			if problem := checkSchemaObject(item); problem != "" {
				return problem
			}
		}
		return ""
	}
	return checkSchemaObject(doc)
}

func checkSchemaObject(obj gjson.Result) string {
	if !obj.IsObject() {
		return "not a JSON object"
	}
	fields := obj.Map()
	if _, ok := fields["@context"]; !ok {
		return "missing @context"
	}
	_, hasType := fields["@type"]
	_, hasGraph := fields["@graph"]
	if !hasType && !hasGraph {
		return "missing @type"
	}
	return ""
}
