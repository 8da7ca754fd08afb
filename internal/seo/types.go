package seo

import (
	"regexp"
	"time"
)

// ReviewThreshold is the confidence below which an issue always needs human review.
const ReviewThreshold = 0.70

// Severity ranks how urgent an issue is. Higher values win a severity collapse.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// Rank returns the ordering weight of s, or 0 for an unknown severity.
func (s Severity) Rank() int { return severityRank[s] }

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool { return severityRank[s] > 0 }

// Action is the kind of edit an issue proposes.
type Action string

const (
	ActionInsertAfterLine Action = "insert_after_line"
	ActionReplaceLine     Action = "replace_line"
	ActionAnnotate        Action = "annotate"
)

// Valid reports whether a is a supported action.
func (a Action) Valid() bool {
	switch a {
	case ActionInsertAfterLine, ActionReplaceLine, ActionAnnotate:
		return true
	}
	return false
}

// Additive reports whether the action leaves the target line in place.
func (a Action) Additive() bool {
	return a == ActionInsertAfterLine || a == ActionAnnotate
}

// IssueType is the SEO category of an issue.
type IssueType string

const (
	TypeSchemaMissing   IssueType = "schema_missing"
	TypeMetaIssue       IssueType = "meta_issue"
	TypeTitleLength     IssueType = "title_length"
	TypeHTagIssue       IssueType = "h_tag_issue"
	TypeLinkNaturalness IssueType = "link_naturalness"
	TypeImageAltMissing IssueType = "image_alt_missing"
	TypePerformanceHint IssueType = "performance_hint"
	TypeJSError         IssueType = "js_error"
	TypeCSSSuggestion   IssueType = "css_suggestion"
)

// Known reports whether t is one of the documented categories.
func (t IssueType) Known() bool {
	switch t {
	case TypeSchemaMissing, TypeMetaIssue, TypeTitleLength, TypeHTagIssue,
		TypeLinkNaturalness, TypeImageAltMissing, TypePerformanceHint,
		TypeJSError, TypeCSSSuggestion:
		return true
	}
	return false
}

// Chunk is a contiguous, 1-indexed, inclusive line range of a source file.
type Chunk struct {
	JobID        string `json:"job_id,omitempty" db:"job_id"`
	FilePath     string `json:"file_path" db:"file_path"`
	StartLine    int    `json:"start_line" db:"start_line"`
	EndLine      int    `json:"end_line" db:"end_line"`
	Text         string `json:"text" db:"content"`
	OverlapLines int    `json:"overlap_lines" db:"overlap_lines"`
	ContextHead  string `json:"context_head,omitempty"`
	ContextTail  string `json:"context_tail,omitempty"`
}

// Contains reports whether line falls inside the chunk range.
func (c Chunk) Contains(line int) bool {
	return line >= c.StartLine && line <= c.EndLine
}

// RawProposal is one record as emitted by the AI layer, before normalization.
type RawProposal struct {
	Type             string  `json:"type"`
	Line             int     `json:"line"`
	Action           string  `json:"action"`
	Code             string  `json:"code"`
	Reason           string  `json:"reason"`
	Severity         string  `json:"severity"`
	Confidence       float64 `json:"confidence"`
	ReviewRequired   bool    `json:"review_required"`
	SuggestedRewrite string  `json:"suggested_rewrite,omitempty"`
}

// Issue is a normalized, addressable fix proposal for one line of one file.
type Issue struct {
	ID               int64     `json:"id" db:"id"`
	JobID            string    `json:"job_id,omitempty" db:"job_id"`
	FilePath         string    `json:"file_path" db:"file_path"`
	LineNumber       int       `json:"line_number" db:"line_number"`
	IssueType        IssueType `json:"issue_type" db:"issue_type"`
	Action           Action    `json:"action" db:"action"`
	Code             string    `json:"code" db:"code"`
	Reason           string    `json:"reason" db:"reason"`
	SuggestedRewrite string    `json:"suggested_rewrite,omitempty" db:"suggested_rewrite"`
	Severity         Severity  `json:"severity" db:"severity"`
	Confidence       float64   `json:"confidence" db:"confidence"`
	ReviewRequired   bool      `json:"review_required" db:"review_required"`
	Status           Status    `json:"status" db:"status"`
	ConflictWith     []int64   `json:"conflict_with,omitempty" db:"conflict_with"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

var placeholderPattern = regexp.MustCompile(`\{\{[A-Z0-9_]+\}\}`)

// Placeholders lists unresolved {{NAME}} tokens in the issue's code.
func (i *Issue) Placeholders() []string {
	return placeholderPattern.FindAllString(i.Code, -1)
}

// EnforceReview raises ReviewRequired when confidence is below the threshold
// or the code still carries placeholders. It never clears the flag.
func (i *Issue) EnforceReview() {
	if i.Confidence < ReviewThreshold || len(i.Placeholders()) > 0 {
		i.ReviewRequired = true
	}
}

// PatchRecord is the durable log entry of one apply attempt.
type PatchRecord struct {
	ID              int64      `json:"id" db:"id"`
	IssueID         int64      `json:"issue_id" db:"issue_id"`
	JobID           string     `json:"job_id,omitempty" db:"job_id"`
	FilePath        string     `json:"file_path" db:"file_path"`
	LineNumber      int        `json:"line_number" db:"line_number"`
	Action          Action     `json:"action" db:"action"`
	OriginalContent string     `json:"original_content" db:"original_content"`
	PatchedContent  string     `json:"patched_content" db:"patched_content"`
	LineDelta       int        `json:"line_delta" db:"line_delta"`
	Success         bool       `json:"success" db:"success"`
	ErrorMessage    string     `json:"error_message,omitempty" db:"error_message"`
	AppliedAt       time.Time  `json:"applied_at" db:"applied_at"`
	RolledBack      bool       `json:"rolled_back" db:"rolled_back"`
	RolledBackAt    *time.Time `json:"rolled_back_at,omitempty" db:"rolled_back_at"`
}

// Live reports whether the record's change is currently present in the file.
func (r *PatchRecord) Live() bool { return r.Success && !r.RolledBack }

// Backup describes an immutable byte-for-byte copy of a file taken before a patch.
type Backup struct {
	ID          string    `json:"id" db:"id"`
	IssueID     int64     `json:"issue_id" db:"issue_id"`
	FilePath    string    `json:"file_path" db:"file_path"`
	StoragePath string    `json:"storage_path" db:"storage_path"`
	SHA256      string    `json:"sha256" db:"sha256"`
	Size        int64     `json:"size" db:"size"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ConflictDetail lists the replace_line issues competing for one line.
type ConflictDetail struct {
	FilePath   string     `json:"file_path"`
	LineNumber int        `json:"line_number"`
	IssueIDs   []int64    `json:"issue_ids"`
	Actions    []Action   `json:"actions"`
	Severities []Severity `json:"severities"`
}

// ConflictSummary reports the outcome of a reconcile pass.
type ConflictSummary struct {
	Superseded  int              `json:"superseded"`
	Conflicts   int              `json:"conflicts"`
	Transitions int              `json:"transitions"`
	Details     []ConflictDetail `json:"details,omitempty"`
}

// Job groups the chunks and issues of one analysis run.
type Job struct {
	ID             string    `json:"id" db:"id"`
	Root           string    `json:"root" db:"root"`
	TotalChunks    int       `json:"total_chunks" db:"total_chunks"`
	AnalyzedChunks int       `json:"analyzed_chunks" db:"analyzed_chunks"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ValidationResult is the outcome of running the validation tiers on a file.
type ValidationResult struct {
	Tier    int                `json:"tier"`
	Passed  bool               `json:"passed"`
	Code    int                `json:"code"`
	Message string             `json:"message"`
	Details []ValidationDetail `json:"details,omitempty"`
}

// ValidationDetail describes a single validation check result.
type ValidationDetail struct {
	Check    string `json:"check"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected,omitempty"`
	Got      string `json:"got,omitempty"`
	Fix      string `json:"fix,omitempty"` // required when Passed is false
}
