// Package issue turns raw AI proposals into validated issues.
package issue

import (
	"fmt"
	"strings"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

// UnknownActionError reports a proposal whose action is not supported.
type UnknownActionError struct {
	Index  int
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("proposal %d: unknown action %q", e.Index, e.Action)
}

// RejectedProposalError reports a proposal dropped for a malformed field.
type RejectedProposalError struct {
	Index  int
	Field  string
	Reason string
}

func (e *RejectedProposalError) Error() string {
	return fmt.Sprintf("proposal %d: %s %s", e.Index, e.Field, e.Reason)
}

// Normalize validates raw proposals against the chunk that produced them.
// Invalid records are dropped and reported in order. The rest come back as
// pending issues addressed to chunk.FilePath. One bad record never affects
// its siblings.
func Normalize(raw []seo.RawProposal, chunk seo.Chunk) ([]seo.Issue, []error) {
	var issues []seo.Issue
	var errs []error
	for i, p := range raw {
		issue, err := normalizeOne(i, p, chunk)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		issues = append(issues, issue)
	}
	return issues, errs
}

func normalizeOne(i int, p seo.RawProposal, chunk seo.Chunk) (seo.Issue, error) {
	action := seo.Action(strings.TrimSpace(p.Action))
	if !action.Valid() {
		return seo.Issue{}, &UnknownActionError{Index: i, Action: p.Action}
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return seo.Issue{}, &RejectedProposalError{
			Index: i, Field: "confidence", Reason: fmt.Sprintf("%v outside [0, 1]", p.Confidence),
		}
	}
	// Chunk lines are file lines, so mapping is the identity once the range holds.
	if !chunk.Contains(p.Line) {
		return seo.Issue{}, &RejectedProposalError{
			Index: i, Field: "line",
			Reason: fmt.Sprintf("%d outside chunk [%d, %d]", p.Line, chunk.StartLine, chunk.EndLine),
		}
	}
	severity := seo.Severity(strings.ToLower(strings.TrimSpace(p.Severity)))
	if !severity.Valid() {
		return seo.Issue{}, &RejectedProposalError{
			Index: i, Field: "severity", Reason: fmt.Sprintf("%q is not a known severity", p.Severity),
		}
	}

	issue := seo.Issue{
		JobID:            chunk.JobID,
		FilePath:         chunk.FilePath,
		LineNumber:       p.Line,
		IssueType:        seo.IssueType(strings.TrimSpace(p.Type)),
		Action:           action,
		Code:             p.Code,
		Reason:           p.Reason,
		SuggestedRewrite: p.SuggestedRewrite,
		Severity:         severity,
		Confidence:       p.Confidence,
		ReviewRequired:   p.ReviewRequired,
		Status:           seo.StatusPending,
	}
	issue.EnforceReview()
	return issue, nil
}
