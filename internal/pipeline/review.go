package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sbenjam1n/seopatch/internal/dedup"
	"github.com/sbenjam1n/seopatch/internal/seo"
	"github.com/sbenjam1n/seopatch/internal/store"
)

// ErrUnresolvedPlaceholders is returned when approving code that still
// contains {{NAME}} placeholders.
var ErrUnresolvedPlaceholders = errors.New("code has unresolved placeholders")

// ErrNotReconciled is returned when approving an issue whose file still has
// chunks in analysis or has not been reconciled since its last issue arrived.
var ErrNotReconciled = errors.New("file not reconciled yet")

// Approve approves a pending issue once its file is reconciled. A non-nil
// code replaces the proposed code before approval.
func (p *Pipeline) Approve(ctx context.Context, id int64, code *string) (*seo.Issue, error) {
	is, err := p.store.GetIssue(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("approve issue %d: %w", id, err)
	}
	progress, err := p.store.FileProgress(ctx, is.JobID, is.FilePath)
	if err != nil {
		return nil, fmt.Errorf("approve issue %d: %w", id, err)
	}
	if !progress.Ready() {
		return nil, fmt.Errorf("approve issue %d: %s has %d chunk(s) in analysis: %w",
			id, is.FilePath, progress.PendingChunks, ErrNotReconciled)
	}
	if code != nil {
		is.Code = *code
	}
	if ph := is.Placeholders(); len(ph) > 0 {
		return nil, fmt.Errorf("approve issue %d: %s: %w", id, strings.Join(ph, ", "), ErrUnresolvedPlaceholders)
	}
	if err := is.Transition(seo.StatusApproved); err != nil {
		return nil, fmt.Errorf("approve issue %d: %w", id, err)
	}
	if err := p.store.UpdateIssue(ctx, is); err != nil {
		return nil, fmt.Errorf("approve issue %d: %w", id, err)
	}
	p.log.Info("issue approved", "issue_id", id, "edited", code != nil)
	return is, nil
}

// Reject rejects an issue so it is never applied.
func (p *Pipeline) Reject(ctx context.Context, id int64) (*seo.Issue, error) {
	is, err := p.store.GetIssue(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reject issue %d: %w", id, err)
	}
	if err := is.Transition(seo.StatusRejected); err != nil {
		return nil, fmt.Errorf("reject issue %d: %w", id, err)
	}
	if err := p.store.UpdateIssue(ctx, is); err != nil {
		return nil, fmt.Errorf("reject issue %d: %w", id, err)
	}
	p.log.Info("issue rejected", "issue_id", id)
	return is, nil
}

// Conflicts lists a job's issues held in conflict.
func (p *Pipeline) Conflicts(ctx context.Context, jobID string) ([]seo.Issue, error) {
	return p.store.ListIssues(ctx, store.IssueFilter{JobID: jobID, Statuses: []seo.Status{seo.StatusConflict}})
}

// ResolveConflict picks winnerID among the conflicting replacements on its
// line. It returns the issues that changed.
func (p *Pipeline) ResolveConflict(ctx context.Context, winnerID int64) ([]seo.Issue, error) {
	w, err := p.store.GetIssue(ctx, winnerID)
	if err != nil {
		return nil, fmt.Errorf("resolve conflict: %w", err)
	}
	if w.Status != seo.StatusConflict {
		return nil, fmt.Errorf("resolve conflict: issue %d is %s: %w", winnerID, w.Status, dedup.ErrNotInConflict)
	}
	issues, err := p.store.ListIssues(ctx, store.IssueFilter{JobID: w.JobID, FilePath: w.FilePath})
	if err != nil {
		return nil, fmt.Errorf("resolve conflict: %w", err)
	}
	out, err := dedup.ResolveConflict(issues, winnerID)
	if err != nil {
		return nil, err
	}
	var changed []seo.Issue
	for i := range out {
		if out[i].Status != issues[i].Status {
			changed = append(changed, out[i])
		}
	}
	if err := p.store.UpdateIssues(ctx, changed); err != nil {
		return nil, fmt.Errorf("resolve conflict: %w", err)
	}
	p.log.Info("conflict resolved", "winner", winnerID, "file", w.FilePath, "line", w.LineNumber, "rejected", len(changed)-1)
	return changed, nil
}
