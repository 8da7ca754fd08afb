package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/sbenjam1n/seopatch/internal/dedup"
	"github.com/sbenjam1n/seopatch/internal/seo"
	"github.com/sbenjam1n/seopatch/internal/store"
)

// ReconcileFile reconciles the issues of one file in a job and saves the
// issues whose status or conflict set changed.
func (p *Pipeline) ReconcileFile(ctx context.Context, jobID, filePath string) (seo.ConflictSummary, error) {
	issues, err := p.store.ListIssues(ctx, store.IssueFilter{JobID: jobID, FilePath: filePath})
	if err != nil {
		return seo.ConflictSummary{}, fmt.Errorf("reconcile %s: %w", filePath, err)
	}
	return p.reconcile(ctx, jobID, issues)
}

// ReconcileJob reconciles every file of a job.
func (p *Pipeline) ReconcileJob(ctx context.Context, jobID string) (seo.ConflictSummary, error) {
	issues, err := p.store.ListIssues(ctx, store.IssueFilter{JobID: jobID})
	if err != nil {
		return seo.ConflictSummary{}, fmt.Errorf("reconcile job %s: %w", jobID, err)
	}
	return p.reconcile(ctx, jobID, issues)
}

func (p *Pipeline) reconcile(ctx context.Context, jobID string, issues []seo.Issue) (seo.ConflictSummary, error) {
	out, summary := dedup.Reconcile(issues)

	var changed []seo.Issue
	counts := map[seo.Status]int{}
	for i := range out {
		if out[i].Status == issues[i].Status && slices.Equal(out[i].ConflictWith, issues[i].ConflictWith) {
			continue
		}
		changed = append(changed, out[i])
		if out[i].Status != issues[i].Status {
			counts[out[i].Status]++
		}
	}
	if len(changed) > 0 {
		if err := p.store.UpdateIssues(ctx, changed); err != nil {
			return summary, fmt.Errorf("save reconciled issues: %w", err)
		}
	}
	files := map[string]bool{}
	for i := range out {
		if files[out[i].FilePath] {
			continue
		}
		files[out[i].FilePath] = true
		if err := p.store.MarkReconciled(ctx, jobID, out[i].FilePath); err != nil {
			return summary, err
		}
	}
	for status, n := range counts {
		p.metrics.Reconcile(string(status), n)
	}
	p.log.Info("issues reconciled", "job_id", jobID, "issues", len(issues), "changed", len(changed),
		"superseded", summary.Superseded, "conflicts", summary.Conflicts)
	return summary, nil
}
