package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sbenjam1n/seopatch/internal/seo"
	"github.com/sbenjam1n/seopatch/internal/store"
)

// ErrBreakerTripped is returned when patching a job whose breaker has tripped.
var ErrBreakerTripped = errors.New("circuit breaker tripped")

// ApplyReport summarizes a batch apply. Failed maps issue IDs to the reason
// their patch was rolled back or not attempted.
type ApplyReport struct {
	Applied []int64
	Failed  map[int64]string
	Skipped []int64
	Tripped bool
}

// ApplyApproved applies every approved issue of a job. Files are patched
// in parallel. Within a file issues go bottom-up, replacements before
// additions on the same line. Once the job's breaker trips, the remaining
// issues are skipped and stay approved.
func (p *Pipeline) ApplyApproved(ctx context.Context, jobID string) (*ApplyReport, error) {
	if p.engine == nil {
		return nil, errNoEngine
	}
	issues, err := p.store.ListIssues(ctx, store.IssueFilter{JobID: jobID, Statuses: []seo.Status{seo.StatusApproved}})
	if err != nil {
		return nil, fmt.Errorf("list approved issues: %w", err)
	}
	byFile := map[string][]seo.Issue{}
	var files []string
	for _, is := range issues {
		if _, ok := byFile[is.FilePath]; !ok {
			files = append(files, is.FilePath)
		}
		byFile[is.FilePath] = append(byFile[is.FilePath], is)
	}
	sort.Strings(files)

	report := &ApplyReport{Failed: map[int64]string{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)
	for _, f := range files {
		batch := byFile[f]
		SortForApply(batch)
		g.Go(func() error {
			for i := range batch {
				if err := p.applyOne(gctx, &batch[i], report, &mu); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err = g.Wait()

	sort.Slice(report.Applied, func(a, b int) bool { return report.Applied[a] < report.Applied[b] })
	sort.Slice(report.Skipped, func(a, b int) bool { return report.Skipped[a] < report.Skipped[b] })
	p.log.Info("batch apply finished", "job_id", jobID, "applied", len(report.Applied),
		"failed", len(report.Failed), "skipped", len(report.Skipped), "tripped", report.Tripped)
	return report, err
}

// SortForApply orders one file's issues by descending line, with
// replace_line ahead of additive actions on the same line.
func SortForApply(issues []seo.Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		x, y := &issues[a], &issues[b]
		if x.LineNumber != y.LineNumber {
			return x.LineNumber > y.LineNumber
		}
		xr, yr := x.Action == seo.ActionReplaceLine, y.Action == seo.ActionReplaceLine
		if xr != yr {
			return xr
		}
		return x.ID < y.ID
	})
}

func (p *Pipeline) applyOne(ctx context.Context, is *seo.Issue, report *ApplyReport, mu *sync.Mutex) error {
	tripped, err := p.breaker.Tripped(ctx, is.JobID)
	if err != nil {
		return err
	}
	if tripped {
		p.metrics.Patch("skipped")
		mu.Lock()
		report.Skipped = append(report.Skipped, is.ID)
		report.Tripped = true
		mu.Unlock()
		return nil
	}

	rec, err := p.engine.Apply(ctx, is)
	switch {
	case err == nil:
		mu.Lock()
		report.Applied = append(report.Applied, is.ID)
		mu.Unlock()
		return p.breaker.RecordSuccess(ctx, is.JobID)
	case ctx.Err() != nil:
		return ctx.Err()
	case rec == nil:
		// Nothing was attempted, so the breaker is left alone.
		p.log.Warn("patch not attempted", "issue_id", is.ID, "error", err)
		mu.Lock()
		report.Failed[is.ID] = err.Error()
		mu.Unlock()
		return nil
	}

	mu.Lock()
	report.Failed[is.ID] = err.Error()
	mu.Unlock()
	justTripped, berr := p.breaker.RecordFailure(ctx, is.JobID)
	if berr != nil {
		return berr
	}
	if justTripped {
		p.metrics.Trip()
		p.log.Error("circuit breaker tripped, skipping remaining patches", "job_id", is.JobID, "last_issue", is.ID)
		mu.Lock()
		report.Tripped = true
		mu.Unlock()
	}
	return nil
}

// ApplyIssue applies one approved issue.
func (p *Pipeline) ApplyIssue(ctx context.Context, id int64) (*seo.PatchRecord, error) {
	if p.engine == nil {
		return nil, errNoEngine
	}
	is, err := p.store.GetIssue(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("apply issue %d: %w", id, err)
	}
	tripped, err := p.breaker.Tripped(ctx, is.JobID)
	if err != nil {
		return nil, err
	}
	if tripped {
		p.metrics.Patch("skipped")
		return nil, fmt.Errorf("apply issue %d: job %s: %w", id, is.JobID, ErrBreakerTripped)
	}

	rec, err := p.engine.Apply(ctx, is)
	if err == nil {
		return rec, p.breaker.RecordSuccess(ctx, is.JobID)
	}
	if rec != nil {
		if justTripped, berr := p.breaker.RecordFailure(ctx, is.JobID); berr == nil && justTripped {
			p.metrics.Trip()
			p.log.Error("circuit breaker tripped", "job_id", is.JobID, "last_issue", is.ID)
		}
	}
	return rec, err
}

// RollbackIssue reverts one applied issue.
func (p *Pipeline) RollbackIssue(ctx context.Context, id int64) (*seo.PatchRecord, error) {
	if p.engine == nil {
		return nil, errNoEngine
	}
	is, err := p.store.GetIssue(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("rollback issue %d: %w", id, err)
	}
	return p.engine.Rollback(ctx, is)
}

// ResetBreaker clears a job's breaker so patching can resume.
func (p *Pipeline) ResetBreaker(ctx context.Context, jobID string) error {
	return p.breaker.Reset(ctx, jobID)
}
