// Package store persists jobs, chunks, issues, patch records and backup metadata.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// IssueFilter narrows ListIssues. Zero fields match everything.
type IssueFilter struct {
	JobID    string
	FilePath string
	Statuses []seo.Status
}

func (f IssueFilter) match(is *seo.Issue) bool {
	if f.JobID != "" && is.JobID != f.JobID {
		return false
	}
	if f.FilePath != "" && is.FilePath != f.FilePath {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if is.Status == s {
			return true
		}
	}
	return false
}

// FileProgress is the analysis state of one file in a job.
type FileProgress struct {
	PendingChunks int
	// Reconciled is set once the file's issues were reconciled with no
	// issue added since.
	Reconciled bool
}

// Ready reports whether the file's issues may be approved.
func (p FileProgress) Ready() bool {
	return p.PendingChunks == 0 && p.Reconciled
}

// Store is the full persistence surface. Reads observe every write that
// returned before them.
type Store interface {
	CreateJob(ctx context.Context, job *seo.Job) error
	GetJob(ctx context.Context, id string) (*seo.Job, error)

	// AddChunks records the chunks of a job and raises its chunk total.
	AddChunks(ctx context.Context, jobID string, chunks []seo.Chunk) error
	// MarkChunkAnalyzed flags one chunk as analyzed and returns how many
	// chunks of the same file are still waiting.
	MarkChunkAnalyzed(ctx context.Context, jobID, filePath string, startLine int) (remaining int, err error)
	// MarkReconciled records that a file's issues were reconciled. Creating
	// issues for the file clears the mark.
	MarkReconciled(ctx context.Context, jobID, filePath string) error
	FileProgress(ctx context.Context, jobID, filePath string) (FileProgress, error)

	// CreateIssues assigns IDs and creation times and returns the stored issues.
	CreateIssues(ctx context.Context, issues []seo.Issue) ([]seo.Issue, error)
	GetIssue(ctx context.Context, id int64) (*seo.Issue, error)
	ListIssues(ctx context.Context, f IssueFilter) ([]seo.Issue, error)
	UpdateIssue(ctx context.Context, issue *seo.Issue) error
	// UpdateIssues writes several issues atomically.
	UpdateIssues(ctx context.Context, issues []seo.Issue) error

	CreatePatchRecord(ctx context.Context, rec *seo.PatchRecord) error
	MarkRolledBack(ctx context.Context, recordID int64, at time.Time) error
	// PatchRecords returns a file's records in creation order.
	PatchRecords(ctx context.Context, filePath string) ([]seo.PatchRecord, error)
	// PatchHistory returns a job's most recent records first. An empty
	// jobID covers every job.
	PatchHistory(ctx context.Context, jobID string, limit int) ([]seo.PatchRecord, error)

	CreateBackup(ctx context.Context, b *seo.Backup) error
	LatestBackup(ctx context.Context, filePath string, issueID int64) (*seo.Backup, error)
}
