// Package gardener sweeps a job for state that has drifted away from what the
// patch log expects: files edited since they were patched, backups that can
// no longer restore them, and reviews left hanging.
package gardener

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sbenjam1n/seopatch/internal/seo"
	"github.com/sbenjam1n/seopatch/internal/store"
)

// Finding categories.
const (
	FileDrift      = "file_drift"
	MissingFile    = "missing_file"
	MissingBackup  = "missing_backup"
	CorruptBackup  = "corrupt_backup"
	StaleConflict  = "stale_conflict"
	OrphanApproval = "orphan_approval"
)

// DefaultStaleAfter is how long a conflict may wait before it is reported.
const DefaultStaleAfter = 7 * 24 * time.Hour

// Finding is one problem discovered by a sweep.
type Finding struct {
	FilePath    string `json:"file_path"`
	IssueID     int64  `json:"issue_id,omitempty"`
	Category    string `json:"category"`
	Description string `json:"description"`
	// Blocking is set when a rollback of the file would fail or lose edits.
	Blocking bool `json:"blocking"`
}

// BackupReader reads the bytes of a stored backup, verifying its checksum.
type BackupReader interface {
	Read(b *seo.Backup) ([]byte, error)
}

// Gardener runs sweeps against a workspace.
type Gardener struct {
	root       string
	store      store.Store
	backups    BackupReader
	staleAfter time.Duration
	now        func() time.Time
}

// New creates a Gardener for the workspace at root. A zero staleAfter uses
// DefaultStaleAfter.
func New(root string, st store.Store, backups BackupReader, staleAfter time.Duration) *Gardener {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Gardener{root: root, store: st, backups: backups, staleAfter: staleAfter, now: time.Now}
}

// Sweep inspects one job and returns its findings, blocking ones first.
func (g *Gardener) Sweep(ctx context.Context, jobID string) ([]Finding, error) {
	var findings []Finding

	applied, err := g.checkApplied(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("applied patches: %w", err)
	}
	findings = append(findings, applied...)

	conflicts, err := g.findStaleConflicts(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("stale conflicts: %w", err)
	}
	findings = append(findings, conflicts...)

	orphans, err := g.findOrphanApprovals(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("orphan approvals: %w", err)
	}
	findings = append(findings, orphans...)

	sort.SliceStable(findings, func(a, b int) bool {
		if findings[a].Blocking != findings[b].Blocking {
			return findings[a].Blocking
		}
		return findings[a].FilePath < findings[b].FilePath
	})
	return findings, nil
}

// checkApplied verifies every applied issue can still be rolled back and
// that its file still holds what the last live patch wrote.
func (g *Gardener) checkApplied(ctx context.Context, jobID string) ([]Finding, error) {
	issues, err := g.store.ListIssues(ctx, store.IssueFilter{JobID: jobID, Statuses: []seo.Status{seo.StatusApplied}})
	if err != nil {
		return nil, err
	}

	var findings []Finding
	files := map[string]bool{}
	for _, is := range issues {
		files[is.FilePath] = true

		b, err := g.store.LatestBackup(ctx, is.FilePath, is.ID)
		if errors.Is(err, store.ErrNotFound) {
			findings = append(findings, Finding{
				FilePath:    is.FilePath,
				IssueID:     is.ID,
				Category:    MissingBackup,
				Description: fmt.Sprintf("Issue %d is applied but has no backup. It cannot be rolled back.", is.ID),
				Blocking:    true,
			})
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err := g.backups.Read(b); err != nil {
			findings = append(findings, Finding{
				FilePath:    is.FilePath,
				IssueID:     is.ID,
				Category:    CorruptBackup,
				Description: fmt.Sprintf("Backup %s for issue %d is unreadable: %v", b.StoragePath, is.ID, err),
				Blocking:    true,
			})
		}
	}

	paths := make([]string, 0, len(files))
	for f := range files {
		paths = append(paths, f)
	}
	sort.Strings(paths)
	for _, f := range paths {
		finding, err := g.checkDrift(ctx, f)
		if err != nil {
			return nil, err
		}
		if finding != nil {
			findings = append(findings, *finding)
		}
	}
	return findings, nil
}

func (g *Gardener) checkDrift(ctx context.Context, filePath string) (*Finding, error) {
	records, err := g.store.PatchRecords(ctx, filePath)
	if err != nil {
		return nil, err
	}
	var last *seo.PatchRecord
	for i := range records {
		if records[i].Live() {
			last = &records[i]
		}
	}
	if last == nil {
		return nil, nil
	}

	current, err := os.ReadFile(g.resolve(filePath))
	if errors.Is(err, os.ErrNotExist) {
		return &Finding{
			FilePath:    filePath,
			IssueID:     last.IssueID,
			Category:    MissingFile,
			Description: fmt.Sprintf("%s was patched but no longer exists.", filePath),
			Blocking:    true,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if string(current) == last.PatchedContent {
		return nil, nil
	}
	return &Finding{
		FilePath: filePath,
		IssueID:  last.IssueID,
		Category: FileDrift,
		Description: fmt.Sprintf("%s changed after issue %d was applied. Rolling back would discard those edits.",
			filePath, last.IssueID),
		Blocking: true,
	}, nil
}

func (g *Gardener) findStaleConflicts(ctx context.Context, jobID string) ([]Finding, error) {
	issues, err := g.store.ListIssues(ctx, store.IssueFilter{JobID: jobID, Statuses: []seo.Status{seo.StatusConflict}})
	if err != nil {
		return nil, err
	}
	cutoff := g.now().Add(-g.staleAfter)
	var findings []Finding
	for _, is := range issues {
		if is.CreatedAt.After(cutoff) {
			continue
		}
		findings = append(findings, Finding{
			FilePath: is.FilePath,
			IssueID:  is.ID,
			Category: StaleConflict,
			Description: fmt.Sprintf("Issue %d on %s:%d has been in conflict with %v since %s.",
				is.ID, is.FilePath, is.LineNumber, is.ConflictWith, is.CreatedAt.Format("2006-01-02")),
		})
	}
	return findings, nil
}

func (g *Gardener) findOrphanApprovals(ctx context.Context, jobID string) ([]Finding, error) {
	issues, err := g.store.ListIssues(ctx, store.IssueFilter{JobID: jobID, Statuses: []seo.Status{seo.StatusApproved}})
	if err != nil {
		return nil, err
	}
	var findings []Finding
	for _, is := range issues {
		_, err := os.Stat(g.resolve(is.FilePath))
		if err == nil {
			continue
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		findings = append(findings, Finding{
			FilePath:    is.FilePath,
			IssueID:     is.ID,
			Category:    OrphanApproval,
			Description: fmt.Sprintf("Issue %d is approved but %s no longer exists. Reject it.", is.ID, is.FilePath),
		})
	}
	return findings, nil
}

func (g *Gardener) resolve(p string) string {
	if g.root == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(g.root, filepath.FromSlash(p))
}
