// Package patch applies approved issues to files with a backup, a validation
// gate and automatic rollback, and reverses applied issues on request.
package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sbenjam1n/seopatch/internal/logger"
	"github.com/sbenjam1n/seopatch/internal/markup"
	"github.com/sbenjam1n/seopatch/internal/metrics"
	"github.com/sbenjam1n/seopatch/internal/seo"
)

// Store persists what the engine produces.
type Store interface {
	GetIssue(ctx context.Context, id int64) (*seo.Issue, error)
	UpdateIssue(ctx context.Context, issue *seo.Issue) error
	CreatePatchRecord(ctx context.Context, rec *seo.PatchRecord) error
	MarkRolledBack(ctx context.Context, recordID int64, at time.Time) error
	PatchRecords(ctx context.Context, filePath string) ([]seo.PatchRecord, error)
	CreateBackup(ctx context.Context, b *seo.Backup) error
	LatestBackup(ctx context.Context, filePath string, issueID int64) (*seo.Backup, error)
}

// Validator checks a patched file.
type Validator interface {
	Validate(ctx context.Context, path string, content []byte) *seo.ValidationResult
}

// Backups stores and retrieves file copies.
type Backups interface {
	Save(issueID int64, filePath string, content []byte) (*seo.Backup, error)
	Read(b *seo.Backup) ([]byte, error)
}

// Options configures an Engine.
type Options struct {
	// Root is the workspace that issue file paths are relative to.
	Root      string
	Store     Store
	Backups   Backups
	Validator Validator
	Formatter Formatter
	Locker    Locker
	Log       *logger.Logger
	Metrics   *metrics.Metrics
}

// Engine applies and rolls back issues. Operations on one file are
// serialized by the Locker. Different files proceed in parallel.
type Engine struct {
	root      string
	store     Store
	backups   Backups
	validator Validator
	formatter Formatter
	locker    Locker
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates an Engine. Store, Backups and Validator are required.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Backups == nil || opts.Validator == nil {
		return nil, errors.New("patch engine: store, backups and validator are required")
	}
	e := &Engine{
		root:      opts.Root,
		store:     opts.Store,
		backups:   opts.Backups,
		validator: opts.Validator,
		formatter: opts.Formatter,
		locker:    opts.Locker,
		log:       opts.Log,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
	if e.formatter == nil {
		e.formatter = markup.CommentFormatter{}
	}
	if e.locker == nil {
		e.locker = NewLocalLocks()
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	e.log = e.log.With("component", "patch_engine")
	return e, nil
}

// Apply runs backup, mutate, validate and then commit or rollback for an
// approved issue. It always returns the PatchRecord of the attempt once the
// backup stage is reached. A failed attempt also returns a *BackupFailure,
// a *ValidationFailure or the mutation error, and leaves the file
// byte-identical to its state before the call.
func (e *Engine) Apply(ctx context.Context, is *seo.Issue) (*seo.PatchRecord, error) {
	if is.Status != seo.StatusApproved {
		return nil, fmt.Errorf("apply issue %d (%s): %w", is.ID, is.Status, ErrNotApproved)
	}
	path := e.resolve(is.FilePath)
	unlock, err := e.locker.Lock(ctx, LockKey(path))
	if err != nil {
		return nil, fmt.Errorf("apply issue %d: %w", is.ID, err)
	}
	defer unlock()

	log := e.log.With("issue_id", is.ID, "file", is.FilePath, "line", is.LineNumber, "action", is.Action)
	rec := &seo.PatchRecord{
		IssueID:    is.ID,
		JobID:      is.JobID,
		FilePath:   is.FilePath,
		LineNumber: is.LineNumber,
		Action:     is.Action,
		AppliedAt:  e.now(),
	}

	original, err := os.ReadFile(path)
	if err == nil {
		rec.OriginalContent = string(original)
		err = e.backup(ctx, is, original)
	}
	if err != nil {
		log.Error("backup failed, file untouched", "error", err)
		e.metrics.Patch("backup_failed")
		return e.fail(ctx, is, rec, &BackupFailure{Path: is.FilePath, Err: err})
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("apply issue %d: %w", is.ID, err)
	}

	records, err := e.store.PatchRecords(ctx, is.FilePath)
	if err != nil {
		return nil, fmt.Errorf("apply issue %d: load history: %w", is.ID, err)
	}
	line := is.LineNumber + lineOffset(records, is)

	patched, delta, err := e.mutateAndValidate(ctx, path, original, is, line)
	if err != nil {
		if rerr := e.restore(ctx, path, is, original); rerr != nil {
			log.Error("restore after failed patch did not complete", "error", rerr, "cause", err)
			return nil, fmt.Errorf("apply issue %d: restore after %v: %w", is.ID, err, rerr)
		}
		at := e.now()
		rec.RolledBack = true
		rec.RolledBackAt = &at
		log.Warn("patch rolled back", "error", err)
		e.metrics.Patch("failed")
		return e.fail(ctx, is, rec, err)
	}

	rec.PatchedContent = string(patched)
	rec.LineDelta = delta
	rec.Success = true
	if err := is.Transition(seo.StatusApplied); err != nil {
		return nil, err
	}
	if err := e.store.UpdateIssue(ctx, is); err != nil {
		return nil, fmt.Errorf("apply issue %d: save issue: %w", is.ID, err)
	}
	if err := e.store.CreatePatchRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("apply issue %d: save record: %w", is.ID, err)
	}
	log.Info("patch applied", "target_line", line, "line_delta", delta)
	e.metrics.Patch("applied")
	return rec, nil
}

// Rollback restores the most recent backup taken for an applied issue.
// Patches applied to the same file after that backup are reverted by the
// restore too, so they are marked rolled back as well.
func (e *Engine) Rollback(ctx context.Context, is *seo.Issue) (*seo.PatchRecord, error) {
	if is.Status != seo.StatusApplied {
		return nil, fmt.Errorf("rollback issue %d (%s): %w", is.ID, is.Status, ErrNotApplied)
	}
	path := e.resolve(is.FilePath)
	unlock, err := e.locker.Lock(ctx, LockKey(path))
	if err != nil {
		return nil, fmt.Errorf("rollback issue %d: %w", is.ID, err)
	}
	defer unlock()

	records, err := e.store.PatchRecords(ctx, is.FilePath)
	if err != nil {
		return nil, fmt.Errorf("rollback issue %d: load history: %w", is.ID, err)
	}
	var target *seo.PatchRecord
	for i := range records {
		if records[i].IssueID == is.ID && records[i].Live() {
			target = &records[i]
		}
	}
	if target == nil {
		return nil, fmt.Errorf("rollback issue %d: no live patch record: %w", is.ID, ErrNotApplied)
	}

	content, err := e.latestBackup(ctx, is)
	if err != nil {
		return nil, fmt.Errorf("rollback issue %d: %w", is.ID, err)
	}
	if err := writeVerified(path, content); err != nil {
		return nil, fmt.Errorf("rollback issue %d: %w", is.ID, err)
	}

	at := e.now()
	for i := range records {
		later := &records[i]
		if later.ID <= target.ID || !later.Live() {
			continue
		}
		if err := e.cascade(ctx, later, at); err != nil {
			return nil, fmt.Errorf("rollback issue %d: cascade to issue %d: %w", is.ID, later.IssueID, err)
		}
	}

	if err := e.store.MarkRolledBack(ctx, target.ID, at); err != nil {
		return nil, fmt.Errorf("rollback issue %d: mark record: %w", is.ID, err)
	}
	target.RolledBack = true
	target.RolledBackAt = &at
	if err := is.Transition(seo.StatusRolledBack); err != nil {
		return nil, err
	}
	if err := e.store.UpdateIssue(ctx, is); err != nil {
		return nil, fmt.Errorf("rollback issue %d: save issue: %w", is.ID, err)
	}
	e.log.Info("patch rolled back on request", "issue_id", is.ID, "file", is.FilePath)
	e.metrics.Rollback()
	return target, nil
}

func (e *Engine) cascade(ctx context.Context, rec *seo.PatchRecord, at time.Time) error {
	if err := e.store.MarkRolledBack(ctx, rec.ID, at); err != nil {
		return err
	}
	other, err := e.store.GetIssue(ctx, rec.IssueID)
	if err != nil {
		return err
	}
	if other.Status != seo.StatusApplied {
		return nil
	}
	if err := other.Transition(seo.StatusRolledBack); err != nil {
		return err
	}
	e.log.Warn("later patch reverted by rollback", "issue_id", other.ID, "file", other.FilePath)
	e.metrics.Rollback()
	return e.store.UpdateIssue(ctx, other)
}

func (e *Engine) backup(ctx context.Context, is *seo.Issue, content []byte) error {
	b, err := e.backups.Save(is.ID, is.FilePath, content)
	if err != nil {
		return err
	}
	return e.store.CreateBackup(ctx, b)
}

func (e *Engine) latestBackup(ctx context.Context, is *seo.Issue) ([]byte, error) {
	b, err := e.store.LatestBackup(ctx, is.FilePath, is.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBackup, err)
	}
	return e.backups.Read(b)
}

// mutateAndValidate writes the patched bytes and validates the file as it is on disk.
func (e *Engine) mutateAndValidate(ctx context.Context, path string, original []byte, is *seo.Issue, line int) (patched []byte, delta int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("patch panicked: %v", r)
		}
	}()

	patched, delta, err = Mutate(original, is.FilePath, line, is.Action, is.Code, e.formatter)
	if err != nil {
		return nil, 0, err
	}
	if err := os.WriteFile(path, patched, fileMode(path)); err != nil {
		return nil, 0, fmt.Errorf("write patched file: %w", err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read patched file: %w", err)
	}
	if result := e.validator.Validate(ctx, path, onDisk); !result.Passed {
		return nil, 0, &ValidationFailure{Path: is.FilePath, Result: result}
	}
	return patched, delta, nil
}

// restore puts the backup back, falling back to the in-memory copy taken
// before the backup if the backup cannot be read.
func (e *Engine) restore(ctx context.Context, path string, is *seo.Issue, original []byte) error {
	content, err := e.latestBackup(ctx, is)
	if err != nil {
		e.log.Warn("backup unreadable, restoring from memory", "issue_id", is.ID, "error", err)
		content = original
	}
	return writeVerified(path, content)
}

func (e *Engine) fail(ctx context.Context, is *seo.Issue, rec *seo.PatchRecord, cause error) (*seo.PatchRecord, error) {
	rec.Success = false
	rec.ErrorMessage = cause.Error()
	if err := is.Transition(seo.StatusFailed); err != nil {
		return nil, err
	}
	if err := e.store.UpdateIssue(ctx, is); err != nil {
		return nil, fmt.Errorf("apply issue %d: save issue: %w", is.ID, err)
	}
	if err := e.store.CreatePatchRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("apply issue %d: save record: %w", is.ID, err)
	}
	return rec, cause
}

func (e *Engine) resolve(p string) string {
	if e.root == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.root, filepath.FromSlash(p))
}

// lineOffset shifts an original-file line number past lines added by live
// patches of the same job earlier in the file. Another job chunked the file
// after its own patches landed, so its line numbers already include them.
func lineOffset(records []seo.PatchRecord, is *seo.Issue) int {
	offset := 0
	for _, r := range records {
		if !r.Live() || r.LineDelta == 0 || r.JobID != is.JobID {
			continue
		}
		before := r.LineNumber < is.LineNumber
		replacedHere := r.LineNumber == is.LineNumber && r.Action == seo.ActionReplaceLine && is.Action.Additive()
		if before || replacedHere {
			offset += r.LineDelta
		}
	}
	return offset
}

func writeVerified(path string, content []byte) error {
	if err := os.WriteFile(path, content, fileMode(path)); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("verify restore %s: %w", path, err)
	}
	if !bytes.Equal(got, content) {
		return fmt.Errorf("verify restore %s: content differs after write", path)
	}
	return nil
}

func fileMode(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0644
}
