package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

// Postgres is the durable Store.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps a connection pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

const issueColumns = `id, COALESCE(job_id, ''), file_path, line_number, issue_type, action,
	code, reason, suggested_rewrite, severity, confidence, review_required,
	status, conflict_with, created_at`

const recordColumns = `id, issue_id, COALESCE(job_id, ''), file_path, line_number, action,
	original_content, patched_content, line_delta, success, error_message,
	applied_at, rolled_back, rolled_back_at`

func (p *Postgres) CreateJob(ctx context.Context, job *seo.Job) error {
	err := p.db.QueryRow(ctx, `
		INSERT INTO jobs (id, root) VALUES ($1, $2)
		RETURNING created_at
	`, job.ID, job.Root).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*seo.Job, error) {
	var job seo.Job
	err := p.db.QueryRow(ctx, `
		SELECT id, root, total_chunks, analyzed_chunks, created_at
		FROM jobs WHERE id = $1
	`, id).Scan(&job.ID, &job.Root, &job.TotalChunks, &job.AnalyzedChunks, &job.CreatedAt)
	if err != nil {
		return nil, notFound(err, "job %s", id)
	}
	return &job, nil
}

func (p *Postgres) AddChunks(ctx context.Context, jobID string, chunks []seo.Chunk) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	added := 0
	for _, c := range chunks {
		tag, err := tx.Exec(ctx, `
			INSERT INTO chunks (job_id, file_path, start_line, end_line, content, overlap_lines)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (job_id, file_path, start_line) DO NOTHING
		`, jobID, c.FilePath, c.StartLine, c.EndLine, c.Text, c.OverlapLines)
		if err != nil {
			return fmt.Errorf("insert chunk %s:%d: %w", c.FilePath, c.StartLine, err)
		}
		added += int(tag.RowsAffected())
	}
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET total_chunks = total_chunks + $1 WHERE id = $2
	`, added, jobID)
	if err != nil {
		return fmt.Errorf("update job %s totals: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("add chunks to job %s: %w", jobID, ErrNotFound)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) MarkChunkAnalyzed(ctx context.Context, jobID, filePath string, startLine int) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Serialize completions per job so exactly one caller sees remaining == 0.
	var id string
	if err := tx.QueryRow(ctx, "SELECT id FROM jobs WHERE id = $1 FOR UPDATE", jobID).Scan(&id); err != nil {
		return 0, notFound(err, "job %s", jobID)
	}

	var wasAnalyzed bool
	err = tx.QueryRow(ctx, `
		SELECT analyzed FROM chunks
		WHERE job_id = $1 AND file_path = $2 AND start_line = $3
	`, jobID, filePath, startLine).Scan(&wasAnalyzed)
	if err != nil {
		return 0, notFound(err, "chunk %s:%d", filePath, startLine)
	}
	if !wasAnalyzed {
		if _, err := tx.Exec(ctx, `
			UPDATE chunks SET analyzed = TRUE
			WHERE job_id = $1 AND file_path = $2 AND start_line = $3
		`, jobID, filePath, startLine); err != nil {
			return 0, fmt.Errorf("mark chunk analyzed: %w", err)
		}
		if _, err := tx.Exec(ctx, "UPDATE jobs SET analyzed_chunks = analyzed_chunks + 1 WHERE id = $1", jobID); err != nil {
			return 0, fmt.Errorf("update job progress: %w", err)
		}
	}

	var remaining int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM chunks
		WHERE job_id = $1 AND file_path = $2 AND NOT analyzed
	`, jobID, filePath).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("count pending chunks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return remaining, nil
}

func (p *Postgres) MarkReconciled(ctx context.Context, jobID, filePath string) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO reconciled_files (job_id, file_path) VALUES ($1, $2)
		ON CONFLICT (job_id, file_path) DO UPDATE SET reconciled_at = NOW()
	`, jobID, filePath)
	if err != nil {
		return fmt.Errorf("mark %s reconciled: %w", filePath, err)
	}
	return nil
}

func (p *Postgres) FileProgress(ctx context.Context, jobID, filePath string) (FileProgress, error) {
	var fp FileProgress
	err := p.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM chunks WHERE job_id = $1 AND file_path = $2 AND NOT analyzed),
			EXISTS (SELECT 1 FROM reconciled_files WHERE job_id = $1 AND file_path = $2)
	`, jobID, filePath).Scan(&fp.PendingChunks, &fp.Reconciled)
	if err != nil {
		return FileProgress{}, fmt.Errorf("file progress %s: %w", filePath, err)
	}
	return fp, nil
}

func (p *Postgres) CreateIssues(ctx context.Context, issues []seo.Issue) ([]seo.Issue, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	out := make([]seo.Issue, len(issues))
	for i, is := range issues {
		err := tx.QueryRow(ctx, `
			INSERT INTO issues (job_id, file_path, line_number, issue_type, action, code,
				reason, suggested_rewrite, severity, confidence, review_required, status, conflict_with)
			VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id, created_at
		`, is.JobID, is.FilePath, is.LineNumber, string(is.IssueType), string(is.Action), is.Code,
			is.Reason, is.SuggestedRewrite, string(is.Severity), is.Confidence, is.ReviewRequired,
			string(is.Status), orEmpty(is.ConflictWith),
		).Scan(&is.ID, &is.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert issue for %s:%d: %w", is.FilePath, is.LineNumber, err)
		}
		out[i] = is
	}
	cleared := map[[2]string]bool{}
	for _, is := range out {
		k := [2]string{is.JobID, is.FilePath}
		if cleared[k] {
			continue
		}
		cleared[k] = true
		if _, err := tx.Exec(ctx, "DELETE FROM reconciled_files WHERE job_id = $1 AND file_path = $2", is.JobID, is.FilePath); err != nil {
			return nil, fmt.Errorf("clear reconciled mark for %s: %w", is.FilePath, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) GetIssue(ctx context.Context, id int64) (*seo.Issue, error) {
	row := p.db.QueryRow(ctx, "SELECT "+issueColumns+" FROM issues WHERE id = $1", id)
	is, err := scanIssue(row)
	if err != nil {
		return nil, notFound(err, "issue %d", id)
	}
	return is, nil
}

func (p *Postgres) ListIssues(ctx context.Context, f IssueFilter) ([]seo.Issue, error) {
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}
	rows, err := p.db.Query(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE ($1 = '' OR job_id = $1)
		  AND ($2 = '' OR file_path = $2)
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		ORDER BY id
	`, f.JobID, f.FilePath, statuses)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var out []seo.Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		out = append(out, *is)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateIssue(ctx context.Context, issue *seo.Issue) error {
	tag, err := p.db.Exec(ctx, updateIssueSQL, updateIssueArgs(issue)...)
	if err != nil {
		return fmt.Errorf("update issue %d: %w", issue.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("issue %d: %w", issue.ID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) UpdateIssues(ctx context.Context, issues []seo.Issue) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := range issues {
		tag, err := tx.Exec(ctx, updateIssueSQL, updateIssueArgs(&issues[i])...)
		if err != nil {
			return fmt.Errorf("update issue %d: %w", issues[i].ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("issue %d: %w", issues[i].ID, ErrNotFound)
		}
	}
	return tx.Commit(ctx)
}

const updateIssueSQL = `
	UPDATE issues
	SET status = $1, code = $2, review_required = $3, conflict_with = $4
	WHERE id = $5
`

func updateIssueArgs(is *seo.Issue) []any {
	return []any{string(is.Status), is.Code, is.ReviewRequired, orEmpty(is.ConflictWith), is.ID}
}

func (p *Postgres) CreatePatchRecord(ctx context.Context, rec *seo.PatchRecord) error {
	err := p.db.QueryRow(ctx, `
		INSERT INTO patch_records (issue_id, job_id, file_path, line_number, action,
			original_content, patched_content, line_delta, success, error_message,
			applied_at, rolled_back, rolled_back_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, rec.IssueID, rec.JobID, rec.FilePath, rec.LineNumber, string(rec.Action),
		rec.OriginalContent, rec.PatchedContent, rec.LineDelta, rec.Success, rec.ErrorMessage,
		rec.AppliedAt, rec.RolledBack, rec.RolledBackAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert patch record for issue %d: %w", rec.IssueID, err)
	}
	return nil
}

func (p *Postgres) MarkRolledBack(ctx context.Context, recordID int64, at time.Time) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE patch_records SET rolled_back = TRUE, rolled_back_at = $1 WHERE id = $2
	`, at, recordID)
	if err != nil {
		return fmt.Errorf("mark record %d rolled back: %w", recordID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patch record %d: %w", recordID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) PatchRecords(ctx context.Context, filePath string) ([]seo.PatchRecord, error) {
	return p.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM patch_records
		WHERE file_path = $1 ORDER BY id
	`, filePath)
}

func (p *Postgres) PatchHistory(ctx context.Context, jobID string, limit int) ([]seo.PatchRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	return p.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM patch_records
		WHERE ($1 = '' OR job_id = $1)
		ORDER BY id DESC LIMIT $2
	`, jobID, limit)
}

func (p *Postgres) queryRecords(ctx context.Context, sql string, args ...any) ([]seo.PatchRecord, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query patch records: %w", err)
	}
	defer rows.Close()

	var out []seo.PatchRecord
	for rows.Next() {
		var r seo.PatchRecord
		var action string
		if err := rows.Scan(
			&r.ID, &r.IssueID, &r.JobID, &r.FilePath, &r.LineNumber, &action,
			&r.OriginalContent, &r.PatchedContent, &r.LineDelta, &r.Success, &r.ErrorMessage,
			&r.AppliedAt, &r.RolledBack, &r.RolledBackAt,
		); err != nil {
			return nil, fmt.Errorf("scan patch record: %w", err)
		}
		r.Action = seo.Action(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateBackup(ctx context.Context, b *seo.Backup) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO backups (id, issue_id, file_path, storage_path, sha256, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.IssueID, b.FilePath, b.StoragePath, b.SHA256, b.Size, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert backup %s: %w", b.ID, err)
	}
	return nil
}

func (p *Postgres) LatestBackup(ctx context.Context, filePath string, issueID int64) (*seo.Backup, error) {
	var b seo.Backup
	err := p.db.QueryRow(ctx, `
		SELECT id, issue_id, file_path, storage_path, sha256, size, created_at
		FROM backups
		WHERE file_path = $1 AND issue_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, filePath, issueID).Scan(&b.ID, &b.IssueID, &b.FilePath, &b.StoragePath, &b.SHA256, &b.Size, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err, "backup for issue %d on %s", issueID, filePath)
	}
	return &b, nil
}

func scanIssue(row pgx.Row) (*seo.Issue, error) {
	var is seo.Issue
	var issueType, action, severity, status string
	err := row.Scan(
		&is.ID, &is.JobID, &is.FilePath, &is.LineNumber, &issueType, &action,
		&is.Code, &is.Reason, &is.SuggestedRewrite, &severity, &is.Confidence, &is.ReviewRequired,
		&status, &is.ConflictWith, &is.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	is.IssueType = seo.IssueType(issueType)
	is.Action = seo.Action(action)
	is.Severity = seo.Severity(severity)
	is.Status = seo.Status(status)
	if len(is.ConflictWith) == 0 {
		is.ConflictWith = nil
	}
	return &is, nil
}

func notFound(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("fetch %s: %w", what, err)
}

func orEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
