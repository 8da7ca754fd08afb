package patch

import (
	"errors"
	"fmt"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

var (
	// ErrNotApproved is returned when applying an issue that is not approved.
	ErrNotApproved = errors.New("issue is not approved")
	// ErrNotApplied is returned when rolling back an issue that is not applied.
	ErrNotApplied = errors.New("issue is not applied")
	// ErrNoBackup is returned when no backup exists for a rollback.
	ErrNoBackup = errors.New("no backup found")
	// ErrBackupCorrupt is returned when a backup's bytes no longer match its checksum.
	ErrBackupCorrupt = errors.New("backup checksum mismatch")
	// ErrLineOutOfRange is returned when an issue targets a line the file does not have.
	ErrLineOutOfRange = errors.New("line out of range")
)

// BackupFailure reports that a file could not be backed up, so it was not touched.
type BackupFailure struct {
	Path string
	Err  error
}

func (e *BackupFailure) Error() string {
	return fmt.Sprintf("backup %s: %v", e.Path, e.Err)
}

func (e *BackupFailure) Unwrap() error { return e.Err }

// ValidationFailure reports a patched file that failed validation and was restored.
type ValidationFailure struct {
	Path   string
	Result *seo.ValidationResult
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validate %s (tier %d, code %d): %s", e.Path, e.Result.Tier, e.Result.Code, e.Result.Message)
}
