package patch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

// DirBackups keeps append-only backup copies under a root directory.
// Each file gets its own subdirectory and every backup is a new file.
type DirBackups struct {
	root string
	now  func() time.Time
}

// NewDirBackups creates a backup store rooted at root.
func NewDirBackups(root string) *DirBackups {
	return &DirBackups{root: root, now: time.Now}
}

// Save writes a new backup of content for the issue and returns its metadata.
// Existing backups are never overwritten.
func (d *DirBackups) Save(issueID int64, filePath string, content []byte) (*seo.Backup, error) {
	dir := filepath.Join(d.root, storageName(filePath))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	id := uuid.NewString()
	created := d.now().UTC()
	name := fmt.Sprintf("%s_%d_%s.bak", created.Format("20060102T150405.000000000Z"), issueID, id[:8])
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create backup file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return nil, fmt.Errorf("write backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("sync backup: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close backup: %w", err)
	}

	sum := sha256.Sum256(content)
	return &seo.Backup{
		ID:          id,
		IssueID:     issueID,
		FilePath:    filePath,
		StoragePath: path,
		SHA256:      hex.EncodeToString(sum[:]),
		Size:        int64(len(content)),
		CreatedAt:   created,
	}, nil
}

// Read returns the backup's bytes after checking them against its checksum.
func (d *DirBackups) Read(b *seo.Backup) ([]byte, error) {
	data, err := os.ReadFile(b.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("read backup %s: %w", b.ID, err)
	}
	sum := sha256.Sum256(data)
	if int64(len(data)) != b.Size || hex.EncodeToString(sum[:]) != b.SHA256 {
		return nil, fmt.Errorf("backup %s: %w", b.ID, ErrBackupCorrupt)
	}
	return data, nil
}

var unsafeChars = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")

// storageName maps a file path to a flat directory name that stays unique.
func storageName(path string) string {
	sum := sha256.Sum256([]byte(path))
	return fmt.Sprintf("%s-%s", unsafeChars.Replace(filepath.ToSlash(path)), hex.EncodeToString(sum[:4]))
}
