package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	ws := t.TempDir()
	t.Setenv("SEOPATCH_WORKSPACE", ws)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ws, cfg.Workspace)
	assert.Equal(t, filepath.Join(ws, ".seopatch", "backups"), cfg.BackupDir)
	assert.Equal(t, 180, cfg.Chunk.MaxLines)
	assert.Equal(t, 20, cfg.Chunk.Overlap)
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 5, cfg.BreakerThreshold)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SEOPATCH_CHUNK_SIZE", "100")
	t.Setenv("SEOPATCH_CHUNK_OVERLAP", "10")
	t.Setenv("SEOPATCH_MAX_CONCURRENT", "8")
	t.Setenv("SEOPATCH_KEYWORDS", "meeting booth, office pod,,")
	t.Setenv("SEOPATCH_BACKUP_DIR", "/var/backups/seo")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Chunk.MaxLines)
	assert.Equal(t, 10, cfg.Chunk.Overlap)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, []string{"meeting booth", "office pod"}, cfg.Keywords)
	assert.Equal(t, "/var/backups/seo", cfg.BackupDir)
}

func TestLoadRejectsBadChunking(t *testing.T) {
	t.Setenv("SEOPATCH_CHUNK_SIZE", "20")
	t.Setenv("SEOPATCH_CHUNK_OVERLAP", "20")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsZeroConcurrency(t *testing.T) {
	t.Setenv("SEOPATCH_MAX_CONCURRENT", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestInt(t *testing.T) {
	t.Setenv("SEOPATCH_TEST_INT", " 42 ")
	assert.Equal(t, 42, Int("SEOPATCH_TEST_INT", 1))
	t.Setenv("SEOPATCH_TEST_INT", "many")
	assert.Equal(t, 1, Int("SEOPATCH_TEST_INT", 1))
	assert.Equal(t, 7, Int("SEOPATCH_TEST_UNSET", 7))
}
