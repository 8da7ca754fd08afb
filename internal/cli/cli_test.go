package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "abc", "4.2"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, `<meta>\n<link>`, oneLine("<meta>\n<link>"))
	long := oneLine(strings.Repeat("x", 300))
	assert.Len(t, long, 120)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"init"}, {"chunk"}, {"analyze"}, {"reconcile"}, {"issues"},
		{"approve"}, {"reject"}, {"conflicts"}, {"conflicts", "resolve"},
		{"apply"}, {"rollback"}, {"history"}, {"validate"}, {"gardener"},
		{"breaker", "status"}, {"breaker", "reset"},
		{"queue", "status"}, {"queue", "job"}, {"worker"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
		assert.NotNil(t, cmd.RunE, path)
	}
}

func TestFlags(t *testing.T) {
	assert.NotNil(t, approveCmd.Flags().Lookup("code"))
	assert.NotNil(t, applyCmd.Flags().Lookup("issue"))
	assert.NotNil(t, applyCmd.Flags().Lookup("shared-breaker"))
	assert.NotNil(t, analyzeCmd.Flags().Lookup("dry-run"))
	assert.NotNil(t, workerCmd.Flags().Lookup("patchers"))
}
