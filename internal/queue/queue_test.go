package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

// Values read back from Redis are always strings.
func stringify(values map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range values {
		switch x := v.(type) {
		case string:
			out[k] = x
		default:
			out[k] = ""
		}
	}
	return out
}

func TestChunkTaskValues(t *testing.T) {
	task := ChunkTask{JobID: "job-1", Chunk: seo.Chunk{
		JobID: "job-1", FilePath: "index.php", StartLine: 161, EndLine: 340, Text: "<html>", OverlapLines: 20,
	}}
	values, err := chunkValues(task)
	require.NoError(t, err)
	assert.Equal(t, "index.php", values["file_path"])

	got, err := parseChunk(stringify(values))
	require.NoError(t, err)
	assert.Equal(t, task, *got)
}

func TestParseChunkRejectsGarbage(t *testing.T) {
	_, err := parseChunk(map[string]any{"payload": "{"})
	assert.Error(t, err)
	_, err = parseChunk(map[string]any{"payload": `{"job_id":"x","chunk":{}}`})
	assert.Error(t, err)
	_, err = parseChunk(map[string]any{})
	assert.Error(t, err)
}

func TestPatchRequestValues(t *testing.T) {
	req := PatchRequest{JobID: "job-1", IssueID: 42, Op: OpRollback}
	got, err := parsePatch(patchValues(req))
	require.NoError(t, err)
	assert.Equal(t, req, *got)
}

func TestParsePatchRejects(t *testing.T) {
	_, err := parsePatch(map[string]any{"issue_id": "x", "op": OpApply})
	assert.Error(t, err)
	_, err = parsePatch(map[string]any{"issue_id": "1", "op": "delete"})
	assert.Error(t, err)
}

func TestGetString(t *testing.T) {
	values := map[string]any{"a": "x", "b": 3}
	assert.Equal(t, "x", getString(values, "a"))
	assert.Equal(t, "", getString(values, "b"))
	assert.Equal(t, "", getString(values, "c"))
}
