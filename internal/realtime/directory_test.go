package realtime

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pm-assistant/internal/protocol"
)

const directoryYAML = `
employees:
  - id: 7
    name: Dana Scully
    email: dana@example.com
tasks:
  - id: 11
    name: Draft budget
    status: open
projects:
  - id: p-3
    name: Data migration
`

func TestLoadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(directoryYAML), 0o644))

	entries, err := LoadDirectory(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, protocol.ResultEmployee, entries[0].Type)
	assert.Equal(t, "7", entries[0].IDString())
	assert.JSONEq(t, `"dana@example.com"`, string(entries[0].Extra["email"]))
	assert.Equal(t, protocol.ResultTask, entries[1].Type)
	assert.Equal(t, protocol.ResultProject, entries[2].Type)
	assert.Equal(t, "p-3", entries[2].IDString())
}

func TestLoadDirectory_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadDirectory(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("employees: [\n"), 0o644))
	_, err = LoadDirectory(bad)
	assert.Error(t, err)

	unnamed := filepath.Join(dir, "unnamed.yaml")
	require.NoError(t, os.WriteFile(unnamed, []byte("tasks:\n  - id: 1\n"), 0o644))
	_, err = LoadDirectory(unnamed)
	assert.ErrorContains(t, err, "has no name")
}

func TestDirectory_ReloadKeepsEntriesOnError(t *testing.T) {
	d := DefaultDirectory()
	before := d.Len()

	assert.Error(t, d.Reload(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Equal(t, before, d.Len())

	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(directoryYAML), 0o644))
	require.NoError(t, d.Reload(path))
	assert.Equal(t, 3, d.Len())
}

func TestDirectory_Search(t *testing.T) {
	d := DefaultDirectory()

	got := d.Search("LOGIN", 0)
	require.Len(t, got, 1)
	assert.Equal(t, "Fix login timeout", got[0].Name)

	assert.Len(t, d.Search("", 0), d.Len())
	assert.Len(t, d.Search("", 2), 2)
	assert.NotNil(t, d.Search("nothing matches", 0))
	assert.Empty(t, d.Search("nothing matches", 0))
}

func TestSearchResultWireShape(t *testing.T) {
	r := mustResult(protocol.ResultEmployee, 1, "Alice", map[string]interface{}{"email": "a@example.com"})
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"employee","id":1,"name":"Alice","email":"a@example.com"}`, string(data))
}

func TestBuildReply(t *testing.T) {
	tests := []struct {
		query    string
		wantType string
	}{
		{"hi there", replyPlain},
		{"Please create task: write docs", replyCreateTask},
		{"create project: Launch", replyCreateProject},
		{"mark the docs task done", replyUpdateTask},
		{"show my timesheet", replyTimesheet},
	}
	for _, tt := range tests {
		reply := buildReply(tt.query, 1)
		assert.Equal(t, tt.wantType, reply.Type, tt.query)
		assert.NotEmpty(t, reply.Message, tt.query)
	}

	task := buildReply("create task: write docs", 2)
	assert.Equal(t, "Created 1 task: write docs.", task.Message)
	assert.JSONEq(t, `[{"id":1002,"name":"write docs","status":"open"}]`, string(task.Tasks))

	update := buildReply("update: login bug", 1)
	assert.JSONEq(t, `["status"]`, string(update.ChangesMade))
}

func TestSplitChunks(t *testing.T) {
	assert.Equal(t, []string{"abc"}, splitChunks("abc", 10))
	assert.Equal(t, []string{"abc"}, splitChunks("abc", 0))
	assert.Equal(t, []string{"ab", "cd", "e"}, splitChunks("abcde", 2))

	s := `{"message":"café über naïve"}`
	chunks := splitChunks(s, 3)
	assert.Equal(t, s, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %q splits a rune", c)
		assert.LessOrEqual(t, len(c), 3)
	}

	// A rune wider than the chunk size is kept whole.
	assert.Equal(t, []string{"€", "€"}, splitChunks("€€", 1))
}
