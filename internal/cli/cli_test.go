package cli

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pm-assistant/internal/assistant"
	"pm-assistant/internal/channel"
	"pm-assistant/internal/protocol"
	"pm-assistant/internal/realtime"
)

// syncBuffer is written from connection goroutines while tests read it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startStub(t *testing.T) string {
	t.Helper()
	srv := realtime.New(nil, realtime.Options{Handshake: true})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.DisconnectAll()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut syncBuffer
	cmd := NewRootCommandWithIO(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pm-assistant dev")
	assert.Contains(t, out, "commit: unknown")
}

func TestChatCommand_RoundTrip(t *testing.T) {
	base := startStub(t)

	out, _, err := run(t, "create task: Draft roadmap\n\nwhat is due today?\n",
		"chat", "--base-url", base, "--user-id", "7", "--company-id", "3", "--wait", "5s")
	require.NoError(t, err)

	assert.Contains(t, out, "[create_task]")
	assert.Contains(t, out, "Created 1 task: Draft roadmap.")
	assert.Equal(t, 2, strings.Count(out, "assistant"), "one reply per non-empty line")
	assert.Contains(t, out, `You said "what is due today?"`)
	assert.Less(t, strings.Index(out, "Draft roadmap"), strings.Index(out, "You said"), "replies print in order")
}

func TestChatCommand_ServerError(t *testing.T) {
	base := startStub(t)

	out, _, err := run(t, "/fail please\n",
		"chat", "--base-url", base, "--user-id", "7", "--company-id", "3", "--wait", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "the assistant could not finish this answer")
}

func TestChatCommand_RequiresIdentity(t *testing.T) {
	_, _, err := run(t, "", "chat", "--base-url", "ws://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user.id")
	assert.Contains(t, err.Error(), "user.company_id")
}

func TestFlagsAreValidated(t *testing.T) {
	_, _, err := run(t, "", "--log-level", "loud", "search", "al")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestConfigFileAndFlags(t *testing.T) {
	base := startStub(t)
	path := filepath.Join(t.TempDir(), "assistant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ws:
  base_url: ws://127.0.0.1:1
user:
  id: "7"
  company_id: "3"
search:
  debounce: 10ms
`), 0o644))

	// The flag wins over the unreachable address in the file.
	out, _, err := run(t, "", "--config", path, "--base-url", base, "search", "Alice", "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, `1 result(s) for "Alice"`)
	assert.Contains(t, out, "Alice Martin")
}

func TestSearchCommand_Interactive(t *testing.T) {
	base := startStub(t)

	var out, errOut syncBuffer
	r, w := io.Pipe()
	cmd := NewRootCommandWithIO(r, &out, &errOut)
	cmd.SetArgs([]string{"search", "--base-url", base, "--user-id", "7", "--company-id", "3"})

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()

	_, err := w.Write([]byte("Bea\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Beatriz Souza")
	}, 5*time.Second, 20*time.Millisecond)

	_, err = w.Write([]byte(quitCommand + "\n"))
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("search did not exit on /quit")
	}
	_ = w.Close()
}

func TestStubServerCommand(t *testing.T) {
	dirFile := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(dirFile, []byte(`
employees:
  - id: 9
    name: Zora Quinn
    email: zora@example.com
projects:
  - id: p-9
    name: Zeppelin
`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	var out, errOut syncBuffer
	cmd := NewRootCommandWithIO(strings.NewReader(""), &out, &errOut)
	cmd.SetArgs([]string{"stub-server", "--addr", "127.0.0.1:0", "--directory", dirFile, "--chunk-delay", "0s"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	addrRe := regexp.MustCompile(`listening on (ws://\S+)`)
	var base string
	require.Eventually(t, func() bool {
		m := addrRe.FindStringSubmatch(out.String())
		if m == nil {
			return false
		}
		base = m[1]
		return true
	}, 5*time.Second, 20*time.Millisecond)

	searchOut, _, err := run(t, "", "search", "z", "--base-url", base, "--user-id", "1", "--company-id", "1")
	require.NoError(t, err)
	assert.Contains(t, searchOut, "Zora Quinn")
	assert.Contains(t, searchOut, "Zeppelin")
	assert.NotContains(t, searchOut, "Beatriz Souza", "file replaces the built-in directory")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("stub server did not shut down")
	}
}

func TestRenderStatus(t *testing.T) {
	tests := []struct {
		name string
		st   assistant.Status
		want string
	}{
		{"open", assistant.Status{State: channel.StateOpen, MaxAttempts: 20}, ""},
		{"idle and empty", assistant.Status{State: channel.StateIdle, MaxAttempts: 20}, ""},
		{"queued while reconnecting", assistant.Status{State: channel.StateConnecting, Attempt: 2, MaxAttempts: 20, Queued: 3}, "3 queued, reconnecting (2/20)"},
		{"queued before first open", assistant.Status{State: channel.StateConnecting, MaxAttempts: 20, Queued: 1}, "1 queued, connecting"},
		{"reconnecting", assistant.Status{State: channel.StateConnecting, Attempt: 5, MaxAttempts: 20}, "reconnecting (5/20)"},
		{"exhausted", assistant.Status{State: channel.StateClosed, Attempt: 20, MaxAttempts: 20, Queued: 2, Exhausted: true}, "connection lost after 20 attempts; 2 queued message(s) kept"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := renderStatus(tt.st)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestRenderEntryAndResults(t *testing.T) {
	plain := renderEntry(assistant.Entry{Role: assistant.RoleAssistant, Text: "hello"})
	assert.Contains(t, plain, "assistant")
	assert.Contains(t, plain, "hello")
	assert.NotContains(t, plain, "[")

	structured := renderEntry(assistant.Entry{
		Role:       assistant.RoleAssistant,
		Text:       "Created project.",
		Structured: &protocol.Response{Type: "create_project", Message: "Created project."},
	})
	assert.Contains(t, structured, "[create_project]")

	list := renderResults("al", []protocol.SearchResult{
		{Type: protocol.ResultEmployee, ID: []byte(`1`), Name: "Alice Martin"},
		{Type: protocol.ResultProject, ID: []byte(`"p-2"`), Name: "Annual planning"},
	})
	assert.Contains(t, list, `2 result(s) for "al"`)
	assert.Contains(t, list, "Alice Martin")
	assert.Contains(t, list, "(p-2)")
}

func TestChatPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &chatPrinter{out: &out}

	user := assistant.Entry{Role: assistant.RoleUser, Text: "hi"}
	p.entries([]assistant.Entry{user, {Role: assistant.RoleAssistant, Text: "Hel", Streaming: true}})
	assert.Empty(t, out.String(), "streaming entries are not printed")

	p.entries([]assistant.Entry{user, {Role: assistant.RoleAssistant, Text: "Hello"}})
	p.entries([]assistant.Entry{user, {Role: assistant.RoleAssistant, Text: "Hello"}})
	assert.Equal(t, 1, strings.Count(out.String(), "Hello"))
	assert.NotContains(t, out.String(), "hi\n")

	p.status(assistant.Status{State: channel.StateConnecting, Attempt: 1, MaxAttempts: 3, Queued: 1})
	p.status(assistant.Status{State: channel.StateConnecting, Attempt: 1, MaxAttempts: 3, Queued: 1})
	assert.Equal(t, 1, strings.Count(out.String(), "1 queued, reconnecting (1/3)"))
}

func TestSettled(t *testing.T) {
	u := assistant.Entry{Role: assistant.RoleUser}
	a := assistant.Entry{Role: assistant.RoleAssistant}
	s := assistant.Entry{Role: assistant.RoleAssistant, Streaming: true}

	assert.True(t, settled(nil, 0))
	assert.False(t, settled(nil, 1))
	assert.False(t, settled([]assistant.Entry{u}, 0))
	assert.False(t, settled([]assistant.Entry{u, s}, 0))
	assert.False(t, settled([]assistant.Entry{u, u, a}, 0))
	assert.True(t, settled([]assistant.Entry{u, u, a, a}, 0))
}
