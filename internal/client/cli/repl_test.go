package cli

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubExec struct {
	calls []string
}

func (s *stubExec) Chats(context.Context)                 { s.calls = append(s.calls, "chats") }
func (s *stubExec) Open(_ context.Context, peer string)   { s.calls = append(s.calls, "open:"+peer) }
func (s *stubExec) CloseChat()                            { s.calls = append(s.calls, "close") }
func (s *stubExec) History(_ context.Context, lim string) { s.calls = append(s.calls, "history:"+lim) }
func (s *stubExec) Backfill(context.Context)              { s.calls = append(s.calls, "backfill") }
func (s *stubExec) Send(_ context.Context, text string)   { s.calls = append(s.calls, "send:"+text) }
func (s *stubExec) Attach(_ context.Context, path string) { s.calls = append(s.calls, "attach:"+path) }
func (s *stubExec) Resend(_ context.Context, id string)   { s.calls = append(s.calls, "resend:"+id) }
func (s *stubExec) Flush(context.Context)                 { s.calls = append(s.calls, "flush") }

func runScript(t *testing.T, script string) (*stubExec, []string) {
	t.Helper()

	var printed []string
	orig := printlnFn
	printlnFn = func(args ...any) {
		parts := make([]string, len(args))
		for i, a := range args {
			if s, ok := a.(string); ok {
				parts[i] = s
			}
		}
		printed = append(printed, strings.Join(parts, " "))
	}
	t.Cleanup(func() { printlnFn = orig })

	exec := &stubExec{}
	runREPL(context.Background(), exec, func() string { return "alice" }, bufio.NewScanner(strings.NewReader(script)))
	return exec, printed
}

func TestREPLDispatch(t *testing.T) {
	exec, _ := runScript(t, strings.Join([]string{
		"chats",
		"open bob",
		"send hello there",
		"history 5",
		"backfill",
		"attach /tmp/cat.jpg",
		"resend cm-9",
		"flush",
		"close",
		"exit",
	}, "\n"))

	assert.Equal(t, []string{
		"chats",
		"open:bob",
		"send:hello there",
		"history:5",
		"backfill",
		"attach:/tmp/cat.jpg",
		"resend:cm-9",
		"flush",
		"close",
	}, exec.calls)
}

func TestREPLUsageAndUnknown(t *testing.T) {
	exec, printed := runScript(t, strings.Join([]string{
		"open",
		"send",
		"attach",
		"frobnicate",
		"",
		"quit",
	}, "\n"))

	assert.Empty(t, exec.calls)
	assert.Contains(t, printed, "Usage: open <user>")
	assert.Contains(t, printed, "Usage: send <text>")
	assert.Contains(t, printed, "Usage: attach <path>")
	assert.Contains(t, printed, "Unknown command: frobnicate")
}

func TestREPLExitsOnEOF(t *testing.T) {
	exec, _ := runScript(t, "chats")
	assert.Equal(t, []string{"chats"}, exec.calls)
}
