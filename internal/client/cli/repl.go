package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = func(args ...any) { fmt.Println(args...) }

// execIface is the command surface the REPL dispatches to. The real App
// satisfies it; tests use a stub.
type execIface interface {
	Chats(ctx context.Context)
	Open(ctx context.Context, peer string)
	CloseChat()
	History(ctx context.Context, limit string)
	Backfill(ctx context.Context)
	Send(ctx context.Context, text string)
	Attach(ctx context.Context, path string)
	Resend(ctx context.Context, clientMessageID string)
	Flush(ctx context.Context)
}

const helpText = `Available commands:
  chats              list conversations with unread counts
  open <user>        open a conversation (marks incoming as read)
  close              leave the current conversation
  history [n]        show the last n messages (default 20)
  backfill           pull older history from the server
  send <text>        send a message to the open conversation
  attach <path>      upload a file and send it
  resend <id>        resend a failed message as a new send
  flush              retransmit anything stuck in the outbox
  exit | quit        leave`

// runREPL reads commands line by line and dispatches them. Handlers
// report their own errors; the loop only cares about I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		fmt.Printf("msg (%s)> ", statusFn())
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)

		case "chats":
			a.Chats(ctx)

		case "open":
			if len(args) == 0 {
				printlnFn("Usage: open <user>")
				continue
			}
			a.Open(ctx, args[0])

		case "close":
			a.CloseChat()

		case "history":
			limit := ""
			if len(args) > 0 {
				limit = args[0]
			}
			a.History(ctx, limit)

		case "backfill":
			a.Backfill(ctx)

		case "send":
			if len(args) == 0 {
				printlnFn("Usage: send <text>")
				continue
			}
			a.Send(ctx, strings.Join(args, " "))

		case "attach":
			if len(args) == 0 {
				printlnFn("Usage: attach <path>")
				continue
			}
			a.Attach(ctx, args[0])

		case "resend":
			if len(args) == 0 {
				printlnFn("Usage: resend <id>")
				continue
			}
			a.Resend(ctx, args[0])

		case "flush":
			a.Flush(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
