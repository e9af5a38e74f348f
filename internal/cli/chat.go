package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pm-assistant/internal/assistant"
	"pm-assistant/internal/channel"
)

const quitCommand = "/quit"

func newChatCmd(a *app) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant",
		Long: `Reads one query per line from stdin and prints the assistant's replies.

Queries typed while the connection is down are queued and sent in order
once it reopens. Type /quit or send EOF to leave; on EOF the command waits
up to --wait for outstanding replies.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.ValidateClient(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runChat(ctx, wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for outstanding replies after EOF")
	return cmd
}

func (a *app) runChat(ctx context.Context, wait time.Duration) error {
	if err := a.serveMetrics(ctx); err != nil {
		return err
	}

	sess := assistant.New(assistant.Options{
		BaseURL:           a.cfg.WS.BaseURL,
		UserID:            a.cfg.User.ID,
		CompanyID:         a.cfg.User.CompanyID,
		IsAdmin:           a.cfg.User.IsAdmin,
		Dialer:            channel.WebSocketDialer{},
		Policy:            a.cfg.Policy(),
		HandshakeFallback: a.cfg.Handshake.Fallback,
		Logger:            a.log(),
	})
	defer sess.Close()

	p := &chatPrinter{out: a.stdout}
	sess.OnMessage(p.entries)
	sess.OnStatus(p.status)

	a.log().Debug("starting chat", zap.String("endpoint", sess.Endpoint()))
	if err := sess.Start(); err != nil {
		return err
	}

	lines := readLines(a.stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return awaitReplies(ctx, sess, wait)
			}
			line = strings.TrimSpace(line)
			if line == quitCommand {
				return nil
			}
			if err := sess.Send(line); err != nil && !errors.Is(err, assistant.ErrEmptyMessage) {
				return err
			}
		}
	}
}

// readLines delivers stdin lines on a channel that is closed at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// awaitReplies blocks until every query has an answer, the connection
// gives up, ctx ends or wait elapses.
func awaitReplies(ctx context.Context, sess *assistant.Session, wait time.Duration) error {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if sess.Status().Exhausted || settled(sess.Entries(), sess.QueuedCount()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return fmt.Errorf("timed out after %s waiting for replies", wait)
		case <-tick.C:
		}
	}
}

func settled(entries []assistant.Entry, queued int) bool {
	if queued > 0 {
		return false
	}
	var asked, answered int
	for _, e := range entries {
		switch {
		case e.Streaming:
			return false
		case e.Role == assistant.RoleUser:
			asked++
		default:
			answered++
		}
	}
	return answered >= asked
}

// chatPrinter writes finished replies and status changes. Callbacks arrive
// from connection goroutines.
type chatPrinter struct {
	out io.Writer

	mu         sync.Mutex
	printed    int
	lastStatus string
}

func (p *chatPrinter) entries(entries []assistant.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.printed < len(entries) {
		e := entries[p.printed]
		if e.Streaming {
			return
		}
		if e.Role == assistant.RoleAssistant {
			fmt.Fprintln(p.out, renderEntry(e))
		}
		p.printed++
	}
}

func (p *chatPrinter) status(st assistant.Status) {
	line := renderStatus(st)
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.lastStatus {
		return
	}
	p.lastStatus = line
	if line != "" {
		fmt.Fprintln(p.out, line)
	}
}
