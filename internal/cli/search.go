package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pm-assistant/internal/channel"
	"pm-assistant/internal/protocol"
	"pm-assistant/internal/search"
)

func newSearchCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "search [term]",
		Short: "Look up mention candidates",
		Long: `Searches employees, tasks and projects by name.

With a term the first result list is printed and the command exits.
Without one, each stdin line is treated as the picker's current text and
every result list is printed as it arrives.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateClient(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess := a.newSearchSession()
			defer sess.Close()
			if err := a.serveMetrics(ctx); err != nil {
				return err
			}
			if err := sess.Start(); err != nil {
				return err
			}
			if len(args) == 1 {
				return a.searchOnce(ctx, sess, args[0], timeout)
			}
			return a.searchInteractive(ctx, sess)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for results")
	return cmd
}

func (a *app) newSearchSession() *search.Session {
	return search.New(search.Options{
		BaseURL:           a.cfg.WS.BaseURL,
		UserID:            a.cfg.User.ID,
		CompanyID:         a.cfg.User.CompanyID,
		Dialer:            channel.WebSocketDialer{},
		Policy:            a.cfg.Policy(),
		HandshakeFallback: a.cfg.Handshake.Fallback,
		Debounce:          a.cfg.Search.Debounce,
		PollInterval:      a.cfg.Search.PollInterval,
		Logger:            a.log(),
	})
}

func (a *app) searchOnce(ctx context.Context, sess *search.Session, term string, timeout time.Duration) error {
	results := make(chan []protocol.SearchResult, 1)
	sess.OnResults(func(r []protocol.SearchResult) {
		select {
		case results <- r:
		default:
		}
	})
	sess.Search(term)

	select {
	case r := <-results:
		fmt.Fprint(a.stdout, renderResults(term, r))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("no results for %q within %s", term, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *app) searchInteractive(ctx context.Context, sess *search.Session) error {
	sess.OnResults(func(r []protocol.SearchResult) {
		fmt.Fprint(a.stdout, renderResults(sess.LastTerm(), r))
	})

	lines := readLines(a.stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == quitCommand {
				return nil
			}
			sess.Search(strings.TrimSpace(line))
		}
	}
}
