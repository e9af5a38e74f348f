// Package cli is the pm-assistant command tree: an interactive assistant
// chat, a one-shot mention search and a local stand-in server.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pm-assistant/internal/config"
	"pm-assistant/internal/logging"
	"pm-assistant/internal/metrics"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

// SetBuildInfo sets version info injected at build time.
func SetBuildInfo(v, date, commit string) {
	version = v
	buildDate = date
	gitCommit = commit
}

type app struct {
	configPath string

	cfgMgr *config.Manager
	cfg    config.Config
	logger *logging.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"base-url":     "ws.base_url",
	"user-id":      "user.id",
	"company-id":   "user.company_id",
	"admin":        "user.is_admin",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
	"metrics-addr": "metrics.addr",

	// stub-server
	"addr":        "stub.addr",
	"chunk-size":  "stub.chunk_size",
	"chunk-delay": "stub.chunk_delay",
	"handshake":   "stub.handshake",
	"directory":   "stub.directory",
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{stdin: in, stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:   "pm-assistant",
		Short: "Realtime assistant and mention search client",
		Long: `pm-assistant talks to the realtime assistant service of the PM workspace.

  pm-assistant chat              # converse with the assistant
  pm-assistant search al         # look up people, tasks and projects
  pm-assistant stub-server       # run a local stand-in service`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	pf.String("base-url", "", "realtime service base URL (ws:// or wss://)")
	pf.String("user-id", "", "user id sent with every query")
	pf.String("company-id", "", "company id used by search and query context")
	pf.Bool("admin", false, "mark queries as coming from an admin")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (console|json)")
	pf.String("log-file", "", "also write logs to this rotated file")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.setup(cmd)
	}
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		a.close()
	}

	cmd.AddCommand(
		newChatCmd(a),
		newSearchCmd(a),
		newStubServerCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command with the process's standard streams.
func Execute() error {
	return NewRootCommand().Execute()
}

// setup loads configuration, lets explicitly set flags override it and
// builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	a.cfgMgr = config.NewManager(a.configPath, nil)
	v := a.cfgMgr.Viper()
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	if err := a.cfgMgr.Load(); err != nil {
		return err
	}
	a.cfg = a.cfgMgr.Get()

	opts := a.cfg.LoggingOptions()
	opts.Stderr = a.stderr
	logger, err := logging.New(opts)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func (a *app) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger.Logger
}

// serveMetrics exposes /metrics on the configured address until ctx ends.
// It is a no-op when no address is configured.
func (a *app) serveMetrics(ctx context.Context) error {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log().Error("metrics server failed", zap.Error(err))
		}
	}()

	a.log().Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pm-assistant %s\n", version)
			fmt.Fprintf(out, "  build:  %s\n", buildDate)
			fmt.Fprintf(out, "  commit: %s\n", gitCommit)
		},
	}
}
