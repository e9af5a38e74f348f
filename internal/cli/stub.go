package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pm-assistant/internal/config"
	"pm-assistant/internal/realtime"
	"pm-assistant/internal/watcher"
)

func newStubServerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub-server",
		Short: "Run a local stand-in for the realtime service",
		Long: `Serves /ai-assistant/{userId}/ and /search/{companyId}/{userId}/ with
canned, chunked replies and a searchable directory, plus a small REST API
over the conversations it has seen (/sessions, /healthz).

Queries starting with /fail are answered halfway and then aborted with an
error frame. With --directory the directory is loaded from a YAML file and
reloaded whenever the file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runStub(ctx)
		},
	}

	d := config.DefaultConfig().Stub
	f := cmd.Flags()
	f.String("addr", d.Addr, "listen address")
	f.Int("chunk-size", d.ChunkSize, "maximum reply fragment size in bytes")
	f.Duration("chunk-delay", d.ChunkDelay, "pause between reply fragments")
	f.Bool("handshake", d.Handshake, "send connection_established after upgrade")
	f.String("directory", d.Directory, "YAML file with employees, tasks and projects")
	return cmd
}

func (a *app) runStub(ctx context.Context) error {
	log := a.log()
	stub := a.cfg.Stub

	dir := realtime.DefaultDirectory()
	if stub.Directory != "" {
		if err := dir.Reload(stub.Directory); err != nil {
			return err
		}
		fw := watcher.New(0, func(path string) {
			if err := dir.Reload(path); err != nil {
				log.Warn("directory reload failed, keeping previous entries", zap.String("path", path), zap.Error(err))
				return
			}
			log.Info("directory reloaded", zap.String("path", path), zap.Int("entries", dir.Len()))
		}, log)
		defer fw.Shutdown()
		if err := fw.Watch(stub.Directory); err != nil {
			return err
		}
	}

	a.cfgMgr.Watch(func(c config.Config) {
		if err := a.logger.SetLevel(c.Log.Level); err != nil {
			log.Warn("cannot apply log level", zap.Error(err))
		}
	})

	rt := realtime.New(dir, realtime.Options{
		ChunkSize:  stub.ChunkSize,
		ChunkDelay: stub.ChunkDelay,
		Handshake:  stub.Handshake,
		Logger:     log,
	})

	if err := a.serveMetrics(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", stub.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", stub.Addr, err)
	}
	srv := &http.Server{Handler: rt.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		rt.DisconnectAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(a.stdout, "stub server listening on ws://%s\n", ln.Addr())
	log.Info("stub server started",
		zap.String("addr", ln.Addr().String()),
		zap.Int("directory_entries", dir.Len()),
		zap.Bool("handshake", stub.Handshake))

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("stub server: %w", err)
	}
	return nil
}
