package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/basinlabs/browserbridge/internal/admin"
	"github.com/basinlabs/browserbridge/internal/ingest"
	"github.com/basinlabs/browserbridge/internal/redaction"
	"github.com/basinlabs/browserbridge/internal/retention"
	"github.com/basinlabs/browserbridge/internal/session"
	"github.com/basinlabs/browserbridge/internal/state"
	"github.com/basinlabs/browserbridge/internal/store"
	"github.com/basinlabs/browserbridge/internal/tools"
)

func serveCmd() *cobra.Command {
	var (
		ingestPort    int
		adminPort     int
		dataDir       string
		redactionPath string
		retentionTick time.Duration
		verbose       bool
		noStdio       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest WebSocket, admin HTTP surface, and MCP stdio tool runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveConfig{
				ingestPort:    ingestPort,
				adminPort:     adminPort,
				dataDir:       dataDir,
				redactionPath: redactionPath,
				retentionTick: retentionTick,
				verbose:       verbose,
				noStdio:       noStdio,
			})
		},
	}

	f := cmd.Flags()
	f.IntVar(&ingestPort, "ingest-port", 7824, "port the browser agent's /ws connection binds to")
	f.IntVar(&adminPort, "admin-port", 7825, "port the admin HTTP surface (spec.md §6) binds to")
	f.StringVar(&dataDir, "data-dir", "", "override the Store's data directory (default: BROWSERBRIDGE_DATA_DIR or state dir)")
	f.StringVar(&redactionPath, "redaction-config", "", "optional path to a redaction rules override file")
	f.DurationVar(&retentionTick, "retention-tick", time.Minute, "how often the retention loop checks whether a cleanup pass is due")
	f.BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	f.BoolVar(&noStdio, "no-stdio", false, "disable the MCP stdio tool runtime (HTTP-only mode, for admin-surface testing)")

	return cmd
}

type serveConfig struct {
	ingestPort    int
	adminPort     int
	dataDir       string
	redactionPath string
	retentionTick time.Duration
	verbose       bool
	noStdio       bool
}

// runServe wires every component (spec.md §1 System Overview) and
// supervises their goroutines with an errgroup, following the pack's
// goclaw-style shutdown discipline: a signal-driven context cancellation,
// each long-running loop exiting on ctx.Done, and a graceful HTTP shutdown
// window before the process exits.
func runServe(ctx context.Context, cfg serveConfig) error {
	log := newLogger(cfg.verbose)

	dataDir := cfg.dataDir
	if dataDir == "" {
		resolved, err := state.DataDir()
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		dataDir = resolved
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(ctx, dataDir, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	redactor := redaction.New(cfg.redactionPath)
	registry := session.NewRegistry()
	pipeline := ingest.New(st, redactor, registry, log)
	retEngine := retention.New(st, log)

	toolRegistry := tools.NewRegistry(version, tools.Deps{
		Store:    st,
		Sessions: registry,
		Redactor: redactor,
		Ingest:   pipeline,
	})

	adminServer := admin.New(st, retEngine, registry, version, log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-runCtx.Done():
		}
	}()

	ingestMux := http.NewServeMux()
	ingestMux.HandleFunc("/ws", pipeline.ServeHTTP)
	ingestSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ingestPort), Handler: ingestMux}

	adminSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.adminPort), Handler: adminServer.Routes()}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		log.Info().Int("port", cfg.ingestPort).Msg("ingest listening")
		if err := ingestSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ingest server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.adminPort).Msg("admin listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := retEngine.Loop(gctx, cfg.retentionTick)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})

	if !cfg.noStdio {
		g.Go(func() error {
			// The stdio transport ending (EOF on stdin, i.e. the MCP client
			// disconnected) is this process's normal lifecycle end, not just
			// one of several independent failures — bring the whole server
			// down with it rather than leaving the HTTP listeners orphaned.
			defer cancel()
			err := tools.Serve(gctx, os.Stdin, os.Stdout, toolRegistry, log)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = ingestSrv.Shutdown(shutdownCtx)
		_ = adminSrv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("serve exited with error")
		return err
	}
	return nil
}
