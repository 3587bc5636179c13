package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/schema"
	"github.com/roach88/fieldsync/internal/server"
	"github.com/roach88/fieldsync/internal/store"
)

// shutdownTimeout bounds how long in-flight requests may finish after a
// stop signal.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command. Empty flags fall back to
// the config file.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Database string
	Token    string
	Schema   string

	// ready, when set, receives the bound address once the listener is up.
	ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reference record backend",
		Long: `Serve records over HTTP from a SQLite database.

Field writes are checked against a CUE schema before they are stored, so
invalid values come back as validation failures and read-only fields as
forbidden. The server stops gracefully on SIGINT or SIGTERM.

Example:
  fieldsync serve --db ./records.db --listen :8080 --token secret
  fieldsync serve --db ./records.db --schema ./activity.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "address to listen on (default from config, :8080)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token required on /api routes")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE file with field constraints (default: built-in activity schema)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	listen := firstNonEmpty(opts.Listen, cfg.Listen, config.DefaultListen)
	dbPath := firstNonEmpty(opts.Database, cfg.Database)
	token := firstNonEmpty(opts.Token, cfg.Token)
	schemaPath := firstNonEmpty(opts.Schema, cfg.Schema)
	log := opts.Logger

	if dbPath == "" {
		return NewExitError(ExitCommandError, "no database: pass --db or set database in the config")
	}

	sch, err := loadSchema(schemaPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load schema", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("error closing database")
		}
	}()

	handler := server.New(st,
		server.WithToken(token),
		server.WithLogger(log),
		server.WithValidator(sch),
	)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	addr := ln.Addr().String()
	log.Info().Str("addr", addr).Str("db", dbPath).Bool("auth", token != "").Msg("server listening")
	if !formatter(opts.RootOptions, cmd).JSON() {
		fmt.Fprintf(cmd.OutOrStdout(), "Serving records on %s. Press Ctrl-C to stop.\n", addr)
	}
	if opts.ready != nil {
		opts.ready(addr)
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	log.Info().Msg("server stopped gracefully")
	return nil
}

func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return schema.Default(), nil
	}
	return schema.Load(path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
