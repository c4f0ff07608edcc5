package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"healthcore/internal/api"
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	root   *rootOptions
	listen string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{root: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "listen address (overrides HEALTHCORE_LISTEN_ADDR)")
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, log, err := loadConfig(opts.root)
	if err != nil {
		return err
	}
	if opts.listen != "" {
		cfg.ListenAddr = opts.listen
	}
	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.WithError(err).Warn("close stores")
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(app.services, log.WithField("component", "api")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
