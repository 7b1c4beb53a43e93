package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/kitchen-cli/internal/api"
	"github.com/sells-group/kitchen-cli/internal/app"
	"github.com/sells-group/kitchen-cli/internal/config"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := newHTTPServer(a, cfg.Server, port)
		return runServer(ctx, srv, time.Duration(cfg.Server.ShutdownSecs)*time.Second)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newHTTPServer(a *app.App, sc config.ServerConfig, port int) *http.Server {
	return &http.Server{
		Addr: fmt.Sprintf(":%d", port),
		Handler: api.New(a, api.Options{
			ImportRate:     sc.ImportRate,
			ImportBurst:    sc.ImportBurst,
			AllowedOrigins: sc.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// runServer serves until ctx is cancelled, then drains in-flight requests
// for up to grace.
func runServer(ctx context.Context, srv *http.Server, grace time.Duration) error {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
