package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xdimtech/go-avatarlink/handler"
	"github.com/xdimtech/go-avatarlink/pkg/config"
	"github.com/xdimtech/go-avatarlink/pkg/protocol/avatar"
)

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a renderer endpoint",
		Long: `Run a websocket endpoint that plays the renderer side of the link.

Every animation_update is answered with an animation_confirmation and every
gesture_trigger with a gesture_confirmation. GET /status reports the number of
live connections and accepted frames.

Examples:
  avatarlink serve
  avatarlink serve --listen=:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = config.Renderer().Listen
			}
			return runServe(cmd.Context(), listen)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (default renderer.listen)")

	return cmd
}

func runServe(parent context.Context, listen string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := config.Renderer()
	reg := prometheus.NewRegistry()
	server := handler.NewWebSocketServer(
		handler.WithPath(rc.Path),
		handler.WithIdleTimeout(rc.IdleTimeout),
		handler.WithPingInterval(rc.PingInterval),
		handler.WithLogger(logger),
		handler.WithRegisterer(reg),
		handler.WithSink(func(_ context.Context, ev avatar.Event) {
			if ce := logger.Check(zap.DebugLevel, "event received"); ce != nil {
				text, _ := avatar.Marshal(ev)
				ce.Write(zap.String("event", text))
			}
		}),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Start(ctx, listen)
	})
	if addr := config.Get().Metrics.Listen; addr != "" {
		group.Go(func() error {
			return serveMetrics(ctx, addr, reg)
		})
	}
	return group.Wait()
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
