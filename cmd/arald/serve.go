package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/api"
	audithook "github.com/ara-foundation/ledger/audit_hook"
	"github.com/ara-foundation/ledger/config"
	"github.com/ara-foundation/ledger/observability"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background settlement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	var (
		extra     []ledger.Option
		serveOpts = []api.Option{api.WithLogger(logger)}
	)
	if cfg.HTTP.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))
		extra = append(extra, ledger.WithPlugin(metrics))
		serveOpts = append(serveOpts, api.WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	if cfg.Log.Audit {
		extra = append(extra, ledger.WithPlugin(audithook.New(auditLogger(logger), audithook.WithLogger(logger))))
	}

	l, _, err := a.open(ctx, extra...)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Stop(); err != nil {
			logger.Error("ledger stop failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(l, serveOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr, "store", scheme(cfg.Store.DSN))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// auditLogger records audit events as structured log lines.
func auditLogger(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, ev *audithook.AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"outcome", ev.Outcome,
			"severity", ev.Severity,
			"metadata", ev.Metadata,
		)
		return nil
	})
}

// scheme returns the DSN scheme so credentials never reach the logs.
func scheme(dsn string) string {
	s, _, ok := strings.Cut(dsn, "://")
	if !ok {
		return ""
	}
	return s
}
