package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	"github.com/jsvensson/inlinelogo"
	"github.com/jsvensson/inlinelogo/internal/config"
	"github.com/jsvensson/inlinelogo/internal/inline"
	"github.com/jsvensson/inlinelogo/internal/metrics"
	"github.com/jsvensson/inlinelogo/internal/proxy"
)

const shutdownTimeout = 10 * time.Second

var log = commonlog.GetLogger("inlinelogo")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve an upstream site with its logos inlined",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	site, err := inlinelogo.Load(flagConfig, inline.WithObserver(m))
	if err != nil {
		return err
	}
	cfg := site.Config
	if err := applyServeFlags(cfg); err != nil {
		return err
	}

	rp, err := proxy.New(proxy.Config{
		Upstream: cfg.Serve.Upstream,
		Inliner:  site.Inliner,
		Pages:    m,
	})
	if err != nil {
		return err
	}
	handler := proxy.NewRouter(rp, proxy.RouterConfig{
		RateLimit: cfg.Serve.RateLimit,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return listenAndServe(ctx, &http.Server{
		Addr:              cfg.Serve.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, cfg.Serve.Upstream.String())
}

func applyServeFlags(cfg *config.Config) error {
	if flagListen != "" {
		cfg.Serve.Listen = flagListen
	}
	if flagUpstream != "" {
		u, err := parseBaseURL(flagUpstream)
		if err != nil {
			return fmt.Errorf("--upstream: %w", err)
		}
		cfg.Serve.Upstream = u
	}
	if flagRateLimit >= 0 {
		cfg.Serve.RateLimit = flagRateLimit
	}
	if cfg.Serve.Upstream == nil {
		return errors.New("no upstream: set serve.upstream in the config or pass --upstream")
	}
	return nil
}

func listenAndServe(ctx context.Context, srv *http.Server, upstream string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Noticef("listening on %s, proxying %s", srv.Addr, upstream)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Noticef("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
