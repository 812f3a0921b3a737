package main

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

	"github.com/tom-jm69/cs-medal-parser/engine/app"
	"github.com/tom-jm69/cs-medal-parser/pkg/config"
	"github.com/tom-jm69/cs-medal-parser/pkg/metrics"
	"github.com/tom-jm69/cs-medal-parser/pkg/mid"
	"github.com/tom-jm69/cs-medal-parser/pkg/tracing"
)

func newRunCmd(c *cli) *cobra.Command {
	d := config.Defaults()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch the catalog and materialize every matching collectible",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("catalog-url", d.CatalogURL, "catalog URL")
	f.Int("workers", d.Workers, "concurrent workers")
	f.Int("width", d.TargetWidth, "target width in pixels")
	f.Int("height", d.TargetHeight, "target height in pixels")
	f.Int("metrics-port", d.MetricsPort, "serve /metrics on this port, 0 disables")
	f.Duration("reuse-dump-within", d.ReuseDumpWithin, "reuse a catalog dump younger than this instead of fetching")
	f.String("nats-url", d.NATS.URL, "publish run events to this NATS server")
	return cmd
}

func (c *cli) run(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := c.log

	tp, err := tracing.NewProvider(ctx, c.cfg.Tracing, nil)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	reg := metrics.New()
	if c.cfg.MetricsPort > 0 {
		srv, err := serveMetrics(ctx, reg, c.cfg.MetricsPort, c)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	a, err := app.Build(ctx, c.cfg, reg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("closing sinks", "error", err)
		}
	}()

	log.Info("starting run",
		"catalog", c.cfg.CatalogURL,
		"output", c.cfg.OutputDir,
		"workers", c.cfg.Workers,
		"categories", c.cfg.Categories,
		"size", fmt.Sprintf("%dx%d", c.cfg.TargetWidth, c.cfg.TargetHeight),
	)
	if _, err := a.Run(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		log.Warn("run interrupted, undispatched items were not processed")
		return errInterrupted
	}
	return nil
}

func serveMetrics(ctx context.Context, reg *metrics.Registry, port int, c *cli) (*http.Server, error) {
	reg.CollectRuntime(ctx, "medalparser", 15*time.Second)
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{
		Handler:           mid.Chain(reg.Mux(), mid.Recover(c.log), mid.Logger(c.log), mid.Count(reg), mid.GetOnly),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("metrics server", "error", err)
		}
	}()
	c.log.Info("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}
