package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tom-jm69/cs-medal-parser/engine/asset"
	"github.com/tom-jm69/cs-medal-parser/engine/classify"
	"github.com/tom-jm69/cs-medal-parser/engine/history"
	"github.com/tom-jm69/cs-medal-parser/engine/notify"
	"github.com/tom-jm69/cs-medal-parser/engine/registry"
	"github.com/tom-jm69/cs-medal-parser/pkg/config"
	"github.com/tom-jm69/cs-medal-parser/pkg/fetch"
	"github.com/tom-jm69/cs-medal-parser/pkg/metrics"
)

// FetchOptions maps the configuration onto the HTTP client options.
func FetchOptions(cfg config.Config, reg *metrics.Registry) fetch.Options {
	return fetch.Options{
		Timeout:          cfg.Timeout(),
		MaxRetries:       cfg.MaxRetries,
		InitialBackoff:   cfg.RetryBackoff,
		MaxBackoff:       cfg.MaxBackoff,
		UserAgent:        cfg.UserAgent,
		MaxBodyBytes:     cfg.MaxImageBytes,
		RateLimit:        cfg.RateLimit,
		Burst:            cfg.RateBurst,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		Metrics:          reg,
	}
}

// Build wires the production collaborators for cfg: one shared HTTP client,
// the asset materializer and whichever sinks are configured. Call Close
// when done.
func Build(ctx context.Context, cfg config.Config, reg *metrics.Registry, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	client := fetch.New(FetchOptions(cfg, reg), log)
	deps := Deps{
		Catalog:      client,
		Materializer: asset.New(client, asset.Options{Width: cfg.TargetWidth, Height: cfg.TargetHeight}, log),
		Metrics:      reg,
		Matchers:     classify.NewCache(),
	}
	var closers []func(context.Context) error
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](ctx)
		}
		return nil, err
	}

	if cfg.HistoryDB != "" {
		store, err := history.Open(ctx, cfg.HistoryDB)
		if err != nil {
			return fail(fmt.Errorf("app: %w", err))
		}
		deps.History = store
		closers = append(closers, func(context.Context) error { return store.Close() })
	}
	if cfg.Neo4j.URL != "" {
		graph, err := registry.Open(ctx, cfg.Neo4j.URL, cfg.Neo4j.User, cfg.Neo4j.Pass, cfg.Neo4j.Database, log)
		if err != nil {
			return fail(fmt.Errorf("app: %w", err))
		}
		deps.Registry = graph
		closers = append(closers, graph.Close)
	}
	if cfg.NATS.URL != "" {
		n, err := notify.Connect(cfg.NATS.URL, cfg.NATS.Subject, log)
		if err != nil {
			return fail(fmt.Errorf("app: %w", err))
		}
		deps.Notifier = n
		closers = append(closers, func(context.Context) error { n.Close(); return nil })
	}

	a := New(cfg, deps, log)
	a.closer = closers
	return a, nil
}
