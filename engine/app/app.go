// Package app runs one complete parse: obtain the catalog, archive it,
// classify and materialize the matches, then report to every sink.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tom-jm69/cs-medal-parser/engine/archive"
	"github.com/tom-jm69/cs-medal-parser/engine/classify"
	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
	"github.com/tom-jm69/cs-medal-parser/engine/pipeline"
	"github.com/tom-jm69/cs-medal-parser/pkg/config"
	"github.com/tom-jm69/cs-medal-parser/pkg/metrics"
)

const tracerName = "engine/app"

// failureSample is how many failures the final summary itemizes.
const failureSample = 5

// reportTimeout bounds the sink writes after the pipeline has finished.
const reportTimeout = 10 * time.Second

// CatalogFetcher downloads the catalog document.
type CatalogFetcher interface {
	FetchCatalog(ctx context.Context, url string) ([]byte, error)
}

// RunRecorder persists run summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, s collectible.RunSummary) error
}

// GraphRecorder mirrors outcomes into the asset graph.
type GraphRecorder interface {
	Record(ctx context.Context, runID string, items map[string]collectible.Item, outcomes []collectible.Outcome, m *classify.Matcher) error
}

// EventPublisher streams outcomes and summaries.
type EventPublisher interface {
	Outcome(ctx context.Context, runID string, o collectible.Outcome)
	Summary(ctx context.Context, s collectible.RunSummary) error
}

// Deps are the collaborators of a run. Catalog and Materializer are
// required; nil sinks are skipped.
type Deps struct {
	Catalog      CatalogFetcher
	Materializer pipeline.Materializer
	History      RunRecorder
	Registry     GraphRecorder
	Notifier     EventPublisher
	Metrics      *metrics.Registry
	Matchers     *classify.Cache
}

// App executes runs for one configuration.
type App struct {
	cfg    config.Config
	deps   Deps
	log    *slog.Logger
	now    func() time.Time
	closer []func(context.Context) error

	catalogItems *metrics.Gauge
	classified   *metrics.Gauge
	lastRun      *metrics.Gauge
	runDuration  *metrics.Histogram
	assets       func(result string) *metrics.Counter
}

// New creates an App.
func New(cfg config.Config, deps Deps, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	if deps.Matchers == nil {
		deps.Matchers = classify.NewCache()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	return &App{
		cfg:  cfg,
		deps: deps,
		log:  log,
		now:  time.Now,

		catalogItems: reg.Gauge("medalparser_catalog_items", "Valid records in the last catalog."),
		classified:   reg.Gauge("medalparser_classified_items", "Items matched by the category set in the last run."),
		lastRun:      reg.Gauge("medalparser_last_run_timestamp", "Unix time the last run finished."),
		runDuration: reg.Histogram("medalparser_run_duration_seconds", "Wall time of a full run.",
			[]float64{1, 5, 15, 30, 60, 120, 300, 600}),
		assets: func(result string) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("medalparser_assets_total", "result", result),
				"Materialization outcomes by result.")
		},
	}
}

// Run performs one parse. A catalog that cannot be fetched or parsed, an
// empty catalog and a run where nothing matched are errors; individual
// item failures are not and are itemized in the returned summary.
func (a *App) Run(ctx context.Context) (collectible.RunSummary, error) {
	runID := uuid.NewString()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "app.run", trace.WithAttributes(
		attribute.String("app.run_id", runID),
		attribute.String("app.catalog_url", a.cfg.CatalogURL),
	))
	defer span.End()

	summary, err := a.run(ctx, runID)
	span.SetAttributes(
		attribute.Int("app.classified", summary.Classified),
		attribute.Int("app.failed", summary.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return summary, err
}

func (a *App) run(ctx context.Context, runID string) (collectible.RunSummary, error) {
	started := a.now()
	items, fromDump, err := a.catalog(ctx)
	if err != nil {
		return collectible.RunSummary{RunID: runID, StartedAt: started, FinishedAt: a.now()}, err
	}
	if len(items) == 0 {
		return collectible.RunSummary{RunID: runID, StartedAt: started, FinishedAt: a.now()}, collectible.ErrEmptyCatalog
	}
	a.catalogItems.Set(float64(len(items)))
	if !fromDump {
		if _, err := archive.NewWriter(a.cfg.DumpDir, a.log).Dump(items); err != nil {
			a.log.Error("catalog dump failed, continuing", "dir", a.cfg.DumpDir, "error", err)
		}
	}

	byID := make(map[string]collectible.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	var outcomes []collectible.Outcome
	events := context.WithoutCancel(ctx)
	coord := pipeline.New(a.deps.Materializer, pipeline.Options{
		Workers:  a.cfg.Workers,
		Matchers: a.deps.Matchers,
		OnOutcome: func(o collectible.Outcome) {
			outcomes = append(outcomes, o)
			a.assets(result(o)).Inc()
			if a.deps.Notifier != nil {
				a.deps.Notifier.Outcome(events, runID, o)
			}
		},
	}, a.log)

	summary, err := coord.Run(ctx, items, a.cfg.Categories, a.cfg.OutputDir)
	summary.RunID = runID
	summary.StartedAt = started
	if err != nil {
		return summary, err
	}
	a.classified.Set(float64(summary.Classified))
	if summary.Classified == 0 {
		a.log.Warn("no catalog items matched the categories", "categories", a.cfg.Categories)
		return summary, collectible.ErrNoItemsClassified
	}

	a.report(ctx, summary, byID, outcomes)
	a.logSummary(summary)
	return summary, nil
}

// catalog returns the parsed catalog, reusing a fresh dump when enabled.
func (a *App) catalog(ctx context.Context) ([]collectible.Item, bool, error) {
	if a.cfg.ReuseDumpWithin > 0 {
		path, fresh, err := archive.Fresh(a.cfg.DumpDir, a.cfg.ReuseDumpWithin, a.now())
		switch {
		case err != nil:
			a.log.Warn("dump lookup failed, fetching catalog", "dir", a.cfg.DumpDir, "error", err)
		case fresh:
			items, err := archive.Load(path, a.log)
			if err == nil {
				a.log.Info("reusing recent catalog dump", "path", path, "items", len(items))
				return items, true, nil
			}
			a.log.Warn("dump unreadable, fetching catalog", "path", path, "error", err)
		}
	}

	a.log.Info("fetching catalog", "url", a.cfg.CatalogURL)
	data, err := a.deps.Catalog.FetchCatalog(ctx, a.cfg.CatalogURL)
	if err != nil {
		return nil, false, &collectible.CatalogError{URL: a.cfg.CatalogURL, Err: err}
	}
	items, err := collectible.ParseCatalog(data, a.log)
	if err != nil {
		var ce *collectible.CatalogError
		if errors.As(err, &ce) && ce.URL == "" {
			ce.URL = a.cfg.CatalogURL
		}
		return nil, false, err
	}
	return items, false, nil
}

// report hands the summary to every configured sink. Sink failures are
// logged and never fail the run. Reporting survives an interrupt.
func (a *App) report(ctx context.Context, s collectible.RunSummary, byID map[string]collectible.Item, outcomes []collectible.Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	a.runDuration.Observe(s.Elapsed().Seconds())
	a.lastRun.SetToCurrentTime()

	if a.deps.History != nil {
		if err := a.deps.History.RecordRun(ctx, s); err != nil {
			a.log.Error("history write failed", "run_id", s.RunID, "error", err)
		}
	}
	if a.deps.Registry != nil {
		m, err := a.deps.Matchers.Matcher(a.cfg.Categories)
		if err == nil {
			err = a.deps.Registry.Record(ctx, s.RunID, byID, outcomes, m)
		}
		if err != nil {
			a.log.Error("registry write failed", "run_id", s.RunID, "error", err)
		}
	}
	if a.deps.Notifier != nil {
		if err := a.deps.Notifier.Summary(ctx, s); err != nil {
			a.log.Error("summary publish failed", "run_id", s.RunID, "error", err)
		}
	}
}

func (a *App) logSummary(s collectible.RunSummary) {
	a.log.Info("run finished",
		"run_id", s.RunID,
		"catalog", s.CatalogItems,
		"classified", s.Classified,
		"fetched", s.Fetched(),
		"skipped", s.Skipped,
		"failed", s.Failed,
		"elapsed", s.Elapsed().Round(time.Millisecond).String(),
	)
	for _, f := range s.Sample(failureSample) {
		a.log.Warn("failed item", "item", f.ItemID, "file", f.FileName, "error", f.ErrorDetail)
	}
	if rest := s.Failed - failureSample; rest > 0 {
		a.log.Warn(fmt.Sprintf("%d more failures not shown", rest))
	}
}

// Close releases the sinks opened by Build.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closer) - 1; i >= 0; i-- {
		if err := a.closer[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func result(o collectible.Outcome) string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.Succeeded:
		return "fetched"
	default:
		return "failed"
	}
}
