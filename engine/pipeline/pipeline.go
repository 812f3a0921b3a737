// Package pipeline classifies a catalog and fans the matches out to a fixed
// pool of materializer workers, collecting one outcome per item.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tom-jm69/cs-medal-parser/engine/classify"
	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
)

// Materializer produces the asset for one item. *asset.Materializer
// satisfies it.
type Materializer interface {
	Materialize(ctx context.Context, item collectible.Item, outputDir string) collectible.Outcome
}

// Options configures a Coordinator.
type Options struct {
	Workers       int // default 10
	ProgressEvery int // completions between progress logs, default 10

	// OnOutcome observes every outcome from the collecting goroutine.
	OnOutcome func(collectible.Outcome)

	// Matchers shares compiled category matchers across runs.
	Matchers *classify.Cache
}

// Coordinator runs the worker pool. It does no image or network I/O itself.
type Coordinator struct {
	m    Materializer
	opts Options
	log  *slog.Logger
}

// New creates a Coordinator.
func New(m Materializer, opts Options, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10
	}
	if opts.Matchers == nil {
		opts.Matchers = classify.NewCache()
	}
	return &Coordinator{m: m, opts: opts, log: log}
}

// Run classifies items against categories and materializes every match
// under outputDir. It returns once every classified item has an outcome.
// Cancelling ctx stops dispatch; items already handed to a worker finish,
// the rest fail with collectible.ErrInterrupted. The only error is an
// unusable category set or output directory.
func (c *Coordinator) Run(ctx context.Context, items []collectible.Item, categories []string, outputDir string) (collectible.RunSummary, error) {
	summary := collectible.RunSummary{StartedAt: time.Now(), CatalogItems: len(items)}

	matcher, err := c.opts.Matchers.Matcher(categories)
	if err != nil {
		return summary, fmt.Errorf("pipeline: %w", err)
	}
	classified := matcher.Filter(items)
	summary.Classified = len(classified)
	c.log.Info("classified catalog",
		"items", len(items), "matched", len(classified), "categories", matcher.Keywords())
	if len(classified) == 0 {
		summary.FinishedAt = time.Now()
		return summary, nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return summary, fmt.Errorf("pipeline: create output dir: %w", err)
	}

	work, superseded := c.resolveCollisions(classified)
	results := make(chan collectible.Outcome, len(classified))
	for _, o := range superseded {
		results <- o
	}

	workers := c.opts.Workers
	if workers > len(work) {
		workers = len(work)
	}
	c.log.Info("materializing assets", "items", len(work), "workers", workers, "output", outputDir)

	// Workers ignore cancellation: an item handed out always runs to completion.
	workCtx := context.WithoutCancel(ctx)
	jobs := make(chan collectible.Item)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range jobs {
				results <- c.m.Materialize(workCtx, it, outputDir)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, it := range work {
			if ctx.Err() == nil {
				select {
				case jobs <- it:
					continue
				case <-ctx.Done():
				}
			}
			c.log.Warn("interrupted, abandoning undispatched items", "remaining", len(work)-i)
			for _, rest := range work[i:] {
				results <- collectible.Fail(rest, collectible.ErrInterrupted)
			}
			return
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	total := len(classified)
	done := 0
	for o := range results {
		done++
		summary.Add(o)
		if c.opts.OnOutcome != nil {
			c.opts.OnOutcome(o)
		}
		if done%c.opts.ProgressEvery == 0 || done == total {
			c.log.Info("progress",
				"completed", done, "total", total,
				"succeeded", summary.Succeeded, "failed", summary.Failed)
		}
	}
	summary.FinishedAt = time.Now()
	return summary, nil
}

// resolveCollisions keeps the last item for every target file name. Earlier
// items with the same target become failed outcomes naming the winner.
func (c *Coordinator) resolveCollisions(items []collectible.Item) ([]collectible.Item, []collectible.Outcome) {
	last := make(map[string]int, len(items))
	for i, it := range items {
		last[it.FileName()] = i
	}
	if len(last) == len(items) {
		return items, nil
	}

	work := make([]collectible.Item, 0, len(last))
	var superseded []collectible.Outcome
	for i, it := range items {
		name := it.FileName()
		winner := items[last[name]]
		if last[name] == i {
			work = append(work, it)
			continue
		}
		c.log.Warn("target file collision, later catalog entry wins",
			"file", name, "dropped", it.ID, "kept", winner.ID)
		superseded = append(superseded, collectible.Fail(it,
			fmt.Errorf("%w: %s is also produced by %s", collectible.ErrTargetCollision, name, winner.ID)))
	}
	return work, superseded
}
