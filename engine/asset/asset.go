// Package asset materializes one collectible image on disk: it decides
// whether the existing file can be kept, and otherwise fetches, normalizes
// and atomically writes it.
package asset

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
	"github.com/tom-jm69/cs-medal-parser/engine/normalize"
	"github.com/tom-jm69/cs-medal-parser/pkg/fn"
	"github.com/tom-jm69/cs-medal-parser/pkg/fsutil"
)

const tracerName = "engine/asset"

// Fetcher downloads image bytes. *fetch.Client satisfies it.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// State is the result of probing an existing target file.
type State int

const (
	StateAbsent State = iota // no file at the target path
	StateStale               // file exists but is undecodable or the wrong size
	StateReady               // file already satisfies the target
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStale:
		return "stale"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Options configures the target canvas and file mode.
type Options struct {
	Width    int
	Height   int
	FileMode fs.FileMode // default 0644
}

// Materializer is safe for concurrent use as long as concurrent calls
// target different files.
type Materializer struct {
	fetcher Fetcher
	opts    Options
	log     *slog.Logger
	steps   fn.Stage[job, job]
}

// job carries one item through fetch, normalize and persist.
type job struct {
	item collectible.Item
	path string
	raw  []byte
	img  *image.NRGBA
}

// New creates a Materializer.
func New(fetcher Fetcher, opts Options, log *slog.Logger) *Materializer {
	if log == nil {
		log = slog.Default()
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0o644
	}
	m := &Materializer{fetcher: fetcher, opts: opts, log: log}
	m.steps = fn.Then(
		fn.Then(
			fn.TracedStage("asset.fetch", fn.Stage[job, job](m.fetch)),
			fn.TracedStage("asset.normalize", fn.Stage[job, job](m.normalize)),
		),
		fn.TracedStage("asset.persist", fn.Stage[job, job](m.persist)),
	)
	return m
}

// Probe inspects path. A stale result carries the reason.
func (m *Materializer) Probe(path string) (State, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return StateAbsent, nil
	}
	w, h, err := normalize.Dimensions(path)
	if err != nil {
		return StateStale, err
	}
	if w != m.opts.Width || h != m.opts.Height {
		return StateStale, fmt.Errorf("size %dx%d, want %dx%d", w, h, m.opts.Width, m.opts.Height)
	}
	return StateReady, nil
}

// Materialize produces the asset for item under outputDir. It never returns
// an error or panics; every failure becomes a failed Outcome.
func (m *Materializer) Materialize(ctx context.Context, item collectible.Item, outputDir string) (out collectible.Outcome) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "asset.materialize",
		trace.WithAttributes(attribute.String("collectible.id", item.ID)))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("materialize panicked", "item", item.ID, "panic", r)
			out = collectible.Fail(item, fmt.Errorf("internal error: %v", r))
		}
		out.Duration = time.Since(start)
		span.SetAttributes(attribute.Bool("asset.skipped", out.Skipped))
		if !out.Succeeded {
			span.SetStatus(codes.Error, out.ErrorDetail)
		}
	}()

	path := filepath.Join(outputDir, item.FileName())
	if !item.SafeStem() || filepath.Dir(path) != filepath.Clean(outputDir) {
		return collectible.Fail(item, fmt.Errorf("%w: %q", collectible.ErrBadID, item.ID))
	}
	if !item.HasImage() {
		return collectible.Fail(item, collectible.ErrNoImageURL)
	}

	switch st, reason := m.Probe(path); st {
	case StateReady:
		m.log.Debug("asset up to date", "item", item.ID, "path", path)
		return collectible.Succeed(item, path, true)
	case StateStale:
		m.log.Info("replacing stale asset", "item", item.ID, "path", path, "reason", reason)
	}

	if _, err := m.steps(ctx, job{item: item, path: path}).Unwrap(); err != nil {
		m.log.Warn("materialize failed", "item", item.ID, "error", err)
		return collectible.Fail(item, err)
	}
	m.log.Debug("asset written", "item", item.ID, "path", path)
	return collectible.Succeed(item, path, false)
}

func (m *Materializer) fetch(ctx context.Context, j job) fn.Result[job] {
	raw, err := m.fetcher.FetchBytes(ctx, j.item.Image)
	if err != nil {
		return fn.Err[job](err)
	}
	j.raw = raw
	return fn.Ok(j)
}

func (m *Materializer) normalize(_ context.Context, j job) fn.Result[job] {
	img, err := normalize.Normalize(j.raw, m.opts.Width, m.opts.Height)
	if err != nil {
		var de *collectible.DecodeError
		if errors.As(err, &de) && de.Source == "" {
			de.Source = j.item.Image
		}
		return fn.Err[job](err)
	}
	j.raw = nil
	j.img = img
	return fn.Ok(j)
}

func (m *Materializer) persist(_ context.Context, j job) fn.Result[job] {
	err := fsutil.WriteAtomic(j.path, m.opts.FileMode, func(w io.Writer) error {
		return normalize.Encode(w, j.img)
	})
	if err != nil {
		return fn.Errf[job]("persist %s: %w", j.path, err)
	}
	return fn.Ok(j)
}
