package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-jm69/cs-medal-parser/engine/archive"
	"github.com/tom-jm69/cs-medal-parser/engine/asset"
	"github.com/tom-jm69/cs-medal-parser/engine/classify"
	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
	"github.com/tom-jm69/cs-medal-parser/engine/history"
	"github.com/tom-jm69/cs-medal-parser/pkg/config"
	"github.com/tom-jm69/cs-medal-parser/pkg/fetch"
	"github.com/tom-jm69/cs-medal-parser/pkg/metrics"
)

type catalogServer struct {
	*httptest.Server
	mu          sync.Mutex
	catalog     string
	catalogHits int
	catalogCode int
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newCatalogServer(t *testing.T) *catalogServer {
	t.Helper()
	img := pngBytes(t, 40, 20)
	cs := &catalogServer{catalogCode: http.StatusOK}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/collectibles.json":
			cs.mu.Lock()
			cs.catalogHits++
			code, body := cs.catalogCode, cs.catalog
			cs.mu.Unlock()
			w.WriteHeader(code)
			fmt.Fprint(w, body)
		case strings.HasPrefix(r.URL.Path, "/img/ok"):
			w.Header().Set("Content-Type", "image/png")
			w.Write(img)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(cs.Close)
	cs.serve(http.StatusOK, fmt.Sprintf(`[
		{"id": "collectible-1", "name": "Gold Pin", "type": "Pin", "image": %q},
		{"id": "collectible-2", "name": "Gold Coin", "description": "a coin", "image": %q},
		{"id": "collectible-3", "name": "Sticker", "type": "Sticker", "image": %q},
		{"id": "collectible-4", "name": "Lost Pin", "type": "Pin"},
		{"id": "collectible-5", "name": "Broken Pin", "type": "Pin", "image": %q},
		{"id": 17}
	]`, cs.URL+"/img/ok1.png", cs.URL+"/img/ok2.png", cs.URL+"/img/ok3.png", cs.URL+"/img/missing.png"))
	return cs
}

func (cs *catalogServer) serve(code int, body string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.catalogCode, cs.catalog = code, body
}

func (cs *catalogServer) hits() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.catalogHits
}

func testConfig(t *testing.T, catalogURL string) config.Config {
	t.Helper()
	cfg := config.Defaults()
	dir := t.TempDir()
	cfg.CatalogURL = catalogURL
	cfg.OutputDir = filepath.Join(dir, "medals")
	cfg.DumpDir = filepath.Join(dir, "responses")
	cfg.HistoryDB = ""
	cfg.Categories = []string{"pin", "coin"}
	cfg.Workers = 3
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.TargetWidth = 16
	cfg.TargetHeight = 12
	return cfg
}

type fakeHistory struct{ runs []collectible.RunSummary }

func (f *fakeHistory) RecordRun(_ context.Context, s collectible.RunSummary) error {
	f.runs = append(f.runs, s)
	return nil
}

type fakeGraph struct {
	outcomes []collectible.Outcome
	matcher  *classify.Matcher
	items    int
}

func (f *fakeGraph) Record(_ context.Context, _ string, items map[string]collectible.Item, outcomes []collectible.Outcome, m *classify.Matcher) error {
	f.outcomes, f.matcher, f.items = outcomes, m, len(items)
	return errors.New("graph offline")
}

type fakeEvents struct {
	mu        sync.Mutex
	outcomes  []string
	cancelled int // outcomes handed a context that was already done
	summaries []collectible.RunSummary
}

func (f *fakeEvents) Outcome(ctx context.Context, runID string, o collectible.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, runID+"/"+o.ItemID)
	if ctx.Err() != nil {
		f.cancelled++
	}
}

// cancellingMaterializer interrupts the run from inside the first item.
type cancellingMaterializer struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (m *cancellingMaterializer) Materialize(_ context.Context, item collectible.Item, dir string) collectible.Outcome {
	m.once.Do(m.cancel)
	return collectible.Succeed(item, filepath.Join(dir, item.FileName()), false)
}

func (f *fakeEvents) Summary(_ context.Context, s collectible.RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

func newTestApp(t *testing.T, cfg config.Config, deps Deps, logs *bytes.Buffer) *App {
	t.Helper()
	var log *slog.Logger
	if logs != nil {
		log = slog.New(slog.NewTextHandler(logs, nil))
	}
	client := fetch.New(FetchOptions(cfg, deps.Metrics), log)
	if deps.Catalog == nil {
		deps.Catalog = client
	}
	if deps.Materializer == nil {
		deps.Materializer = asset.New(client, asset.Options{Width: cfg.TargetWidth, Height: cfg.TargetHeight}, log)
	}
	return New(cfg, deps, log)
}

func TestRunEndToEnd(t *testing.T) {
	srv := newCatalogServer(t)
	cfg := testConfig(t, srv.URL+"/collectibles.json")
	hist, graph, events := &fakeHistory{}, &fakeGraph{}, &fakeEvents{}
	reg := metrics.New()
	var logs bytes.Buffer
	a := newTestApp(t, cfg, Deps{History: hist, Registry: graph, Notifier: events, Metrics: reg}, &logs)

	sum, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 5, sum.CatalogItems)
	assert.Equal(t, 4, sum.Classified)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 0, sum.Skipped)

	for _, name := range []string{"1.png", "2.png"} {
		_, err := os.Stat(filepath.Join(cfg.OutputDir, name))
		require.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(cfg.OutputDir, "3.png"))
	require.True(t, os.IsNotExist(err))

	dump, _, err := archive.Newest(cfg.DumpDir)
	require.NoError(t, err)
	dumped, err := archive.Load(dump, nil)
	require.NoError(t, err)
	assert.Len(t, dumped, 5)

	require.Len(t, hist.runs, 1)
	assert.Equal(t, sum.RunID, hist.runs[0].RunID)
	assert.Len(t, graph.outcomes, 4)
	assert.Equal(t, 5, graph.items)
	require.NotNil(t, graph.matcher)
	assert.Len(t, events.outcomes, 4)
	assert.True(t, strings.HasPrefix(events.outcomes[0], sum.RunID+"/"))
	require.Len(t, events.summaries, 1)

	out := reg.Render()
	assert.Contains(t, out, `medalparser_assets_total{result="fetched"} 2`)
	assert.Contains(t, out, `medalparser_assets_total{result="failed"} 2`)
	assert.Contains(t, out, "medalparser_catalog_items 5")
	assert.Contains(t, out, "medalparser_classified_items 4")

	text := logs.String()
	assert.Contains(t, text, "msg=\"run finished\"")
	assert.Contains(t, text, "registry write failed")
	assert.Contains(t, text, "no image URL provided")
	assert.Equal(t, 2, strings.Count(text, "msg=\"failed item\""))
}

func TestOutcomeEventsOutliveInterrupt(t *testing.T) {
	srv := newCatalogServer(t)
	cfg := testConfig(t, srv.URL+"/collectibles.json")
	cfg.Workers = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := &fakeEvents{}
	a := newTestApp(t, cfg, Deps{Notifier: events, Materializer: &cancellingMaterializer{cancel: cancel}}, nil)
	_, _ = a.Run(ctx)

	require.Error(t, ctx.Err())
	events.mu.Lock()
	defer events.mu.Unlock()
	require.NotEmpty(t, events.outcomes)
	assert.Zero(t, events.cancelled, "outcome events published on a cancelled context")
	assert.Len(t, events.summaries, 1)
}

func TestSecondRunSkipsExisting(t *testing.T) {
	srv := newCatalogServer(t)
	cfg := testConfig(t, srv.URL+"/collectibles.json")
	a := newTestApp(t, cfg, Deps{}, nil)

	_, err := a.Run(context.Background())
	require.NoError(t, err)
	sum, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 0, sum.Fetched())
}

func TestCatalogFetchFailureIsFatal(t *testing.T) {
	srv := newCatalogServer(t)
	srv.serve(http.StatusNotFound, "gone")
	cfg := testConfig(t, srv.URL+"/collectibles.json")

	_, err := newTestApp(t, cfg, Deps{}, nil).Run(context.Background())
	var ce *collectible.CatalogError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cfg.CatalogURL, ce.URL)
	var fe *fetch.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestUnparsableCatalogIsFatal(t *testing.T) {
	srv := newCatalogServer(t)
	srv.serve(http.StatusOK, `{"not": "an array"}`)
	cfg := testConfig(t, srv.URL+"/collectibles.json")

	_, err := newTestApp(t, cfg, Deps{}, nil).Run(context.Background())
	var ce *collectible.CatalogError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cfg.CatalogURL, ce.URL)
}

func TestEmptyCatalogIsFatal(t *testing.T) {
	srv := newCatalogServer(t)
	srv.serve(http.StatusOK, `[{"id": ""}, {"name": "no id"}]`)
	cfg := testConfig(t, srv.URL+"/collectibles.json")

	_, err := newTestApp(t, cfg, Deps{}, nil).Run(context.Background())
	require.ErrorIs(t, err, collectible.ErrEmptyCatalog)
}

func TestNothingClassifiedIsFatal(t *testing.T) {
	srv := newCatalogServer(t)
	cfg := testConfig(t, srv.URL+"/collectibles.json")
	cfg.Categories = []string{"trophy"}
	hist := &fakeHistory{}

	_, err := newTestApp(t, cfg, Deps{History: hist}, nil).Run(context.Background())
	require.ErrorIs(t, err, collectible.ErrNoItemsClassified)
	assert.Empty(t, hist.runs)
	_, err = os.Stat(cfg.OutputDir)
	assert.True(t, os.IsNotExist(err))
}

type refusingCatalog struct{}

func (refusingCatalog) FetchCatalog(context.Context, string) ([]byte, error) {
	return nil, errors.New("catalog must not be fetched")
}

func TestReusesFreshDump(t *testing.T) {
	srv := newCatalogServer(t)
	cfg := testConfig(t, srv.URL+"/collectibles.json")
	cfg.ReuseDumpWithin = time.Hour

	items := []collectible.Item{{ID: "collectible-9", Type: "Pin", Image: srv.URL + "/img/ok9.png"}}
	_, err := archive.NewWriter(cfg.DumpDir, nil).Dump(items)
	require.NoError(t, err)

	sum, err := newTestApp(t, cfg, Deps{Catalog: refusingCatalog{}}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CatalogItems)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 0, srv.hits())

	dumps, err := archive.Dumps(cfg.DumpDir)
	require.NoError(t, err)
	assert.Len(t, dumps, 1, "a reused dump is not written again")
}

func TestStaleDumpFetchesCatalog(t *testing.T) {
	srv := newCatalogServer(t)
	cfg := testConfig(t, srv.URL+"/collectibles.json")
	cfg.ReuseDumpWithin = time.Minute

	path, err := archive.NewWriter(cfg.DumpDir, nil).Dump([]collectible.Item{{ID: "collectible-old"}})
	require.NoError(t, err)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	sum, err := newTestApp(t, cfg, Deps{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.CatalogItems)
	assert.Equal(t, 1, srv.hits())
}

func TestBuildWithHistory(t *testing.T) {
	srv := newCatalogServer(t)
	cfg := testConfig(t, srv.URL+"/collectibles.json")
	cfg.HistoryDB = filepath.Join(t.TempDir(), "history.db")

	ctx := context.Background()
	a, err := Build(ctx, cfg, metrics.New(), nil)
	require.NoError(t, err)
	sum, err := a.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	store, err := history.Open(ctx, cfg.HistoryDB)
	require.NoError(t, err)
	defer store.Close()
	last, err := store.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, sum.RunID, last.RunID)
	assert.Len(t, last.Failures, 2)
}
