package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tom-jm69/cs-medal-parser/engine/archive"
	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
	"github.com/tom-jm69/cs-medal-parser/engine/history"
	"github.com/tom-jm69/cs-medal-parser/engine/registry"
)

func newStatsCmd(c *cli) *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the output directory, dumps and recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.stats(cmd.Context(), runs)
		},
	}
	cmd.Flags().IntVarP(&runs, "runs", "n", 5, "recent runs to show")
	return cmd
}

func (c *cli) stats(ctx context.Context, runs int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	assets, err := countAssets(c.cfg.OutputDir)
	if err != nil {
		return err
	}
	dumps, err := archive.Dumps(c.cfg.DumpDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "output dir:  %s (%d assets)\n", c.cfg.OutputDir, assets)
	fmt.Fprintf(c.out, "dump dir:    %s (%d dumps)\n", c.cfg.DumpDir, len(dumps))
	if newest, mod, err := archive.Newest(c.cfg.DumpDir); err == nil {
		fmt.Fprintf(c.out, "newest dump: %s (%s old)\n", filepath.Base(newest), time.Since(mod).Round(time.Second))
	}
	fmt.Fprintf(c.out, "categories:  %s\n", strings.Join(c.cfg.Categories, ", "))

	if c.cfg.Neo4j.URL != "" {
		reg, err := registry.Open(ctx, c.cfg.Neo4j.URL, c.cfg.Neo4j.User, c.cfg.Neo4j.Pass, c.cfg.Neo4j.Database, c.log)
		if err != nil {
			c.log.Warn("registry unavailable", "error", err)
		} else {
			defer reg.Close(ctx)
			if n, err := reg.Count(ctx); err == nil {
				fmt.Fprintf(c.out, "registry:    %d collectibles\n", n)
			}
		}
	}

	if c.cfg.HistoryDB == "" {
		return nil
	}
	if _, err := os.Stat(c.cfg.HistoryDB); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(c.out, "no runs recorded yet")
		return nil
	}
	store, err := history.Open(ctx, c.cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()
	recent, err := store.Recent(ctx, runs)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		fmt.Fprintln(c.out, "no runs recorded yet")
		return nil
	}
	fmt.Fprintln(c.out, "recent runs:")
	for _, r := range recent {
		printRun(c, r)
	}
	return nil
}

func printRun(c *cli, r collectible.RunSummary) {
	fmt.Fprintf(c.out, "  %s  %s  classified=%d fetched=%d skipped=%d failed=%d (%s)\n",
		r.StartedAt.Local().Format(time.DateTime), r.RunID,
		r.Classified, r.Fetched(), r.Skipped, r.Failed, r.Elapsed().Round(time.Millisecond))
}

// countAssets counts finished PNGs; a missing directory counts as empty.
func countAssets(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), collectible.FileExt) {
			n++
		}
	}
	return n, nil
}
