package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tom-jm69/cs-medal-parser/pkg/config"
)

var errInterrupted = errors.New("interrupted")

// cli carries the state shared by every subcommand.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	log     *slog.Logger
	out     io.Writer
	errOut  io.Writer
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"catalog-url":       "catalog_url",
	"output-dir":        "output_dir",
	"dump-dir":          "dump_dir",
	"categories":        "categories",
	"workers":           "workers",
	"width":             "target_width",
	"height":            "target_height",
	"metrics-port":      "metrics_port",
	"reuse-dump-within": "reuse_dump_within",
	"history-db":        "history_db",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"nats-url":          "nats.url",
	"nats-subject":      "nats.subject",
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "medal-parser",
		Short:         "Fetch and normalize CS:GO collectible images",
		Long:          `medal-parser downloads the CS:GO collectibles catalog, selects the items in the configured categories and keeps a directory of fixed-size transparent PNGs for them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	d := config.Defaults()
	pf := root.PersistentFlags()
	pf.StringVarP(&c.cfgFile, "config", "c", "", "config file (default: ./"+config.DefaultFile+" if present)")
	pf.String("log-level", d.Log.Level, "log level: debug, info, warn, error")
	pf.String("log-format", d.Log.Format, "log format: text or json")
	pf.String("output-dir", d.OutputDir, "directory for normalized PNGs")
	pf.String("dump-dir", d.DumpDir, "directory for catalog dumps")
	pf.StringSlice("categories", d.Categories, "category keywords")
	pf.String("history-db", d.HistoryDB, "SQLite run history path, empty disables")

	root.AddCommand(
		newRunCmd(c),
		newFilterCmd(c),
		newStatsCmd(c),
		newWatchCmd(c),
		newConfigCmd(c),
	)
	return root
}

// load binds the flags of cmd, layers the configuration and installs the logger.
func (c *cli) load(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := c.v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind --%s: %w", name, err)
			}
		}
	}
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = newLogger(cfg.Log, c.errOut)
	slog.SetDefault(c.log)
	return nil
}

func newLogger(lc config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(lc.Level)}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
