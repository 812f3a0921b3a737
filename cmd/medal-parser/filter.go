package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tom-jm69/cs-medal-parser/engine/archive"
	"github.com/tom-jm69/cs-medal-parser/engine/classify"
)

func newFilterCmd(c *cli) *cobra.Command {
	var file string
	var show bool
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Classify a saved catalog dump without touching the network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.filter(file, show)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "dump to read (default: newest in dump dir)")
	cmd.Flags().BoolVar(&show, "show", false, "list every matching item")
	return cmd
}

func (c *cli) filter(file string, show bool) error {
	if file == "" {
		newest, _, err := archive.Newest(c.cfg.DumpDir)
		if err != nil {
			return fmt.Errorf("%w in %s; run `medal-parser run` first or pass --file", err, c.cfg.DumpDir)
		}
		file = newest
	}
	items, err := archive.Load(file, c.log)
	if err != nil {
		return err
	}
	m, err := classify.Compile(c.cfg.Categories)
	if err != nil {
		return err
	}

	byKeyword := make(map[string]int)
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	if show {
		fmt.Fprintln(tw, "ID\tNAME\tKEYWORD\tFIELD")
	}
	matched := 0
	for _, it := range items {
		match, ok := m.Classify(it)
		if !ok {
			continue
		}
		matched++
		byKeyword[match.Keyword]++
		if show {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.ID, it.Name, match.Keyword, match.Field)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s: %d of %d items match %v\n", file, matched, len(items), m.Keywords())
	for _, k := range m.Keywords() {
		if n := byKeyword[k]; n > 0 {
			fmt.Fprintf(c.out, "  %-8s %d\n", k, n)
		}
	}
	return nil
}
