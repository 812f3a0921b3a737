package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tom-jm69/cs-medal-parser/pkg/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		// The file being created need not be loadable yet.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}
	var path string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&path, "path", "p", config.DefaultFile, "where to write the file")
	cmd.AddCommand(initCmd)
	return cmd
}
