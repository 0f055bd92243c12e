// Package configcmd implements the config command.
package configcmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/btsink/internal/conf"
	"github.com/tphakala/btsink/internal/errors"
)

const defaultPath = "config.yaml"

// Command creates the config command and its subcommands.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(initCommand())
	return cmd
}

func initCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := writeDefaults(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func writeDefaults(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.Newf("%s already exists, use --force to overwrite", path).
				Component("cmd").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	settings, err := conf.Defaults()
	if err != nil {
		return err
	}
	return conf.SaveYAMLConfig(path, settings)
}
