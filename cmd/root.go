// Package cmd wires the btsink command line.
package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/btsink/cmd/configcmd"
	"github.com/tphakala/btsink/cmd/devices"
	"github.com/tphakala/btsink/cmd/run"
	"github.com/tphakala/btsink/internal/buildinfo"
	"github.com/tphakala/btsink/internal/conf"
	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
	"github.com/tphakala/btsink/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(info *buildinfo.Context) *cobra.Command {
	var (
		configFile string
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:          "btsink",
		Short:        "Audio sink with lifecycle control and buffered playback",
		Version:      info.Version(),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().String("sink", "", "Audio sink: malgo, wav or discard")
	bindFlag(rootCmd, "debug", "debug")
	bindFlag(rootCmd, "sink.type", "sink")

	configCmd := configcmd.Command()
	subcommands := []*cobra.Command{
		run.Command(info),
		devices.Command(),
		configCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// config commands work without a valid config
		if cmd.Parent() == configCmd {
			return nil
		}
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}
		settings, err := conf.Load()
		if err != nil {
			return err
		}
		if settings.Debug {
			settings.Logging.DefaultLevel = "debug"
			if settings.Logging.Console != nil {
				settings.Logging.Console.Level = "debug"
			}
		}
		central, err = logger.NewCentralLogger(&settings.Logging)
		if err != nil {
			return errors.New(err).
				Component("cmd").
				Category(errors.CategoryConfiguration).
				Context("operation", "init_logging").
				Build()
		}
		logger.SetGlobal(central)
		return telemetry.Init(settings.Telemetry, info)
	}

	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		telemetry.Flush(2 * time.Second)
		return central.Close()
	}

	return rootCmd
}

// bindFlag binds a persistent flag to a viper key so flags override the
// config file.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}
