// Package cli implements the concierge command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// set by the root command before any subcommand runs
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "concierge",
		Short: "Concierge, the residence assistant",
		Long: "Concierge answers residents on chat: it looks up spaces, books guest rooms " +
			"and common rooms, hands out payment links and shares building information.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := config.LoadDotEnv(paths.EnvFile, ".env"); err != nil {
				return err
			}

			level, format := logLevel, logFormat
			if level == "" || format == "" {
				if cfg, err := config.Load(paths.Config); err == nil {
					if level == "" {
						level = cfg.Logging.Level
					}
					if format == "" {
						format = cfg.Logging.Format
					}
				}
			}
			if level == "" {
				level = "info"
			}
			log = logging.NewFormat(format, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.concierge/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMessageCmd())
	cmd.AddCommand(newToolsCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
