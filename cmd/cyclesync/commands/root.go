package commands

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/gebederry/cyclesync/config"
	"github.com/gebederry/cyclesync/logging"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(afero.NewOsFs(), version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(fs afero.Fs, version, commit, buildDate string) *cobra.Command {
	a := &app{fs: fs}

	rootCmd := &cobra.Command{
		Use:   "cyclesync",
		Short: "Track the daily cycle rotation and publish spawn timestamps",
		Long: `cyclesync watches the cycle endpoint for the daily rotation and derives
static spawn timestamps for collectibles that recur on a multi-cycle period.

It also keeps a rolling history of the cycles that were active each day.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(fs, configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if logFormat != "" {
				cfg.Logging.Format = logFormat
			}

			logger, err := logging.Setup(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			cmd.SetContext(logger.WithContext(cmd.Context()))

			a.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json")

	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newPollCommand(a))
	rootCmd.AddCommand(newAppendCommand(a))
	rootCmd.AddCommand(newResolveCommand(a))
	rootCmd.AddCommand(newRunsCommand(a))

	return rootCmd
}
