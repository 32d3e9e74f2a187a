package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newAppendCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append today's cycle to the rolling history",
		Long: `Fetch the cycle document once and append the cycle whose date is today
(in the configured timezone) to the history file. The file keeps the most
recent entries only. Nothing is written when no cycle matches today.`,
		Example: `  cyclesync append --config /etc/cyclesync.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := a.client()
			if err != nil {
				return err
			}
			job, err := a.historyJob(client)
			if err != nil {
				return err
			}

			log.Ctx(ctx).Info().
				Str("output", a.cfg.History.OutputPath).
				Str("timezone", a.cfg.Timezone).
				Msg("Appending history")

			return job.Run(ctx, nil)
		},
	}

	return cmd
}
