package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPollCommand(a *app) *cobra.Command {
	var record bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one spawn poll session and write the timestamps",
		Long: `Poll the cycle endpoint until its updated marker changes, then resolve
and write the static spawn timestamps.

The session follows the configured interval ladder and stops at the
configured ceiling. On failure the existing output file is left untouched.`,
		Example: `  # Poll now with the default ladder
  cyclesync poll

  # Keep the poll session in the run store for later inspection
  cyclesync poll --record`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := a.client()
			if err != nil {
				return err
			}
			job, err := a.spawnJob(client)
			if err != nil {
				return err
			}

			if record {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				job.SetStore(store)
			}

			log.Ctx(ctx).Info().
				Str("endpoint", a.cfg.Endpoint.URL).
				Str("output", a.cfg.Spawn.OutputPath).
				Msg("Starting poll session")

			return job.Run(ctx, nil)
		},
	}

	cmd.Flags().BoolVar(&record, "record", false, "record the poll session in the configured store")

	return cmd
}
