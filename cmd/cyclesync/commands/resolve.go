package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gebederry/cyclesync/cycles"
	"github.com/gebederry/cyclesync/spawn"
)

func newResolveCommand(a *app) *cobra.Command {
	var (
		documentPath string
		anchor       int64
		anchorIndex  int
		output       string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve spawn timestamps from a saved cycle document",
		Long: `Resolve static spawn timestamps offline from a cycle document saved to disk.

The anchor is the start time of the cycle at --anchor-index unless --anchor
gives it explicitly. The result is printed, or written atomically with --output.`,
		Example: `  # Resolve using the second cycle's start time as anchor
  cyclesync resolve --document cycles.json

  # Resolve against an explicit anchor and write the artifact
  cyclesync resolve --document cycles.json --anchor 1762473600 --output out.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var doc cycles.Document
			if err := a.artifacts().ReadJSON(documentPath, &doc); err != nil {
				return err
			}

			if !cmd.Flags().Changed("anchor") {
				idx := a.cfg.Spawn.AnchorIndex
				if cmd.Flags().Changed("anchor-index") {
					idx = anchorIndex
				}
				var err error
				if anchor, err = doc.Anchor(idx); err != nil {
					return err
				}
			}

			table, err := spawn.LoadOccurrenceTable(a.fs, a.cfg.Spawn.OccurrenceTable)
			if err != nil {
				return err
			}

			items, err := spawn.Resolve(table, anchor, doc.NextCycleTimes, a.cfg.Spawn.Category)
			if err != nil {
				return err
			}
			out := spawn.NewStaticSpawnTimestamps(items, time.Now())

			log.Ctx(ctx).Debug().
				Int64("anchor", anchor).
				Int("items", len(items)).
				Msg("Resolved spawn timestamps")

			if output != "" {
				return a.artifacts().WriteJSON(output, out)
			}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	cmd.Flags().StringVarP(&documentPath, "document", "d", "", "saved cycle document (JSON)")
	cmd.Flags().Int64Var(&anchor, "anchor", 0, "anchor timestamp in unix seconds")
	cmd.Flags().IntVar(&anchorIndex, "anchor-index", 0, "cycle index whose start time is the anchor (defaults to config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the result to this path instead of stdout")
	cmd.MarkFlagRequired("document")

	return cmd
}
