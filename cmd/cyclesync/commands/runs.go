package commands

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/id"
	"github.com/gebederry/cyclesync/storage"
)

func newRunsCommand(a *app) *cobra.Command {
	var (
		jobName  string
		limit    int
		sessions bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show registered jobs and their recent runs",
		Long: `Inspect the run store written by serve.

Without --job the registered jobs are listed with the last slot each one
handled. With --job the most recent runs of that job are shown, optionally
with the poll sessions recorded for each run.`,
		Example: `  # List jobs
  cyclesync runs

  # Show the last 5 spawn runs with their poll sessions
  cyclesync runs --job spawn --limit 5 --sessions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()

			if jobName == "" {
				jobs, err := store.ListJobs(ctx)
				if err != nil {
					return err
				}
				printJobs(w, jobs)
				return nil
			}

			runs, err := store.ListRunsByJobID(ctx, id.GenerateJobID(jobName))
			if err != nil {
				return err
			}
			sort.Slice(runs, func(i, j int) bool {
				return runs[i].ScheduledTime.After(runs[j].ScheduledTime)
			})
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}

			fmt.Fprintln(w, "SCHEDULED\tSTATUS\tRECOVERY\tDURATION\tERROR")
			for _, run := range runs {
				printRun(w, run)
				if !sessions {
					continue
				}
				list, err := store.ListPollSessionsByRunID(ctx, run.ID)
				if err != nil {
					return err
				}
				for _, s := range list {
					fmt.Fprintf(w, "  poll\t%s\t%d attempts\tlast interval %s\t%s\n",
						s.Outcome, s.Attempts, s.LastInterval, s.ErrorMessage)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobName, "job", "j", "", "job name, e.g. spawn or history")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&sessions, "sessions", false, "include poll sessions")

	return cmd
}

func printJobs(w io.Writer, jobs []*storage.Job) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	fmt.Fprintln(w, "NAME\tSCHEDULE\tACTIVE\tLAST RUN")
	for _, job := range jobs {
		last := "-"
		if job.LastRunTime != nil {
			last = job.LastRunTime.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", job.Name, job.Schedule, job.Active, last)
	}
}

func printRun(w io.Writer, run *cyclesync.Run) {
	duration := "-"
	if run.StartTime != nil && run.EndTime != nil {
		duration = run.EndTime.Sub(*run.StartTime).Round(time.Millisecond).String()
	}
	fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
		run.ScheduledTime.Format(time.RFC3339), run.Status, run.IsRecoveryRun, duration, run.ErrorMessage)
}
