package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/draftforge/manuscript-cli/internal/model"
	"github.com/draftforge/manuscript-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline run history",
	Long:  "Commands for listing and viewing checkpointed pipeline runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpointed runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		project, _ := cmd.Flags().GetString("project")
		phase, _ := cmd.Flags().GetString("phase")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := store.CheckpointFilter{
			ProjectID: project,
			Phase:     model.Phase(phase),
			Limit:     limit,
			Offset:    offset,
		}

		runs, err := st.ListCheckpoints(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Show the full checkpoint of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.LoadCheckpoint(ctx, args[0])
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				return eris.Errorf("no run with thread id %s", args[0])
			}
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runsListCmd.Flags().String("project", "", "filter by project ID")
	runsListCmd.Flags().String("phase", "", "filter by phase (ingesting, mapping, vetting, synthesizing, persisting, done)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.PipelineRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "THREAD\tPROJECT\tPHASE\tSTAGE\tCRITIC\tREV\tFLAGS\tUPDATED")
	_, _ = fmt.Fprintln(w, "------\t-------\t-----\t-----\t------\t---\t-----\t-------")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(r.ThreadID),
			r.ProjectID,
			r.Phase,
			r.Stage,
			r.CriticStatus,
			r.RevisionCount,
			runFlags(r),
			r.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// runFlags renders the run's attention markers for the list view.
func runFlags(r model.PipelineRun) string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.NeedsSignoff:
		return "needs-signoff"
	case r.ForcedFailure:
		return "failed"
	case r.NeedsHumanReview:
		return "review"
	default:
		return ""
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
