package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/draftforge/manuscript-cli/internal/model"
)

var (
	resumeApprove    bool
	resumeReject     bool
	resumeEditedPath string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <thread-id>",
	Short: "Resume a run suspended for human review",
	Long:  "Applies a reviewer decision to a run suspended at the reframing stage and continues the pipeline.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if resumeApprove == resumeReject {
			return eris.New("exactly one of --approve or --reject is required")
		}

		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		eng, err := initEngine(st)
		if err != nil {
			return err
		}

		decision := model.HumanDecision{Approved: resumeApprove}
		if resumeEditedPath != "" {
			edited, err := os.ReadFile(resumeEditedPath)
			if err != nil {
				return eris.Wrapf(err, "read edited draft %s", resumeEditedPath)
			}
			decision.EditedContent = string(edited)
		}

		run, err := eng.Resume(ctx, args[0], decision)
		if err != nil {
			return eris.Wrap(err, "resume")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summarize("", run))
	},
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeApprove, "approve", false, "approve the pending reframe proposal")
	resumeCmd.Flags().BoolVar(&resumeReject, "reject", false, "reject the pending reframe proposal")
	resumeCmd.Flags().StringVar(&resumeEditedPath, "edited", "", "path to a reviewer-edited draft to use instead of the proposal")
	rootCmd.AddCommand(resumeCmd)
}
