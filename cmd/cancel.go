package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/draftforge/manuscript-cli/internal/store"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <thread-id>",
	Short: "Request cancellation of a run",
	Long:  "Flags a run for cancellation. The pipeline observes the flag at its next checkpoint boundary; a stage already in flight finishes but its result is discarded.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if err := st.MarkCancelled(ctx, args[0]); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				return eris.Errorf("no run with thread id %s", args[0])
			}
			return eris.Wrap(err, "cancel")
		}

		fmt.Printf("run %s flagged for cancellation\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
