package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [label-id]",
	Short: "Show pipeline status",
	Long:  "Prints the durable pipeline run state for one label, or for every label when no id is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var labelIDs []string
		if len(args) == 1 {
			labelIDs = args
		} else {
			labelIDs, err = env.Store.LabelIDs(ctx)
			if err != nil {
				return eris.Wrap(err, "status: load label ids")
			}
		}
		if len(labelIDs) == 0 {
			fmt.Println("No labels found.")
			return nil
		}

		fmt.Printf("%-38s %-10s %-22s %-22s\n", "Label ID", "Status", "Started", "Completed")
		for _, labelID := range labelIDs {
			run, err := env.Store.PipelineStatus(ctx, labelID)
			if err != nil {
				return eris.Wrapf(err, "status: lookup %s", labelID)
			}
			if run == nil {
				fmt.Printf("%-38s %-10s\n", labelID, "unknown")
				continue
			}
			fmt.Printf("%-38s %-10s %-22s %-22s\n",
				run.LabelID, run.Status, formatTime(run.StartedAt), formatTime(run.CompletedAt))
		}
		return nil
	},
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
