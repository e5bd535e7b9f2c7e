package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run [label-id]",
	Short: "Run the full pipeline once",
	Long: `Executes the complete stage sequence (ingest, discover, score, enrich).
Ingestion and scoring are global jobs covering every roster and candidate;
the optional label id only tags the run for the discover and enrich
collaborators.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		labelID := ""
		if len(args) == 1 {
			labelID = args[0]
		} else {
			labelIDs, err := env.Store.LabelIDs(ctx)
			if err != nil {
				return eris.Wrap(err, "run: load label ids")
			}
			if len(labelIDs) > 0 {
				labelID = labelIDs[0]
			}
		}

		if err := env.Runner.RunStages(ctx, labelID); err != nil {
			return err
		}
		zap.L().Info("pipeline complete", zap.String("label_id", labelID))
		fmt.Println("Pipeline complete.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
