package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/northbeat/scout-cli/internal/model"
)

var scoreCmd = &cobra.Command{
	Use:   "score [label-id]",
	Short: "Score candidates for a label",
	Long: `Recomputes features and embeddings for all tracked artists, clusters the
label's roster, and ranks every candidate artist against it.

Examples:
  # Score all labels
  score

  # Score one label, print the top 20 candidates
  score 7e6c... --limit 20

  # Export a label's ranking to CSV
  score 7e6c... --format csv --output ranking.csv`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.Int("limit", 0, "maximum number of candidates to print (0=all)")
	f.String("output", "", "output file path (default: stdout)")
	f.String("format", "table", "output format: table, csv, or yaml")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limit, _ := cmd.Flags().GetInt("limit")
	outputPath, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "csv" && format != "yaml" {
		return eris.Errorf("score: --format must be table, csv, or yaml (got %q)", format)
	}

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	log := zap.L().With(zap.String("command", "score"))

	var labelIDs []string
	if len(args) == 1 {
		labelIDs = args
	} else {
		labelIDs, err = env.Store.LabelIDs(ctx)
		if err != nil {
			return eris.Wrap(err, "score: load label ids")
		}
	}
	if len(labelIDs) == 0 {
		fmt.Println("No labels found.")
		return nil
	}

	// Features and embeddings are shared across labels; refresh once.
	if err := env.Score.RefreshSignals(ctx); err != nil {
		return err
	}

	for _, labelID := range labelIDs {
		if _, err := env.Clusters.ClusterLabel(ctx, labelID); err != nil {
			return err
		}
		recommendations, err := env.Ranker.RankLabel(ctx, labelID)
		if err != nil {
			return err
		}

		log.Info("scoring complete",
			zap.String("label_id", labelID),
			zap.Int("candidates", len(recommendations)),
		)

		if limit > 0 && len(recommendations) > limit {
			recommendations = recommendations[:limit]
		}
		if err := outputRecommendations(labelID, recommendations, format, outputPath); err != nil {
			return err
		}
	}

	return nil
}

func outputRecommendations(labelID string, recs []model.Recommendation, format, outputPath string) error {
	w := os.Stdout
	if outputPath != "" {
		var err error
		w, err = os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "score: create output file %s", outputPath)
		}
		defer w.Close() //nolint:errcheck
	}

	switch format {
	case "csv":
		return writeRecommendationCSV(w, recs)
	case "yaml":
		return writeRecommendationYAML(w, labelID, recs)
	default:
		return writeRecommendationTable(w, labelID, recs)
	}
}

func writeRecommendationCSV(w *os.File, recs []model.Recommendation) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"artist_id", "final_score", "fit_score", "momentum_score", "risk_score", "fallback"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "score: write CSV header")
	}
	for _, r := range recs {
		row := []string{
			r.ArtistID,
			fmt.Sprintf("%.4f", r.FinalScore),
			fmt.Sprintf("%.4f", r.FitScore),
			fmt.Sprintf("%.4f", r.MomentumScore),
			fmt.Sprintf("%.4f", r.RiskScore),
			fmt.Sprintf("%v", r.Breakdown.Fallback),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "score: write CSV row")
		}
	}
	return nil
}

func writeRecommendationYAML(w *os.File, labelID string, recs []model.Recommendation) error {
	doc := struct {
		LabelID         string                 `yaml:"label_id"`
		Recommendations []model.Recommendation `yaml:"recommendations"`
	}{LabelID: labelID, Recommendations: recs}

	enc := yaml.NewEncoder(w)
	defer enc.Close() //nolint:errcheck
	if err := enc.Encode(doc); err != nil {
		return eris.Wrap(err, "score: encode YAML")
	}
	return nil
}

func writeRecommendationTable(w *os.File, labelID string, recs []model.Recommendation) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintf(w, "No recommendations for label %s.\n", labelID)
		return err
	}

	fmt.Fprintf(w, "Label %s: %d candidate(s)\n", labelID, len(recs))
	fmt.Fprintf(w, "%-4s %-38s %7s %7s %9s %6s %s\n",
		"#", "Artist ID", "Final", "Fit", "Momentum", "Risk", "Note")
	fmt.Fprintln(w, strings.Repeat("-", 90))

	for i, r := range recs {
		note := ""
		if r.Breakdown.Fallback {
			note = "fallback"
		}
		fmt.Fprintf(w, "%-4d %-38s %7.4f %7.4f %9.4f %6.4f %s\n",
			i+1, r.ArtistID, r.FinalScore, r.FitScore, r.MomentumScore, r.RiskScore, note)
	}
	return nil
}
