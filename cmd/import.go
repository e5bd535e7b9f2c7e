package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/northbeat/scout-cli/internal/model"
)

// seedFile is the YAML layout accepted by the import command.
type seedFile struct {
	Labels []struct {
		ID     string `yaml:"id"`
		Name   string `yaml:"name"`
		Roster []struct {
			ArtistID string `yaml:"artist_id"`
			Active   *bool  `yaml:"active"`
		} `yaml:"roster"`
	} `yaml:"labels"`
	Artists []struct {
		ID          string   `yaml:"id"`
		Name        string   `yaml:"name"`
		GenreTags   []string `yaml:"genre_tags"`
		IsCandidate bool     `yaml:"is_candidate"`
	} `yaml:"artists"`
	Snapshots []struct {
		ArtistID       string             `yaml:"artist_id"`
		Platform       string             `yaml:"platform"`
		CapturedAt     time.Time          `yaml:"captured_at"`
		Followers      *int64             `yaml:"followers"`
		Views          *int64             `yaml:"views"`
		Likes          *int64             `yaml:"likes"`
		Comments       *int64             `yaml:"comments"`
		EngagementRate *float64           `yaml:"engagement_rate"`
		Extra          map[string]float64 `yaml:"extra"`
	} `yaml:"snapshots"`
}

var importCmd = &cobra.Command{
	Use:   "import <seed.yaml>",
	Short: "Import labels, artists, rosters, and snapshots from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "import: read %s", args[0])
		}
		var seed seedFile
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return eris.Wrapf(err, "import: parse %s", args[0])
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		for _, a := range seed.Artists {
			if a.ID == "" {
				a.ID = uuid.New().String()
			}
			artist := model.Artist{
				ID:          a.ID,
				Name:        a.Name,
				GenreTags:   a.GenreTags,
				IsCandidate: a.IsCandidate,
			}
			if err := env.Store.UpsertArtist(ctx, artist); err != nil {
				return eris.Wrapf(err, "import: upsert artist %s", a.Name)
			}
		}

		for _, l := range seed.Labels {
			if l.ID == "" {
				l.ID = uuid.New().String()
			}
			if err := env.Store.UpsertLabel(ctx, model.Label{ID: l.ID, Name: l.Name}); err != nil {
				return eris.Wrapf(err, "import: upsert label %s", l.Name)
			}
			for _, member := range l.Roster {
				active := true
				if member.Active != nil {
					active = *member.Active
				}
				if err := env.Store.AddRosterMember(ctx, l.ID, member.ArtistID, active); err != nil {
					return eris.Wrapf(err, "import: add roster member %s to %s", member.ArtistID, l.Name)
				}
			}
		}

		snapshots := make([]model.Snapshot, 0, len(seed.Snapshots))
		for _, s := range seed.Snapshots {
			snapshots = append(snapshots, model.Snapshot{
				ID:             uuid.New().String(),
				ArtistID:       s.ArtistID,
				Platform:       model.Platform(s.Platform),
				CapturedAt:     s.CapturedAt.UTC(),
				Followers:      s.Followers,
				Views:          s.Views,
				Likes:          s.Likes,
				Comments:       s.Comments,
				EngagementRate: s.EngagementRate,
				Extra:          s.Extra,
			})
		}
		if len(snapshots) > 0 {
			if err := env.Store.SaveSnapshots(ctx, snapshots); err != nil {
				return eris.Wrap(err, "import: save snapshots")
			}
		}

		zap.L().Info("import complete",
			zap.Int("labels", len(seed.Labels)),
			zap.Int("artists", len(seed.Artists)),
			zap.Int("snapshots", len(snapshots)),
		)
		fmt.Printf("Imported %d label(s), %d artist(s), %d snapshot(s).\n",
			len(seed.Labels), len(seed.Artists), len(snapshots))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
