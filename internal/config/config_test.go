package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 128, cfg.Engine.EmbeddingDim)
	assert.Equal(t, 3, cfg.Engine.Clusters)
	assert.Equal(t, 10, cfg.Engine.KMeansRestarts)
	assert.Equal(t, int64(42), cfg.Engine.KMeansSeed)
	assert.Equal(t, 4, cfg.Engine.ScoreWorkers)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SCOUT_STORE_DRIVER", "sqlite")
	t.Setenv("SCOUT_STORE_DATABASE_URL", "scout.db")
	t.Setenv("SCOUT_ENGINE_CLUSTERS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "scout.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 5, cfg.Engine.Clusters)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store:  StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost/scout"},
			Engine: EngineConfig{EmbeddingDim: 128, Clusters: 3},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "oracle" }, "unknown store driver"},
		{"missing database url", func(c *Config) { c.Store.DatabaseURL = "" }, "database_url is required"},
		{"bad embedding dim", func(c *Config) { c.Engine.EmbeddingDim = 0 }, "embedding_dim"},
		{"bad cluster count", func(c *Config) { c.Engine.Clusters = -1 }, "clusters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
