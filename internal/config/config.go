// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`
	Ingest IngestConfig `yaml:"ingest" mapstructure:"ingest"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// EngineConfig configures the scoring and ranking engine.
type EngineConfig struct {
	EmbeddingDim   int   `yaml:"embedding_dim" mapstructure:"embedding_dim"`
	Clusters       int   `yaml:"clusters" mapstructure:"clusters"`
	KMeansRestarts int   `yaml:"kmeans_restarts" mapstructure:"kmeans_restarts"`
	KMeansMaxIters int   `yaml:"kmeans_max_iters" mapstructure:"kmeans_max_iters"`
	KMeansSeed     int64 `yaml:"kmeans_seed" mapstructure:"kmeans_seed"`
	ScoreWorkers   int   `yaml:"score_workers" mapstructure:"score_workers"`
}

// IngestConfig configures the metric ingestion stage. An empty SourceURL
// disables fetching; ingest then rebuilds embeddings from stored history.
type IngestConfig struct {
	SourceURL         string  `yaml:"source_url" mapstructure:"source_url"`
	SourceAPIKey      string  `yaml:"source_api_key" mapstructure:"source_api_key"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	Workers           int     `yaml:"workers" mapstructure:"workers"`
}

// ServerConfig configures the pipeline control server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and SCOUT_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("engine.embedding_dim", 128)
	v.SetDefault("engine.clusters", 3)
	v.SetDefault("engine.kmeans_restarts", 10)
	v.SetDefault("engine.kmeans_max_iters", 100)
	v.SetDefault("engine.kmeans_seed", 42)
	v.SetDefault("engine.score_workers", 4)
	v.SetDefault("ingest.requests_per_second", 5)
	v.SetDefault("ingest.burst", 5)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if c.Engine.EmbeddingDim <= 0 {
		return eris.New("config: engine.embedding_dim must be positive")
	}
	if c.Engine.Clusters <= 0 {
		return eris.New("config: engine.clusters must be positive")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
