package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pable/go-cricket-wpa/internal/matchstate"
)

type Config struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	Banding    BandingConfig    `yaml:"banding"`
	Lookup     LookupConfig     `yaml:"lookup"`
	WPA        WPAConfig        `yaml:"wpa"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Cache      CacheConfig      `yaml:"cache"`
}

type BandingConfig struct {
	TargetBandWidth int `yaml:"target_band_width"`
	ScoreRangeWidth int `yaml:"score_range_width"`
}

type LookupConfig struct {
	MinSamples        int `yaml:"min_samples"`
	DefaultOversLimit int `yaml:"default_overs_limit"`
}

type WPAConfig struct {
	Epsilon     float64 `yaml:"epsilon"`
	RoundPlaces int32   `yaml:"round_places"`
	ChunkSize   int     `yaml:"chunk_size"`
	Workers     int     `yaml:"workers"`
}

type AggregatorConfig struct {
	Workers int `yaml:"workers"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath:   filepath.Join(userHome(), ".chasewpa", "wpa.db"),
		LogLevel: "info",
		Banding: BandingConfig{
			TargetBandWidth: matchstate.DefaultBanding.TargetBandWidth,
			ScoreRangeWidth: matchstate.DefaultBanding.ScoreRangeWidth,
		},
		Lookup: LookupConfig{
			MinSamples:        20,
			DefaultOversLimit: matchstate.DefaultOversLimit,
		},
		WPA: WPAConfig{
			Epsilon:     1e-3,
			RoundPlaces: 3,
			ChunkSize:   500,
			Workers:     4,
		},
		Aggregator: AggregatorConfig{Workers: 4},
		Cache:      CacheConfig{TTL: 10 * time.Minute},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.DBPath = envStr("CHASEWPA_DB", cfg.DBPath)
	cfg.LogLevel = envStr("CHASEWPA_LOG_LEVEL", cfg.LogLevel)
	cfg.Lookup.MinSamples = envInt("CHASEWPA_MIN_SAMPLES", cfg.Lookup.MinSamples)
	cfg.Banding.TargetBandWidth = envInt("CHASEWPA_TARGET_BAND", cfg.Banding.TargetBandWidth)
	cfg.Banding.ScoreRangeWidth = envInt("CHASEWPA_SCORE_RANGE", cfg.Banding.ScoreRangeWidth)
	cfg.WPA.Workers = envInt("CHASEWPA_WORKERS", cfg.WPA.Workers)
	cfg.Aggregator.Workers = envInt("CHASEWPA_WORKERS", cfg.Aggregator.Workers)
	cfg.WPA.ChunkSize = envInt("CHASEWPA_CHUNK_SIZE", cfg.WPA.ChunkSize)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would make bucketing or batching meaningless.
func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return fmt.Errorf("config: db_path is empty")
	case c.Banding.TargetBandWidth <= 0:
		return fmt.Errorf("config: banding.target_band_width must be positive, got %d", c.Banding.TargetBandWidth)
	case c.Banding.ScoreRangeWidth <= 0:
		return fmt.Errorf("config: banding.score_range_width must be positive, got %d", c.Banding.ScoreRangeWidth)
	case c.Lookup.MinSamples <= 0:
		return fmt.Errorf("config: lookup.min_samples must be positive, got %d", c.Lookup.MinSamples)
	case c.Lookup.DefaultOversLimit <= 0:
		return fmt.Errorf("config: lookup.default_overs_limit must be positive, got %d", c.Lookup.DefaultOversLimit)
	case c.WPA.Epsilon < 0:
		return fmt.Errorf("config: wpa.epsilon must not be negative")
	case c.WPA.RoundPlaces < 0:
		return fmt.Errorf("config: wpa.round_places must not be negative")
	case c.WPA.ChunkSize <= 0:
		return fmt.Errorf("config: wpa.chunk_size must be positive, got %d", c.WPA.ChunkSize)
	case c.WPA.Workers <= 0, c.Aggregator.Workers <= 0:
		return fmt.Errorf("config: workers must be positive")
	}
	return nil
}

// BandingRules converts the banding section for the matchstate package.
func (c *Config) BandingRules() matchstate.Banding {
	return matchstate.Banding{
		TargetBandWidth: c.Banding.TargetBandWidth,
		ScoreRangeWidth: c.Banding.ScoreRangeWidth,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
