package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all server settings in correct types.
type Config struct {
	Port        string `env:"PORT" env-default:"8080"`
	DBPath      string `env:"DB_PATH" env-default:"data/medianest.db"`
	DownloadDir string `env:"DOWNLOAD_DIR" env-default:"downloads"`

	MaxConcurrentDownloads int `env:"MAX_CONCURRENT_DOWNLOADS" env-default:"3"`

	QuotaLimit          int           `env:"QUOTA_LIMIT" env-default:"20"`
	QuotaWindow         time.Duration `env:"QUOTA_WINDOW" env-default:"24h"`
	QuotaRefundOnCancel bool          `env:"QUOTA_REFUND_ON_CANCEL" env-default:"false"`

	ProgressInterval time.Duration `env:"PROGRESS_INTERVAL" env-default:"500ms"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	validate(&cfg)
	return &cfg, nil
}

// validate clamps values the server cannot run with.
func validate(cfg *Config) {
	if cfg.MaxConcurrentDownloads < 1 {
		log.Println("MAX_CONCURRENT_DOWNLOADS must be at least 1, resetting to 3")
		cfg.MaxConcurrentDownloads = 3
	}
	if cfg.QuotaLimit < 1 {
		log.Println("QUOTA_LIMIT must be at least 1, resetting to 20")
		cfg.QuotaLimit = 20
	}
	if cfg.QuotaWindow <= 0 {
		cfg.QuotaWindow = 24 * time.Hour
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
}
