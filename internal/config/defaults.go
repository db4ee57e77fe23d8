package config

import (
	"time"

	"github.com/hyperjump/embedder/internal/embedding"
)

// DefaultModelPath is used when neither the config file nor MODEL_PATH name one.
const DefaultModelPath = "./models"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Models.Path == "" {
		cfg.Models.Path = DefaultModelPath
	}
	if cfg.Models.Source == "" {
		cfg.Models.Source = SourceDir
	}
	if cfg.Models.Runtime == "" {
		cfg.Models.Runtime = RuntimeONNX
	}
	if cfg.Models.Enabled == nil {
		for _, d := range embedding.Catalog() {
			cfg.Models.Enabled = append(cfg.Models.Enabled, d.Name)
		}
	}
	if cfg.Models.CacheSize == 0 {
		cfg.Models.CacheSize = 1024
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "embedder"
	}
}
