// Package config provides configuration loading and structs for the embedder server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/embedder/internal/embedding"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Models  ModelsConfig  `yaml:"models"`
	Workers WorkersConfig `yaml:"workers"`
	MinIO   MinIOConfig   `yaml:"minio"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Status adds live statistics to the root endpoint; defaults to true when unset.
	Status *bool `yaml:"status"`
}

// StatusOrDefault returns whether the root endpoint reports live status.
func (s *ServerConfig) StatusOrDefault() bool {
	if s.Status != nil {
		return *s.Status
	}
	return true
}

// Source values for ModelsConfig.Source.
const (
	SourceDir      = "dir"
	SourceEmbedded = "embedded"
	SourceMinIO    = "minio"
)

// Runtime values for ModelsConfig.Runtime.
const (
	RuntimeONNX = "onnx"
	RuntimeMock = "mock"
)

// ModelsConfig selects the models to serve and where their files live.
type ModelsConfig struct {
	// Path is the directory holding <model-identity>/<file> for the dir source.
	Path    string   `yaml:"path"`
	Source  string   `yaml:"source"`
	Runtime string   `yaml:"runtime"`
	Enabled []string `yaml:"enabled"`
	// Warmup loads every enabled model before the server accepts requests.
	Warmup             bool                     `yaml:"warmup"`
	CacheSize          int                      `yaml:"cache_size"`
	ONNXRuntimeLibrary string                   `yaml:"onnxruntime_library"`
	IntraOpThreads     int                      `yaml:"intra_op_threads"`
	Overrides          map[string]ModelOverride `yaml:"overrides"`
}

// ModelOverride changes how a compiled-in model is loaded.
type ModelOverride struct {
	GraphFile    string `yaml:"graph_file"`
	Quantization string `yaml:"quantization"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// WorkersConfig sizes the pool that runs transforms.
type WorkersConfig struct {
	// Size is the number of concurrent transforms; 0 uses GOMAXPROCS.
	Size int `yaml:"size"`
	// DefaultBatchSize applies when a request does not name one; 0 derives it from the document count.
	DefaultBatchSize int `yaml:"default_batch_size"`
}

// MinIOConfig locates models in object storage for the minio source.
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// EnabledOrDefault returns whether metrics are served; defaults to true when unset.
func (m *MetricsConfig) EnabledOrDefault() bool {
	if m.Enabled != nil {
		return *m.Enabled
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// A missing file yields the defaults; any other read or parse failure is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Models.Path = expandPath(cfg.Models.Path, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects values that have no meaning.
func (c *Config) Validate() error {
	switch c.Models.Source {
	case SourceDir, SourceEmbedded, SourceMinIO:
	default:
		return fmt.Errorf("unknown models.source %q", c.Models.Source)
	}
	switch c.Models.Runtime {
	case RuntimeONNX, RuntimeMock:
	default:
		return fmt.Errorf("unknown models.runtime %q", c.Models.Runtime)
	}
	if c.Models.Source == SourceMinIO && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		return errors.New("minio.endpoint and minio.bucket are required for the minio source")
	}
	if c.Workers.DefaultBatchSize < 0 {
		return fmt.Errorf("invalid workers.default_batch_size %d", c.Workers.DefaultBatchSize)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	_, err := c.Models.Descriptors()
	return err
}

// Descriptors resolves the enabled models against the catalog and applies overrides.
func (m *ModelsConfig) Descriptors() ([]embedding.Descriptor, error) {
	out := make([]embedding.Descriptor, 0, len(m.Enabled))
	for _, name := range m.Enabled {
		d, err := embedding.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("models.enabled: %w", err)
		}
		if o, ok := m.Overrides[name]; ok {
			if d, err = o.Apply(d); err != nil {
				return nil, fmt.Errorf("models.overrides[%s]: %w", name, err)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// Apply returns d with the fields set in o replaced. Unset fields keep d's values.
func (o ModelOverride) Apply(d embedding.Descriptor) (embedding.Descriptor, error) {
	if o.GraphFile != "" {
		d.GraphFile = o.GraphFile
	}
	if o.MaxTokens > 0 {
		d.MaxTokens = o.MaxTokens
	}
	if o.Quantization != "" {
		q, err := embedding.ParseQuantization(o.Quantization)
		if err != nil {
			return d, err
		}
		d.Quantization = q
	}
	return d, nil
}

// expandPath resolves path against configDir, or against the home directory for ~/ paths.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if !strings.HasPrefix(path, "~") {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
