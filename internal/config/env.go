package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/hyperjump/embedder/internal/apierror"
	"github.com/joho/godotenv"
)

var (
	// ErrUnset is the cause of an EnvVarError for a variable that is not set.
	ErrUnset = errors.New("not set")
	// ErrEmpty is the cause of an EnvVarError for a variable set to "".
	ErrEmpty = errors.New("empty value")
)

// Env reads key and parses it. When the variable is unset, empty or unparsable
// it returns def together with an EnvVarError describing why.
func Env[T any](key string, def T, parse func(string) (T, error)) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def, apierror.EnvVar(key, ErrUnset)
	}
	if raw == "" {
		return def, apierror.EnvVar(key, ErrEmpty)
	}
	v, err := parse(raw)
	if err != nil {
		return def, apierror.EnvVar(key, err)
	}
	return v, nil
}

// ParseString accepts any value.
func ParseString(s string) (string, error) { return s, nil }

// LoadDotEnv loads variables from path if it exists, never overriding ones already set.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// ApplyEnv overrides cfg from MODEL_PATH, EMBEDDER_HOST, EMBEDDER_PORT, EMBEDDER_WORKERS
// and EMBEDDER_DEBUG. Unset variables are skipped silently; invalid ones keep the
// configured value and are returned so the caller can report them.
func ApplyEnv(cfg *Config) []error {
	var errs []error
	keep := func(err error) {
		if err != nil && !errors.Is(err, ErrUnset) {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.Models.Path, err = Env("MODEL_PATH", cfg.Models.Path, ParseString)
	keep(err)
	cfg.Server.Host, err = Env("EMBEDDER_HOST", cfg.Server.Host, ParseString)
	keep(err)
	cfg.Server.Port, err = Env("EMBEDDER_PORT", cfg.Server.Port, parsePort)
	keep(err)
	cfg.Workers.Size, err = Env("EMBEDDER_WORKERS", cfg.Workers.Size, strconv.Atoi)
	keep(err)
	cfg.Debug, err = Env("EMBEDDER_DEBUG", cfg.Debug, strconv.ParseBool)
	keep(err)
	return errs
}

func parsePort(s string) (int, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return int(p), nil
}
