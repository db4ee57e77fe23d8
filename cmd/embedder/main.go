// Package main is the embedder CLI entry point.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/embedder/internal/apierror"
	"github.com/hyperjump/embedder/internal/assets"
	"github.com/hyperjump/embedder/internal/cli"
	"github.com/hyperjump/embedder/internal/config"
	"github.com/hyperjump/embedder/internal/embedding"
	"github.com/hyperjump/embedder/internal/metrics"
	"github.com/hyperjump/embedder/internal/models"
	"github.com/hyperjump/embedder/internal/registry"
	"github.com/hyperjump/embedder/internal/server"
	"github.com/hyperjump/embedder/internal/worker"
	"github.com/hyperjump/embedder/pkg/utils"
	"go.uber.org/zap"
)

const defaultConfigPath = "/usr/local/etc/embedder/config.yaml"

// exitUserTerminated is the conventional exit status after SIGINT.
const exitUserTerminated = 130

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence if it exists. Returns the path actually used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	if len(args) < 1 {
		printUsage(stdout)
		return 1
	}
	command, rest := args[0], args[1:]
	var err error
	switch command {
	case "server":
		err = runServer(rest)
	case "embed":
		err = runEmbed(rest, stdin, stdout)
	case "models":
		err = runModels(rest, stdout)
	case "config":
		err = runConfig(rest, stdout)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "embedder version %s\n", server.Version)
	case "help", "--help", "-h":
		printUsage(stdout)
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", command)
		printUsage(stdout)
		return 1
	}
	return exitCode(err)
}

// exitCode maps the outcome of a command to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if apierror.KindOf(err) == apierror.KindUserTerminated {
		fmt.Fprintln(os.Stderr, err)
		return exitUserTerminated
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

type serverFlags struct {
	configPath string
	envFile    string
	host       string
	port       int
	debug      bool
}

func parseServerFlags(args []string) (*serverFlags, error) {
	f := &serverFlags{}
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", defaultConfigPath, "config file path")
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before the config")
	fs.StringVar(&f.host, "host", "", "listen host (default from config, then 0.0.0.0)")
	fs.IntVar(&f.port, "port", 0, "listen port (default from config, then 3000)")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, apierror.Wrap(apierror.KindArgs, err, "Invalid arguments")
	}
	if f.port < 0 || f.port > 65535 {
		return nil, apierror.New(apierror.KindArgs, "Invalid port %d", f.port)
	}
	return f, nil
}

// resolveConfig merges the config file, the environment and the command line, in increasing precedence.
func resolveConfig(f *serverFlags) (*config.Config, string, []error, error) {
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, "", nil, apierror.Wrap(apierror.KindIO, err, "Failed to load %s", f.envFile)
	}
	cfg, path, err := loadConfig(f.configPath)
	if err != nil {
		return nil, "", nil, apierror.Wrap(apierror.KindIO, err, "Failed to load config")
	}
	envErrs := config.ApplyEnv(cfg)
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	cfg.Debug = cfg.Debug || f.debug
	return cfg, path, envErrs, nil
}

func runServer(args []string) error {
	f, err := parseServerFlags(args)
	if err != nil {
		return err
	}
	cfg, resolvedConfigPath, envErrs, err := resolveConfig(f)
	if err != nil {
		return err
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	for _, e := range envErrs {
		logger.Warn("ignoring environment variable", zap.Error(e))
	}
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("models_path", cfg.Models.Path),
		zap.String("models_source", cfg.Models.Source),
		zap.Bool("debug", cfg.Debug),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close(logger, cfg.Server.ShutdownTimeout)

	if cfg.Models.Warmup {
		descriptors, _ := cfg.Models.Descriptors()
		if err := components.Registry.Warmup(context.Background(), descriptors...); err != nil {
			return err
		}
	}

	srv, err := server.NewServer(components.Registry, components.Pool, components.Metrics, cfg, logger)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return err
		}
		return nil
	case sig := <-sigChan:
		logger.Info("Shutting down...", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	return apierror.UserTerminated()
}

// Components holds the long-lived objects shared by the server.
type Components struct {
	Registry *registry.Registry
	Pool     *worker.Pool
	Metrics  *metrics.Metrics
}

// Close drains the worker pool and releases every loaded model.
func (c *Components) Close(logger *zap.Logger, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Pool.Close(ctx); err != nil {
		logger.Warn("worker pool did not drain", zap.Error(err))
	}
	if err := c.Registry.Close(); err != nil {
		logger.Warn("closing models failed", zap.Error(err))
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	src, err := newSource(cfg)
	if err != nil {
		return nil, err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	regOpts := []registry.Option{}
	poolOpts := []worker.Option{}
	if cfg.Metrics.EnabledOrDefault() {
		m = metrics.New(cfg.Metrics.Namespace, true)
		regOpts = append(regOpts, registry.WithObserver(m))
		poolOpts = append(poolOpts, worker.WithQueueObserver(m.ObserveQueue))
	}

	reg := registry.New(registry.NewAssetLoader(src, rt, cfg.Models.CacheSize), logger, regOpts...)
	pool := worker.NewPool(cfg.Workers.Size, logger, poolOpts...)
	logger.Info("components ready",
		zap.String("runtime", cfg.Models.Runtime),
		zap.Int("workers", pool.Size()),
		zap.Strings("models", cfg.Models.Enabled),
	)
	return &Components{Registry: reg, Pool: pool, Metrics: m}, nil
}

func newSource(cfg *config.Config) (assets.Source, error) {
	switch cfg.Models.Source {
	case config.SourceEmbedded:
		bundle := assets.Bundle()
		if bundle == nil {
			return nil, apierror.New(apierror.KindModelPath, "This binary was built without embedded models; rebuild with -tags embedmodels")
		}
		return assets.NewFSSource(bundle, "embedded"), nil
	case config.SourceMinIO:
		src, err := assets.NewMinIOSource(assets.MinIOConfig(cfg.MinIO))
		if err != nil {
			return nil, apierror.Wrap(apierror.KindModelPath, err, "Invalid minio configuration")
		}
		return src, nil
	default:
		return assets.NewDirSource(cfg.Models.Path), nil
	}
}

func newRuntime(cfg *config.Config) (embedding.Runtime, error) {
	switch cfg.Models.Runtime {
	case config.RuntimeMock:
		return embedding.NewMockRuntime(), nil
	case config.RuntimeONNX:
		return embedding.NewONNXRuntime(cfg.Models.ONNXRuntimeLibrary, cfg.Models.IntraOpThreads), nil
	}
	return nil, fmt.Errorf("unknown runtime %q", cfg.Models.Runtime)
}

func runEmbed(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	serverURL := fs.String("server", "http://localhost:3000", "server URL")
	model := fs.String("model", embedding.AllMiniLML6V2, "model name")
	batchSize := fs.Int("batch-size", 0, "documents per inference call (0 for the server default)")
	jsonOut := fs.Bool("json", false, "print the raw JSON response")
	timeout := fs.Duration("timeout", 60*time.Second, "request timeout")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: embedder embed [flags] [document ...]\n\n")
		fmt.Fprintf(fs.Output(), "Documents are the remaining arguments, or one per line on stdin when none are given.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return apierror.Wrap(apierror.KindArgs, err, "Invalid arguments")
	}

	docs := fs.Args()
	if len(docs) == 0 {
		var err error
		if docs, err = readDocuments(stdin); err != nil {
			return apierror.Wrap(apierror.KindIO, err, "Failed to read documents")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	req := &models.EmbedRequest{Model: *model, BatchSize: *batchSize, Documents: docs}
	resp, err := cli.NewClient(*serverURL).Embed(ctx, req)
	if err != nil {
		return err
	}
	format := cli.OutputText
	if *jsonOut {
		format = cli.OutputJSON
	}
	return cli.WriteEmbeddings(stdout, docs, resp, format)
}

// readDocuments returns the non-blank lines of r.
func readDocuments(r io.Reader) ([]string, error) {
	var docs []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			docs = append(docs, line)
		}
	}
	return docs, sc.Err()
}

func runModels(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return apierror.Wrap(apierror.KindArgs, err, "Invalid arguments")
	}
	list := make([]models.ModelInfo, 0)
	for _, d := range embedding.Catalog() {
		list = append(list, models.ModelInfo{
			Name:         d.Name,
			Dimensions:   d.Dimensions,
			Pooling:      d.Pooling.String(),
			Quantization: d.Quantization.String(),
			MaxTokens:    d.MaxTokens,
		})
	}
	format := cli.OutputText
	if *jsonOut {
		format = cli.OutputJSON
	}
	return cli.WriteModels(stdout, list, format)
}

func runConfig(args []string, stdout io.Writer) error {
	if len(args) < 1 || args[0] != "init" {
		fmt.Fprintln(stdout, "Usage: embedder config init [--config path] [--force]")
		return apierror.New(apierror.KindArgs, "Unknown config subcommand")
	}
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	path := fs.String("config", "config.yaml", "file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args[1:]); err != nil {
		return apierror.Wrap(apierror.KindArgs, err, "Invalid arguments")
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		return apierror.New(apierror.KindIO, "%s already exists; pass --force to overwrite", *path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return apierror.Wrap(apierror.KindIO, err, "Failed to stat %s", *path)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(*path, cfg); err != nil {
		return apierror.Wrap(apierror.KindIO, err, "Failed to write config")
	}
	fmt.Fprintf(stdout, "Wrote %s\n", *path)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `embedder - sentence embedding server

Usage:
  embedder server [--config path] [--host host] [--port port] [--debug]
  embedder embed [--server url] [--model name] [--json] [document ...]
  embedder models [--json]
  embedder config init [--config path] [--force]
  embedder version

Environment:
  MODEL_PATH        directory of model files (default %s)
  EMBEDDER_HOST     listen host
  EMBEDDER_PORT     listen port
  EMBEDDER_WORKERS  concurrent transforms
  EMBEDDER_DEBUG    enable debug logging
`, config.DefaultModelPath)
}
