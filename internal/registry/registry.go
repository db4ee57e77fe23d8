// Package registry loads each model at most once and shares it across requests.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/embedder/internal/apierror"
	"github.com/hyperjump/embedder/internal/assets"
	"github.com/hyperjump/embedder/internal/embedding"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Loader builds a model from its descriptor. It is called at most once per model name.
type Loader func(ctx context.Context, d embedding.Descriptor) (*embedding.Model, error)

// LoadObserver is notified after every load attempt.
type LoadObserver interface {
	ObserveModelLoad(model string, d time.Duration, err error)
}

// State of a registry entry.
const (
	StateLoading = "loading"
	StateReady   = "ready"
	StateFailed  = "failed"
)

type entry struct {
	done  chan struct{}
	model *embedding.Model
	err   error
}

// Registry memoizes the outcome of loading each model, success or failure.
// A failed load is never retried; the process must be restarted once assets are fixed.
type Registry struct {
	load     Loader
	logger   *zap.Logger
	observer LoadObserver

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver reports load attempts to o.
func WithObserver(o LoadObserver) Option {
	return func(r *Registry) { r.observer = o }
}

// New returns an empty registry that builds models with load.
func New(load Loader, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		load:    load,
		logger:  logger,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewAssetLoader reads assets from src and opens a session on rt.
// cacheSize > 0 gives each model an LRU cache of that many documents.
func NewAssetLoader(src assets.Source, rt embedding.Runtime, cacheSize int) Loader {
	return func(ctx context.Context, d embedding.Descriptor) (*embedding.Model, error) {
		a, err := assets.Load(ctx, src, d)
		if err != nil {
			return nil, err
		}
		session, err := rt.NewSession(d, a)
		if err != nil {
			return nil, apierror.ModelLoad(d.Name, err)
		}
		return embedding.NewModel(d, session, cacheSize), nil
	}
}

// Acquire returns the shared model for d, loading it if no caller has yet.
// Concurrent callers wait for the single load and all observe its outcome.
// Cancelling ctx stops the wait but never the load.
func (r *Registry) Acquire(ctx context.Context, d embedding.Descriptor) (*embedding.Model, error) {
	r.mu.Lock()
	e, ok := r.entries[d.Name]
	if !ok {
		e = &entry{done: make(chan struct{})}
		r.entries[d.Name] = e
	}
	r.mu.Unlock()

	if !ok {
		r.initialize(context.WithoutCancel(ctx), e, d)
	}

	select {
	case <-e.done:
		return e.model, e.err
	case <-ctx.Done():
		return nil, apierror.Wrap(apierror.KindConcurrency, ctx.Err(), "Gave up waiting for model %s to load", d.Name)
	}
}

func (r *Registry) initialize(ctx context.Context, e *entry, d embedding.Descriptor) {
	start := time.Now()
	defer close(e.done)
	defer func() {
		if p := recover(); p != nil {
			e.model, e.err = nil, apierror.ModelLoad(d.Name, fmt.Errorf("panic during load: %v", p))
		}
		elapsed := time.Since(start)
		if r.observer != nil {
			r.observer.ObserveModelLoad(d.Name, elapsed, e.err)
		}
		if e.err != nil {
			r.logger.Error("model load failed", zap.String("model", d.Name), zap.Duration("elapsed", elapsed), zap.Error(e.err))
			return
		}
		r.logger.Info("model loaded", zap.String("model", d.Name), zap.Duration("elapsed", elapsed))
	}()

	r.logger.Info("loading model", zap.String("model", d.Name))
	model, err := r.load(ctx, d)
	if err == nil && model == nil {
		err = errors.New("loader returned no model")
	}
	if err != nil && apierror.KindOf(err) == "" {
		err = apierror.ModelLoad(d.Name, err)
	}
	e.model, e.err = model, err
}

// Warmup loads every descriptor concurrently and returns the first failure.
func (r *Registry) Warmup(ctx context.Context, descriptors ...embedding.Descriptor) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range descriptors {
		g.Go(func() error {
			_, err := r.Acquire(gctx, d)
			return err
		})
	}
	return g.Wait()
}

// Loaded returns the model named name if it has finished loading successfully.
// It never starts a load.
func (r *Registry) Loaded(name string) (*embedding.Model, bool) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
		return e.model, e.err == nil
	default:
		return nil, false
	}
}

// States reports the state of every model the registry has seen.
func (r *Registry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.entries))
	for name, e := range r.entries {
		select {
		case <-e.done:
			if e.err != nil {
				out[name] = StateFailed
			} else {
				out[name] = StateReady
			}
		default:
			out[name] = StateLoading
		}
	}
	return out
}

// Close releases every loaded model. Only for process shutdown; Acquire must not be called afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		r.mu.Lock()
		e := r.entries[name]
		r.mu.Unlock()
		<-e.done
		if e.model != nil {
			if err := e.model.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
