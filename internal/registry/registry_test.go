package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/hyperjump/embedder/internal/apierror"
	"github.com/hyperjump/embedder/internal/assets"
	"github.com/hyperjump/embedder/internal/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func bundleFor(names ...string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for _, name := range names {
		for _, f := range embedding.AssetFiles(embedding.Descriptor{Name: name}) {
			fsys[name+"/"+f] = &fstest.MapFile{Data: []byte(f)}
		}
	}
	return fsys
}

func miniLM(t *testing.T) embedding.Descriptor {
	t.Helper()
	d, err := embedding.Lookup(embedding.AllMiniLML6V2)
	require.NoError(t, err)
	return d
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []error
}

func (o *recordingObserver) ObserveModelLoad(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, err)
}

func TestAcquire_ConcurrentCallersShareOneLoad(t *testing.T) {
	rt := embedding.NewMockRuntime()
	rt.LoadDelay = 50 * time.Millisecond
	src := assets.NewFSSource(bundleFor(embedding.AllMiniLML6V2), "test")
	obs := &recordingObserver{}
	reg := New(NewAssetLoader(src, rt, 0), zap.NewNop(), WithObserver(obs))
	d := miniLM(t)

	const callers = 32
	models := make([]*embedding.Model, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			models[i], errs[i] = reg.Acquire(context.Background(), d)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), rt.Loads())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, models[0], models[i])
	}
	assert.Len(t, obs.calls, 1)
	assert.Equal(t, map[string]string{embedding.AllMiniLML6V2: StateReady}, reg.States())

	again, err := reg.Acquire(context.Background(), d)
	require.NoError(t, err)
	assert.Same(t, models[0], again)
	assert.Equal(t, int64(1), rt.Loads())
}

func TestAcquire_FailureIsReplayed(t *testing.T) {
	var calls atomic.Int64
	reg := New(func(context.Context, embedding.Descriptor) (*embedding.Model, error) {
		calls.Add(1)
		return nil, errors.New("corrupt graph")
	}, zap.NewNop())
	d := miniLM(t)

	_, first := reg.Acquire(context.Background(), d)
	require.Error(t, first)
	assert.Equal(t, apierror.KindModelLoad, apierror.KindOf(first))

	for i := 0; i < 5; i++ {
		_, err := reg.Acquire(context.Background(), d)
		assert.Equal(t, first, err)
	}
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, StateFailed, reg.States()[d.Name])
}

func TestAcquire_MissingAssetsIsModelPathError(t *testing.T) {
	rt := embedding.NewMockRuntime()
	reg := New(NewAssetLoader(assets.NewDirSource(t.TempDir()), rt, 0), zap.NewNop())
	d := miniLM(t)

	_, err := reg.Acquire(context.Background(), d)
	assert.Equal(t, apierror.KindModelPath, apierror.KindOf(err))
	_, err = reg.Acquire(context.Background(), d)
	assert.Equal(t, apierror.KindModelPath, apierror.KindOf(err))
	assert.Equal(t, int64(0), rt.Loads())
}

func TestAcquire_RuntimeFailureIsModelLoadError(t *testing.T) {
	rt := embedding.NewMockRuntime()
	rt.LoadErr = errors.New("unsupported opset")
	src := assets.NewFSSource(bundleFor(embedding.AllMiniLML6V2), "test")
	reg := New(NewAssetLoader(src, rt, 0), zap.NewNop())

	_, err := reg.Acquire(context.Background(), miniLM(t))
	require.Error(t, err)
	assert.Equal(t, apierror.KindModelLoad, apierror.KindOf(err))
	assert.Contains(t, err.Error(), "unsupported opset")
}

func TestAcquire_PanicBecomesModelLoadError(t *testing.T) {
	reg := New(func(context.Context, embedding.Descriptor) (*embedding.Model, error) {
		panic("boom")
	}, zap.NewNop())
	_, err := reg.Acquire(context.Background(), miniLM(t))
	assert.Equal(t, apierror.KindModelLoad, apierror.KindOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestAcquire_WaiterCancellationDoesNotAbortLoad(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	rt := embedding.NewMockRuntime()
	src := assets.NewFSSource(bundleFor(embedding.AllMiniLML6V2), "test")
	inner := NewAssetLoader(src, rt, 0)
	reg := New(func(ctx context.Context, d embedding.Descriptor) (*embedding.Model, error) {
		close(started)
		<-release
		return inner(ctx, d)
	}, zap.NewNop())
	d := miniLM(t)

	loaded := make(chan error, 1)
	go func() {
		_, err := reg.Acquire(context.Background(), d)
		loaded <- err
	}()
	<-started
	assert.Equal(t, StateLoading, reg.States()[d.Name])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reg.Acquire(ctx, d)
	assert.Equal(t, apierror.KindConcurrency, apierror.KindOf(err))

	close(release)
	require.NoError(t, <-loaded)
	m, err := reg.Acquire(context.Background(), d)
	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Equal(t, int64(1), rt.Loads())
}

func TestWarmup(t *testing.T) {
	rt := embedding.NewMockRuntime()
	src := assets.NewFSSource(bundleFor(embedding.AllMiniLML6V2, embedding.BGESmallENV15), "test")
	reg := New(NewAssetLoader(src, rt, 0), zap.NewNop())

	mini := miniLM(t)
	bge, _ := embedding.Lookup(embedding.BGESmallENV15)
	require.NoError(t, reg.Warmup(context.Background(), mini, bge))
	assert.Equal(t, int64(2), rt.Loads())

	mpnet, _ := embedding.Lookup(embedding.AllMpnetBaseV2)
	err := reg.Warmup(context.Background(), mini, mpnet)
	assert.Equal(t, apierror.KindModelPath, apierror.KindOf(err))
	require.NoError(t, reg.Close())
}

func TestLoaded_NeverStartsALoad(t *testing.T) {
	rt := embedding.NewMockRuntime()
	src := assets.NewFSSource(bundleFor(embedding.AllMiniLML6V2), "test")
	reg := New(NewAssetLoader(src, rt, 4), zap.NewNop())
	d := miniLM(t)

	_, ok := reg.Loaded(d.Name)
	assert.False(t, ok)
	assert.Equal(t, int64(0), rt.Loads())

	want, err := reg.Acquire(context.Background(), d)
	require.NoError(t, err)
	got, ok := reg.Loaded(d.Name)
	require.True(t, ok)
	assert.Same(t, want, got)

	_, cached := got.CacheStats()
	assert.True(t, cached, "cacheSize > 0 should give the model a cache")
}
