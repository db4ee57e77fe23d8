package embedding

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/embedder/internal/apierror"
	"github.com/hyperjump/embedder/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockModel(t *testing.T, name string, cacheSize int) *Model {
	t.Helper()
	d, err := Lookup(name)
	require.NoError(t, err)
	session, err := NewMockRuntime().NewSession(d, Assets{Graph: []byte("graph")})
	require.NoError(t, err)
	return NewModel(d, session, cacheSize)
}

func TestEmbedToMatrix_ShapeAndNorm(t *testing.T) {
	for _, name := range []string{AllMiniLML6V2, AllMpnetBaseV2, BGESmallENV15} {
		t.Run(name, func(t *testing.T) {
			m := newMockModel(t, name, 0)
			docs := []string{"hello", "world", "a longer sentence with several words"}
			mat, err := m.EmbedToMatrix(context.Background(), docs, 0)
			require.NoError(t, err)
			assert.Equal(t, len(docs), mat.Rows)
			assert.Equal(t, m.Dimensions(), mat.Cols)
			for i := 0; i < mat.Rows; i++ {
				assert.InDelta(t, 1.0, utils.L2Norm(mat.Row(i)), 1e-5)
			}
		})
	}
}

func TestEmbedToMatrix_PreservesOrder(t *testing.T) {
	m := newMockModel(t, AllMiniLML6V2, 0)
	ctx := context.Background()
	docs := []string{"alpha", "beta gamma", "delta epsilon zeta"}

	all, err := m.EmbedToMatrix(ctx, docs, 0)
	require.NoError(t, err)
	for i, doc := range docs {
		single, err := m.EmbedToMatrix(ctx, []string{doc}, 0)
		require.NoError(t, err)
		assert.InDeltaSlice(t, single.Row(0), all.Row(i), 1e-6, "row %d", i)
	}
	assert.NotEqual(t, all.Row(0), all.Row(1))
}

func TestEmbedToMatrix_BatchSizeInvariant(t *testing.T) {
	m := newMockModel(t, AllMiniLML6V2, 0)
	ctx := context.Background()
	docs := []string{"a", "b c", "d e f", "g h i j"}

	by2, err := m.EmbedToMatrix(ctx, docs, 2)
	require.NoError(t, err)
	by4, err := m.EmbedToMatrix(ctx, docs, 4)
	require.NoError(t, err)
	by1, err := m.EmbedToMatrix(ctx, docs, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, by4.Data, by2.Data, 1e-6)
	assert.InDeltaSlice(t, by4.Data, by1.Data, 1e-6)
}

func TestTransform_SplitsIntoSubBatches(t *testing.T) {
	m := newMockModel(t, AllMiniLML6V2, 0)
	docs := make([]string, 5)
	for i := range docs {
		docs[i] = fmt.Sprintf("doc %d", i)
	}
	raw, err := m.Transform(context.Background(), docs, 2)
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{raw[0].Size, raw[1].Size, raw[2].Size})

	raw, err = m.Transform(context.Background(), docs, 0)
	require.NoError(t, err)
	assert.Len(t, raw, 1)
}

func TestTransform_DynamicQuantizationUsesOneBatch(t *testing.T) {
	d, err := Lookup(AllMiniLML6V2)
	require.NoError(t, err)
	d.Quantization = QuantizationDynamic
	session, err := NewMockRuntime().NewSession(d, Assets{Graph: []byte("graph")})
	require.NoError(t, err)
	m := NewModel(d, session, 0)

	raw, err := m.Transform(context.Background(), []string{"a", "b", "c"}, 1)
	require.NoError(t, err)
	assert.Len(t, raw, 1)
}

func TestEmbedToMatrix_EmptyInput(t *testing.T) {
	m := newMockModel(t, AllMiniLML6V2, 0)
	_, err := m.EmbedToMatrix(context.Background(), nil, 0)
	assert.Equal(t, apierror.KindEmptyInput, apierror.KindOf(err))
}

type wrongKeyTransformer struct{ *Model }

func (w wrongKeyTransformer) OutputSelector() []string { return []string{"sentence_embedding"} }

func TestEmbedToMatrix_OutputKeyNotFound(t *testing.T) {
	m := newMockModel(t, AllMiniLML6V2, 0)
	_, err := EmbedToMatrix(context.Background(), wrongKeyTransformer{m}, []string{"x"}, 0)
	assert.Equal(t, apierror.KindOutputKeyNotFound, apierror.KindOf(err))
}

type failingSession struct{}

func (failingSession) Run(context.Context, []string) (SubBatch, error) {
	return SubBatch{}, fmt.Errorf("graph exploded")
}
func (failingSession) Close() error { return nil }

func TestTransform_WrapsRuntimeErrors(t *testing.T) {
	d, _ := Lookup(AllMiniLML6V2)
	m := NewModel(d, failingSession{}, 0)
	_, err := m.EmbedToVectors(context.Background(), []string{"x"}, 0)
	require.Error(t, err)
	assert.Equal(t, apierror.KindInference, apierror.KindOf(err))
	assert.Contains(t, err.Error(), "graph exploded")
}

func TestEmbedToMatrix_CacheMatchesUncached(t *testing.T) {
	cached := newMockModel(t, AllMiniLML6V2, 16)
	plain := newMockModel(t, AllMiniLML6V2, 0)
	ctx := context.Background()

	_, err := cached.EmbedToMatrix(ctx, []string{"b", "d"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, cached.cache.Len())

	docs := []string{"a", "b", "c", "d"}
	got, err := cached.EmbedToMatrix(ctx, docs, 0)
	require.NoError(t, err)
	want, err := plain.EmbedToMatrix(ctx, docs, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Data, got.Data, 1e-6)
	assert.Equal(t, 4, cached.cache.Len())
}

func TestEmbedToVectors_IndependentRows(t *testing.T) {
	m := newMockModel(t, AllMiniLML6V2, 0)
	vecs, err := m.EmbedToVectors(context.Background(), []string{"x", "y"}, 0)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	vecs[0][0] = 42
	assert.NotEqual(t, float32(42), vecs[1][0])
	assert.Len(t, vecs[1], 384)
}

func TestLookup(t *testing.T) {
	d, err := Lookup(AllMiniLML6V2)
	require.NoError(t, err)
	assert.Equal(t, 384, d.Dimensions)
	assert.Equal(t, []string{"last_hidden_state"}, d.OutputSelector())
	assert.Equal(t, "model.onnx", d.Graph())

	_, err = Lookup("nope")
	assert.Equal(t, apierror.KindUnknownModel, apierror.KindOf(err))
	assert.Len(t, Catalog(), 3)
}

func TestParsePooling(t *testing.T) {
	tests := []struct {
		in   string
		want Pooling
		err  bool
	}{
		{"mean", PoolingMean, false},
		{"CLS", PoolingFirstToken, false},
		{"first_token", PoolingFirstToken, false},
		{"", PoolingNone, false},
		{"max", PoolingNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePooling(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMockRuntime_EmptyGraph(t *testing.T) {
	r := NewMockRuntime()
	_, err := r.NewSession(Descriptor{Name: "x"}, Assets{})
	assert.Error(t, err)
	assert.Equal(t, int64(1), r.Loads())
}

func TestMaxTokens(t *testing.T) {
	tests := []struct {
		name   string
		desc   int
		config string
		want   int
	}{
		{name: "descriptor wins", desc: 128, config: `{"model_max_length": 512}`, want: 128},
		{name: "tokenizer config", config: `{"do_lower_case": true, "model_max_length": 384}`, want: 384},
		{name: "unbounded sentinel", config: `{"model_max_length": 1000000000000000019884624838656}`, want: DefaultMaxTokens},
		{name: "missing key", config: `{"do_lower_case": true}`, want: DefaultMaxTokens},
		{name: "malformed", config: `{"model_max_length": "long"}`, want: DefaultMaxTokens},
		{name: "no config", want: DefaultMaxTokens},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Descriptor{Name: "m", MaxTokens: tt.desc}
			got := MaxTokens(d, Assets{TokenizerConfig: []byte(tt.config)})
			assert.Equal(t, tt.want, got)
		})
	}
}
