package embedding

import (
	"math"
	"testing"

	"github.com/hyperjump/embedder/internal/apierror"
	"github.com/hyperjump/embedder/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenTensor(t *testing.T, shape []int, data []float32) Tensor {
	t.Helper()
	tensor, err := NewTensor(shape, data)
	require.NoError(t, err)
	return tensor
}

func TestSelectOutput_MissingKeyFailsFast(t *testing.T) {
	sub := SubBatch{Outputs: map[string]Tensor{"last_hidden_state": {}}}
	_, err := SelectOutput(sub, []string{"sentence_embedding"})
	require.Error(t, err)
	assert.Equal(t, apierror.KindOutputKeyNotFound, apierror.KindOf(err))
	assert.Contains(t, err.Error(), "last_hidden_state")
}

func TestSelectOutput_Precedence(t *testing.T) {
	a := Tensor{Shape: []int{1, 1}, Data: []float32{1}}
	b := Tensor{Shape: []int{1, 1}, Data: []float32{2}}
	sub := SubBatch{Outputs: map[string]Tensor{"a": a, "b": b}}
	got, err := SelectOutput(sub, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, float32(2), got.Data[0])
}

func TestPool_MeanExcludesPadding(t *testing.T) {
	// 1 document, 3 tokens, 2 dims; the last token is padding.
	tensor := tokenTensor(t, []int{1, 3, 2}, []float32{
		1, 2,
		3, 4,
		100, 100,
	})
	m, err := Pool(tensor, [][]int64{{1, 1, 0}}, PoolingMean)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, m.Row(0))
}

func TestPool_MeanWithoutMaskUsesAllTokens(t *testing.T) {
	tensor := tokenTensor(t, []int{1, 2, 1}, []float32{1, 3})
	m, err := Pool(tensor, nil, PoolingMean)
	require.NoError(t, err)
	assert.Equal(t, []float32{2}, m.Row(0))
}

func TestPool_FirstToken(t *testing.T) {
	tensor := tokenTensor(t, []int{2, 2, 2}, []float32{
		1, 2, 9, 9,
		3, 4, 9, 9,
	})
	m, err := Pool(tensor, nil, PoolingFirstToken)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, m.Row(0))
	assert.Equal(t, []float32{3, 4}, m.Row(1))
}

func TestPool_NoneRequiresPooledOutput(t *testing.T) {
	_, err := Pool(tokenTensor(t, []int{1, 1, 2}, []float32{1, 2}), nil, PoolingNone)
	assert.Equal(t, apierror.KindOutputTransform, apierror.KindOf(err))

	m, err := Pool(tokenTensor(t, []int{2, 2}, []float32{1, 2, 3, 4}), nil, PoolingNone)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Rows)
	assert.Equal(t, 2, m.Cols)
}

func TestPool_MaskShapeMismatch(t *testing.T) {
	tensor := tokenTensor(t, []int{1, 2, 1}, []float32{1, 3})
	_, err := Pool(tensor, [][]int64{{1}}, PoolingMean)
	assert.Equal(t, apierror.KindOutputTransform, apierror.KindOf(err))
}

func TestPostprocess_NormalizesAndConcatenatesInOrder(t *testing.T) {
	raw := RawOutputBatch{
		{Size: 1, Outputs: map[string]Tensor{"out": {Shape: []int{1, 2}, Data: []float32{3, 4}}}},
		{Size: 2, Outputs: map[string]Tensor{"out": {Shape: []int{2, 2}, Data: []float32{0, 2, 5, 0}}}},
	}
	m, err := Postprocess(raw, []string{"out"}, PoolingNone)
	require.NoError(t, err)
	require.Equal(t, 3, m.Rows)
	require.Equal(t, 2, m.Cols)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, m.Row(0), 1e-6)
	assert.InDeltaSlice(t, []float32{0, 1}, m.Row(1), 1e-6)
	assert.InDeltaSlice(t, []float32{1, 0}, m.Row(2), 1e-6)
	for i := 0; i < m.Rows; i++ {
		assert.InDelta(t, 1.0, utils.L2Norm(m.Row(i)), 1e-5)
	}
}

func TestPostprocess_ZeroRowStaysFinite(t *testing.T) {
	raw := RawOutputBatch{
		{Size: 2, Outputs: map[string]Tensor{"out": {Shape: []int{2, 3}, Data: []float32{0, 0, 0, 1, 1, 1}}}},
	}
	m, err := Postprocess(raw, []string{"out"}, PoolingNone)
	require.NoError(t, err)
	for _, v := range m.Row(0) {
		assert.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0))
		assert.Equal(t, float32(0), v)
	}
	assert.InDelta(t, 1.0, utils.L2Norm(m.Row(1)), 1e-5)
}

func TestPostprocess_DimensionMismatch(t *testing.T) {
	raw := RawOutputBatch{
		{Outputs: map[string]Tensor{"out": {Shape: []int{1, 2}, Data: []float32{1, 2}}}},
		{Outputs: map[string]Tensor{"out": {Shape: []int{1, 3}, Data: []float32{1, 2, 3}}}},
	}
	_, err := Postprocess(raw, []string{"out"}, PoolingNone)
	require.Error(t, err)
	assert.Equal(t, apierror.KindOutputTransform, apierror.KindOf(err))
}

func TestPostprocess_RowCountMismatch(t *testing.T) {
	raw := RawOutputBatch{
		{Size: 3, Outputs: map[string]Tensor{"out": {Shape: []int{1, 2}, Data: []float32{1, 2}}}},
	}
	_, err := Postprocess(raw, []string{"out"}, PoolingNone)
	assert.Equal(t, apierror.KindOutputTransform, apierror.KindOf(err))
}

func TestPostprocess_Empty(t *testing.T) {
	_, err := Postprocess(nil, []string{"out"}, PoolingNone)
	assert.Equal(t, apierror.KindOutputTransform, apierror.KindOf(err))
}

func TestNewTensor_ShapeCheck(t *testing.T) {
	_, err := NewTensor([]int{2, 2}, []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestMatrix_JSONRoundTrip(t *testing.T) {
	m := &Matrix{Rows: 2, Cols: 2, Data: []float32{1, 0, 0, 1}}
	b, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1,"dim":[2,2],"data":[1,0,0,1]}`, string(b))

	var back Matrix
	require.NoError(t, back.UnmarshalJSON(b))
	assert.Equal(t, *m, back)
	assert.Error(t, back.UnmarshalJSON([]byte(`{"v":1,"dim":[2,2],"data":[1]}`)))
}
