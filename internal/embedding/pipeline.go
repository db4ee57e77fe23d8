package embedding

import (
	"strings"

	"github.com/hyperjump/embedder/internal/apierror"
	"github.com/hyperjump/embedder/pkg/utils"
)

// Postprocess selects, pools and concatenates every sub-batch in order, then
// normalizes each row to unit length.
func Postprocess(raw RawOutputBatch, selector []string, pooling Pooling) (*Matrix, error) {
	if len(raw) == 0 {
		return nil, apierror.New(apierror.KindOutputTransform, "No output found")
	}
	out := &Matrix{}
	for i, sub := range raw {
		t, err := SelectOutput(sub, selector)
		if err != nil {
			return nil, err
		}
		pooled, err := Pool(t, sub.AttentionMask, pooling)
		if err != nil {
			return nil, err
		}
		if sub.Size > 0 && pooled.Rows != sub.Size {
			return nil, apierror.New(apierror.KindOutputTransform,
				"sub-batch %d has %d documents but %d output rows", i, sub.Size, pooled.Rows)
		}
		if err := concat(out, pooled); err != nil {
			return nil, apierror.Wrap(apierror.KindOutputTransform, err, "Cannot concatenate sub-batch %d", i)
		}
	}
	for r := 0; r < out.Rows; r++ {
		utils.NormalizeL2(out.Row(r))
	}
	return out, nil
}

// SelectOutput returns the first tensor named by selector. It never falls back
// to another output the selector does not list.
func SelectOutput(sub SubBatch, selector []string) (Tensor, error) {
	for _, key := range selector {
		if t, ok := sub.Outputs[key]; ok {
			return t, nil
		}
	}
	available := make([]string, 0, len(sub.Outputs))
	for k := range sub.Outputs {
		available = append(available, k)
	}
	return Tensor{}, apierror.New(apierror.KindOutputKeyNotFound,
		"None of the output keys [%s] were found; model produced [%s]",
		strings.Join(selector, ", "), strings.Join(available, ", "))
}

// Pool reduces t to one row per document.
func Pool(t Tensor, mask [][]int64, pooling Pooling) (*Matrix, error) {
	switch pooling {
	case PoolingNone:
		if t.Rank() != 2 || t.Shape[0]*t.Shape[1] != len(t.Data) {
			return nil, apierror.New(apierror.KindOutputTransform,
				"expected a pooled 2-D output, got shape %v with %d values", t.Shape, len(t.Data))
		}
		return &Matrix{Rows: t.Shape[0], Cols: t.Shape[1], Data: append([]float32(nil), t.Data...)}, nil
	case PoolingMean:
		return meanPool(t, mask)
	case PoolingFirstToken:
		return firstTokenPool(t)
	}
	return nil, apierror.New(apierror.KindOutputTransform, "unsupported pooling %d", int(pooling))
}

func checkTokenTensor(t Tensor) error {
	if t.Rank() != 3 {
		return apierror.New(apierror.KindOutputTransform,
			"expected a per-token 3-D output, got shape %v", t.Shape)
	}
	if t.Shape[0]*t.Shape[1]*t.Shape[2] != len(t.Data) {
		return apierror.New(apierror.KindOutputTransform,
			"output shape %v does not match %d values", t.Shape, len(t.Data))
	}
	return nil
}

func meanPool(t Tensor, mask [][]int64) (*Matrix, error) {
	if err := checkTokenTensor(t); err != nil {
		return nil, err
	}
	n, seq, dim := t.Shape[0], t.Shape[1], t.Shape[2]
	if mask != nil && len(mask) != n {
		return nil, apierror.New(apierror.KindOutputTransform,
			"attention mask has %d rows for %d documents", len(mask), n)
	}
	out := &Matrix{Rows: n, Cols: dim, Data: make([]float32, n*dim)}
	acc := make([]float64, dim)
	for i := 0; i < n; i++ {
		if mask != nil && len(mask[i]) != seq {
			return nil, apierror.New(apierror.KindOutputTransform,
				"attention mask row %d has %d tokens, output has %d", i, len(mask[i]), seq)
		}
		clear(acc)
		var count float64
		for j := 0; j < seq; j++ {
			if mask != nil && mask[i][j] == 0 {
				continue
			}
			count++
			tok := t.Data[(i*seq+j)*dim : (i*seq+j+1)*dim]
			for k, v := range tok {
				acc[k] += float64(v)
			}
		}
		if count == 0 {
			continue
		}
		row := out.Row(i)
		for k := range row {
			row[k] = float32(acc[k] / count)
		}
	}
	return out, nil
}

func firstTokenPool(t Tensor) (*Matrix, error) {
	if err := checkTokenTensor(t); err != nil {
		return nil, err
	}
	n, seq, dim := t.Shape[0], t.Shape[1], t.Shape[2]
	out := &Matrix{Rows: n, Cols: dim, Data: make([]float32, n*dim)}
	if seq == 0 {
		return out, nil
	}
	for i := 0; i < n; i++ {
		copy(out.Row(i), t.Data[i*seq*dim:i*seq*dim+dim])
	}
	return out, nil
}

func concat(dst, src *Matrix) error {
	if dst.Rows == 0 && dst.Cols == 0 {
		dst.Cols = src.Cols
	}
	if src.Cols != dst.Cols {
		return apierror.New(apierror.KindOutputTransform,
			"inconsistent embedding dimension: %d vs %d", dst.Cols, src.Cols)
	}
	dst.Data = append(dst.Data, src.Data...)
	dst.Rows += src.Rows
	return nil
}
