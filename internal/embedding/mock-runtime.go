package embedding

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"
)

// MockRuntime is a deterministic runtime for tests and local development. Each token
// gets a fixed vector derived from its ID, so the same document always embeds the same way.
type MockRuntime struct {
	// LoadDelay simulates an expensive model load.
	LoadDelay time.Duration
	// LoadErr, when set, fails every NewSession call.
	LoadErr error

	loads atomic.Int64
}

// NewMockRuntime returns a mock runtime with no load delay.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{}
}

// Loads returns how many sessions were requested.
func (r *MockRuntime) Loads() int64 {
	return r.loads.Load()
}

// NewSession builds a mock session. The graph asset must not be empty.
func (r *MockRuntime) NewSession(d Descriptor, assets Assets) (Session, error) {
	r.loads.Add(1)
	if r.LoadDelay > 0 {
		time.Sleep(r.LoadDelay)
	}
	if r.LoadErr != nil {
		return nil, r.LoadErr
	}
	if len(assets.Graph) == 0 {
		return nil, errors.New("empty model graph")
	}
	dims := d.Dimensions
	if dims <= 0 {
		dims = 384
	}
	return &mockSession{desc: d, dims: dims, maxTokens: MaxTokens(d, assets)}, nil
}

type mockSession struct {
	desc      Descriptor
	dims      int
	maxTokens int
	tok       SimpleTokenizer
}

// paddingValue fills padded positions so that pooling which ignores the mask is visibly wrong.
const paddingValue = 7

func (s *mockSession) Run(ctx context.Context, documents []string) (SubBatch, error) {
	if err := ctx.Err(); err != nil {
		return SubBatch{}, err
	}
	enc := EncodeBatch(&s.tok, documents, s.maxTokens)
	n, seq, dim := enc.Batch, enc.SeqLen, s.dims

	hidden := make([]float32, n*seq*dim)
	for i := 0; i < n; i++ {
		for j := 0; j < seq; j++ {
			tok := hidden[(i*seq+j)*dim : (i*seq+j+1)*dim]
			if enc.Mask[i][j] == 0 {
				for k := range tok {
					tok[k] = paddingValue
				}
				continue
			}
			tokenVector(enc.InputIDs[i*seq+j], tok)
		}
	}

	t := Tensor{Shape: []int{n, seq, dim}, Data: hidden}
	pooled, err := meanPool(t, enc.Mask)
	if err != nil {
		return SubBatch{}, err
	}
	// The first token carries a summary of the document, like a [CLS] output.
	for i := 0; i < n; i++ {
		copy(hidden[i*seq*dim:i*seq*dim+dim], pooled.Row(i))
	}
	if s.desc.Pooling == PoolingNone {
		t = Tensor{Shape: []int{n, dim}, Data: pooled.Data}
	}
	return SubBatch{
		Size:          n,
		Outputs:       map[string]Tensor{s.desc.OutputKey: t},
		AttentionMask: enc.Mask,
	}, nil
}

func (s *mockSession) Close() error {
	return nil
}

func tokenVector(id int64, out []float32) {
	for k := range out {
		out[k] = float32(math.Sin(float64(id)*float64(k+1))*0.1 + 0.01)
	}
}
