package embedding

import (
	"encoding/json"
	"fmt"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor checks that data fills shape exactly.
func NewTensor(shape []int, data []float32) (Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return Tensor{}, fmt.Errorf("negative dimension in shape %v", shape)
		}
		n *= d
	}
	if n != len(data) {
		return Tensor{}, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}
	return Tensor{Shape: shape, Data: data}, nil
}

// Rank is the number of axes.
func (t Tensor) Rank() int { return len(t.Shape) }

// SubBatch is the output of one inference call over Size consecutive documents.
type SubBatch struct {
	Size    int
	Outputs map[string]Tensor
	// AttentionMask marks real tokens with 1 and padding with 0, one row per document.
	// Nil when the runtime does not expose it.
	AttentionMask [][]int64
}

// RawOutputBatch holds sub-batches in document order.
type RawOutputBatch []SubBatch

// Matrix is a row-major 2-D embedding matrix, one row per document.
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

// Row returns row i as a view into the matrix.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Vectors copies every row into an independent slice.
func (m *Matrix) Vectors() [][]float32 {
	out := make([][]float32, m.Rows)
	for i := range out {
		out[i] = append([]float32(nil), m.Row(i)...)
	}
	return out
}

type ndarray struct {
	V    int       `json:"v"`
	Dim  []int     `json:"dim"`
	Data []float32 `json:"data"`
}

// MarshalJSON encodes the matrix as {"v":1,"dim":[rows,cols],"data":[...]}.
func (m *Matrix) MarshalJSON() ([]byte, error) {
	data := m.Data
	if data == nil {
		data = []float32{}
	}
	return json.Marshal(ndarray{V: 1, Dim: []int{m.Rows, m.Cols}, Data: data})
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (m *Matrix) UnmarshalJSON(b []byte) error {
	var a ndarray
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if len(a.Dim) != 2 || a.Dim[0]*a.Dim[1] != len(a.Data) {
		return fmt.Errorf("invalid matrix: dim %v with %d values", a.Dim, len(a.Data))
	}
	m.Rows, m.Cols, m.Data = a.Dim[0], a.Dim[1], a.Data
	return nil
}
