// Package embedding turns documents into normalized embedding vectors.
//
// A Transformer wraps an inference Session and exposes the raw per-sub-batch output;
// EmbedToMatrix and EmbedToVectors run that output through the post-processing pipeline.
package embedding

import (
	"context"

	"github.com/hyperjump/embedder/internal/apierror"
)

// DefaultBatchSize is used when a caller does not choose a batch size.
const DefaultBatchSize = 16

// Transformer is the capability every embedding model provides.
type Transformer interface {
	// Name is the model identity shown to clients.
	Name() string
	// OutputSelector lists the output tensor keys to probe, in precedence order.
	OutputSelector() []string
	Pooling() Pooling
	// Dimensions is the embedding width, or 0 when the model does not declare one.
	Dimensions() int
	// Transform runs inference and returns the raw output, one entry per sub-batch.
	Transform(ctx context.Context, documents []string, batchSize int) (RawOutputBatch, error)
}

// BatchSizeFor returns the batch size used for count documents when none is requested.
func BatchSizeFor(count int) int {
	return DefaultBatchSize
}

// EmbedToMatrix transforms documents and reduces the output to a normalized matrix.
func EmbedToMatrix(ctx context.Context, t Transformer, documents []string, batchSize int) (*Matrix, error) {
	if len(documents) == 0 {
		return nil, apierror.EmptyInput()
	}
	raw, err := t.Transform(ctx, documents, batchSize)
	if err != nil {
		return nil, err
	}
	m, err := Postprocess(raw, t.OutputSelector(), t.Pooling())
	if err != nil {
		return nil, err
	}
	if m.Rows != len(documents) {
		return nil, apierror.New(apierror.KindOutputTransform,
			"model %s returned %d embeddings for %d documents", t.Name(), m.Rows, len(documents))
	}
	if d := t.Dimensions(); d > 0 && m.Cols != d {
		return nil, apierror.New(apierror.KindOutputTransform,
			"model %s returned embeddings of dimension %d, expected %d", t.Name(), m.Cols, d)
	}
	return m, nil
}

// EmbedToVectors is EmbedToMatrix with each row returned as its own slice.
func EmbedToVectors(ctx context.Context, t Transformer, documents []string, batchSize int) ([][]float32, error) {
	m, err := EmbedToMatrix(ctx, t, documents, batchSize)
	if err != nil {
		return nil, err
	}
	return m.Vectors(), nil
}

// splitBatches cuts documents into consecutive chunks of at most size.
func splitBatches(documents []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]string, 0, (len(documents)+size-1)/size)
	for start := 0; start < len(documents); start += size {
		end := min(start+size, len(documents))
		batches = append(batches, documents[start:end])
	}
	return batches
}

func inferenceError(name string, err error) error {
	if apierror.KindOf(err) != "" {
		return err
	}
	return apierror.Wrap(apierror.KindInference, err, "Failed to generate embeddings with %s", name)
}
