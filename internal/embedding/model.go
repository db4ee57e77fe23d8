package embedding

import "context"

// Model is a descriptor bound to a loaded inference session. It is read-only
// after construction and shared by every request that uses it.
type Model struct {
	desc    Descriptor
	session Session
	cache   *EmbeddingCache
}

// NewModel wraps session. cacheSize > 0 enables an LRU cache of embedded documents.
func NewModel(d Descriptor, session Session, cacheSize int) *Model {
	m := &Model{desc: d, session: session}
	if cacheSize > 0 {
		m.cache = NewEmbeddingCache(cacheSize)
	}
	return m
}

func (m *Model) Name() string { return m.desc.Name }
func (m *Model) Descriptor() Descriptor { return m.desc }
func (m *Model) OutputSelector() []string { return m.desc.OutputSelector() }
func (m *Model) Pooling() Pooling { return m.desc.Pooling }
func (m *Model) Dimensions() int { return m.desc.Dimensions }

// Transform runs the session over consecutive sub-batches of documents.
func (m *Model) Transform(ctx context.Context, documents []string, batchSize int) (RawOutputBatch, error) {
	size := m.desc.BatchSize(batchSize, len(documents))
	batches := splitBatches(documents, size)
	raw := make(RawOutputBatch, 0, len(batches))
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, inferenceError(m.desc.Name, err)
		}
		sub, err := m.session.Run(ctx, batch)
		if err != nil {
			return nil, inferenceError(m.desc.Name, err)
		}
		if sub.Size == 0 {
			sub.Size = len(batch)
		}
		raw = append(raw, sub)
	}
	return raw, nil
}

// EmbedToMatrix embeds documents, serving repeated documents from the cache when enabled.
func (m *Model) EmbedToMatrix(ctx context.Context, documents []string, batchSize int) (*Matrix, error) {
	if m.cache == nil || len(documents) == 0 {
		return EmbedToMatrix(ctx, m, documents, batchSize)
	}

	rows := make([][]float32, len(documents))
	var missing []string
	var missingIdx []int
	for i, doc := range documents {
		if v, ok := m.cache.Get(doc); ok {
			rows[i] = v
			continue
		}
		missing = append(missing, doc)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) > 0 {
		fresh, err := EmbedToMatrix(ctx, m, missing, batchSize)
		if err != nil {
			return nil, err
		}
		for j, i := range missingIdx {
			row := append([]float32(nil), fresh.Row(j)...)
			rows[i] = row
			m.cache.Set(documents[i], row)
		}
	}

	cols := len(rows[0])
	out := &Matrix{Rows: len(rows), Cols: cols, Data: make([]float32, 0, len(rows)*cols)}
	for _, row := range rows {
		out.Data = append(out.Data, row...)
	}
	return out, nil
}

// EmbedToVectors returns one independent slice per document.
func (m *Model) EmbedToVectors(ctx context.Context, documents []string, batchSize int) ([][]float32, error) {
	mat, err := m.EmbedToMatrix(ctx, documents, batchSize)
	if err != nil {
		return nil, err
	}
	return mat.Vectors(), nil
}

// CacheStats reports the document cache; ok is false when caching is disabled.
func (m *Model) CacheStats() (stats CacheStats, ok bool) {
	if m.cache == nil {
		return CacheStats{}, false
	}
	return m.cache.Stats(), true
}

// Close releases the session. Only called at process shutdown.
func (m *Model) Close() error {
	return m.session.Close()
}
