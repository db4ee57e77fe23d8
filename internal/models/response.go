package models

import (
	"github.com/hyperjump/embedder/internal/embedding"
	"github.com/hyperjump/embedder/internal/status"
)

// EmbedResponse is the body of a successful POST /embed. Embeddings is either
// [][]float32 or an *embedding.Matrix depending on the output format.
type EmbedResponse struct {
	Model string `json:"model" msgpack:"model"`
	// Duration is the transform time in seconds, excluding time queued for a worker.
	Duration   float64 `json:"duration" msgpack:"duration"`
	Embeddings any     `json:"embeddings" msgpack:"embeddings"`
}

// VectorsResponse decodes an EmbedResponse produced with OutputJSON.
type VectorsResponse struct {
	Model      string      `json:"model" msgpack:"model"`
	Duration   float64     `json:"duration" msgpack:"duration"`
	Embeddings [][]float32 `json:"embeddings" msgpack:"embeddings"`
}

// RootResponse is the body of GET /.
type RootResponse struct {
	Name        string           `json:"name"`
	Authors     string           `json:"authors"`
	Description string           `json:"description"`
	Version     string           `json:"version"`
	Status      *status.Snapshot `json:"status,omitempty"`
}

// ModelInfo describes one catalog entry for GET /models.
type ModelInfo struct {
	Name         string `json:"name"`
	Dimensions   int    `json:"dimensions"`
	Pooling      string `json:"pooling"`
	Quantization string `json:"quantization"`
	MaxTokens    int    `json:"max_tokens"`
	State        string `json:"state,omitempty"`

	// Cache is set for loaded models with a document cache.
	Cache *embedding.CacheStats `json:"cache,omitempty"`
}
