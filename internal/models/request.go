// Package models defines the wire types of the embedder HTTP API.
package models

import (
	"strings"

	"github.com/hyperjump/embedder/internal/apierror"
)

// OutputFormat selects how embeddings are serialized in a response.
type OutputFormat string

const (
	// OutputJSON is an array of arrays, one per document (default).
	OutputJSON OutputFormat = "json"
	// OutputArray is an ndarray-style object {v, dim, data}.
	OutputArray OutputFormat = "array"
	// OutputMsgpack is the JSON response shape encoded as MessagePack.
	OutputMsgpack OutputFormat = "msgpack"
	// OutputPickle is recognised but not implemented.
	OutputPickle OutputFormat = "pickle"
)

// ParseOutputFormat resolves the ?output= query parameter. An empty value is OutputJSON.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return OutputJSON, nil
	case OutputJSON, OutputArray, OutputMsgpack:
		return f, nil
	case OutputPickle:
		return "", apierror.NotImplemented("Pickle output")
	default:
		return "", apierror.NotImplemented("Output format " + s)
	}
}

// EmbedRequest is the body of POST /embed.
type EmbedRequest struct {
	Model     string   `json:"model" msgpack:"model"`
	BatchSize int      `json:"batch_size,omitempty" msgpack:"batch_size,omitempty"`
	Documents []string `json:"documents" msgpack:"documents"`
}

// Validate checks the request before any model is touched.
func (r *EmbedRequest) Validate() error {
	if r.Model == "" {
		return apierror.New(apierror.KindInvalidRequest, "model is required")
	}
	if r.BatchSize < 0 {
		return apierror.New(apierror.KindInvalidRequest, "batch_size must not be negative, got %d", r.BatchSize)
	}
	if len(r.Documents) == 0 {
		return apierror.EmptyInput()
	}
	return nil
}
