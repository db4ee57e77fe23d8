package embedding

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/embedder/internal/apierror"
)

// Pooling reduces a per-token tensor to one vector per document.
type Pooling int

const (
	// PoolingNone means the selected output is already pooled by the model graph.
	PoolingNone Pooling = iota
	PoolingMean
	PoolingFirstToken
)

func (p Pooling) String() string {
	switch p {
	case PoolingMean:
		return "mean"
	case PoolingFirstToken:
		return "first_token"
	default:
		return "none"
	}
}

// ParsePooling parses the config spelling of a pooling strategy. "cls" is accepted for first_token.
func ParsePooling(s string) (Pooling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PoolingNone, nil
	case "mean":
		return PoolingMean, nil
	case "first_token", "cls":
		return PoolingFirstToken, nil
	}
	return PoolingNone, fmt.Errorf("unknown pooling %q", s)
}

// Quantization is the quantization mode a model graph was exported with.
type Quantization int

const (
	QuantizationNone Quantization = iota
	QuantizationStatic
	// QuantizationDynamic graphs compute scales over the whole input, so they are never split.
	QuantizationDynamic
)

func (q Quantization) String() string {
	switch q {
	case QuantizationStatic:
		return "static"
	case QuantizationDynamic:
		return "dynamic"
	default:
		return "none"
	}
}

// ParseQuantization parses the config spelling of a quantization mode.
func ParseQuantization(s string) (Quantization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return QuantizationNone, nil
	case "static":
		return QuantizationStatic, nil
	case "dynamic":
		return QuantizationDynamic, nil
	}
	return QuantizationNone, fmt.Errorf("unknown quantization %q", s)
}

// DefaultGraphFile is the graph file name inside a model directory.
const DefaultGraphFile = "model.onnx"

// Descriptor is the immutable identity of a model variant.
type Descriptor struct {
	Name         string
	OutputKey    string
	Pooling      Pooling
	Quantization Quantization
	Dimensions   int
	GraphFile    string
	MaxTokens    int
}

// OutputSelector returns the single output key the pipeline must find.
func (d Descriptor) OutputSelector() []string {
	return []string{d.OutputKey}
}

// Graph returns the graph file name, defaulting to model.onnx.
func (d Descriptor) Graph() string {
	if d.GraphFile == "" {
		return DefaultGraphFile
	}
	return d.GraphFile
}

// BatchSize resolves the batch size used for a transform of count documents.
func (d Descriptor) BatchSize(requested, count int) int {
	if d.Quantization == QuantizationDynamic {
		return max(count, 1)
	}
	if requested > 0 {
		return requested
	}
	return BatchSizeFor(count)
}

const (
	AllMiniLML6V2  = "sentence-transformers/all-MiniLM-L6-v2"
	AllMpnetBaseV2 = "sentence-transformers/all-mpnet-base-v2"
	BGESmallENV15  = "BAAI/bge-small-en-v1.5"
)

var catalog = map[string]Descriptor{
	AllMiniLML6V2: {
		Name:       AllMiniLML6V2,
		OutputKey:  "last_hidden_state",
		Pooling:    PoolingMean,
		Dimensions: 384,
		MaxTokens:  256,
	},
	AllMpnetBaseV2: {
		Name:       AllMpnetBaseV2,
		OutputKey:  "last_hidden_state",
		Pooling:    PoolingMean,
		Dimensions: 768,
		MaxTokens:  384,
	},
	BGESmallENV15: {
		Name:       BGESmallENV15,
		OutputKey:  "last_hidden_state",
		Pooling:    PoolingFirstToken,
		Dimensions: 384,
		MaxTokens:  512,
	},
}

// Lookup returns the compiled-in descriptor for name.
func Lookup(name string) (Descriptor, error) {
	d, ok := catalog[name]
	if !ok {
		return Descriptor{}, apierror.New(apierror.KindUnknownModel, "Unknown model %q", name)
	}
	return d, nil
}

// Catalog returns every compiled-in descriptor sorted by name.
func Catalog() []Descriptor {
	out := make([]Descriptor, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
