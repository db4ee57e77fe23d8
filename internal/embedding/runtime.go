package embedding

import (
	"context"
	"encoding/json"
)

// Assets are the files a model is built from.
type Assets struct {
	Graph            []byte
	Tokenizer        []byte
	Config           []byte
	SpecialTokensMap []byte
	TokenizerConfig  []byte
}

// AssetFiles names the files of a model directory, graph first.
func AssetFiles(d Descriptor) []string {
	return []string{
		d.Graph(),
		"tokenizer.json",
		"config.json",
		"special_tokens_map.json",
		"tokenizer_config.json",
	}
}

// Session runs a loaded model. Run must be safe for concurrent use.
type Session interface {
	Run(ctx context.Context, documents []string) (SubBatch, error)
	Close() error
}

// Runtime builds inference sessions from model assets.
type Runtime interface {
	NewSession(d Descriptor, assets Assets) (Session, error)
}

// DefaultMaxTokens is the truncation length used when neither the descriptor
// nor tokenizer_config.json sets one.
const DefaultMaxTokens = 512

// Tokenizers without a real limit export model_max_length as a huge sentinel.
const maxModelMaxLength = 1 << 16

// MaxTokens resolves the truncation length: the descriptor's when set, else
// model_max_length from tokenizer_config.json, else DefaultMaxTokens.
func MaxTokens(d Descriptor, assets Assets) int {
	if d.MaxTokens > 0 {
		return d.MaxTokens
	}
	var cfg struct {
		ModelMaxLength float64 `json:"model_max_length"`
	}
	if len(assets.TokenizerConfig) > 0 && json.Unmarshal(assets.TokenizerConfig, &cfg) == nil &&
		cfg.ModelMaxLength >= 1 && cfg.ModelMaxLength <= maxModelMaxLength {
		return int(cfg.ModelMaxLength)
	}
	return DefaultMaxTokens
}
