//go:build cgo
// +build cgo

package embedding

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// HFTokenizer tokenizes with a Hugging Face tokenizer.json definition.
type HFTokenizer struct {
	tk *tokenizers.Tokenizer
}

// NewHFTokenizer parses a tokenizer.json blob.
func NewHFTokenizer(definition []byte) (*HFTokenizer, error) {
	if len(definition) == 0 {
		return nil, fmt.Errorf("empty tokenizer definition")
	}
	tk, err := tokenizers.FromBytes(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer: %w", err)
	}
	return &HFTokenizer{tk: tk}, nil
}

// Tokenize encodes text with special tokens, truncated to maxTokens. Sequences are not padded.
func (t *HFTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	enc := t.tk.EncodeWithOptions(text, true,
		tokenizers.WithReturnAttentionMask(),
		tokenizers.WithReturnTypeIDs(),
	)
	n := len(enc.IDs)
	if maxTokens > 0 && n > maxTokens {
		n = maxTokens
	}
	inputIDs = make([]int64, n)
	attentionMask = make([]int64, n)
	tokenTypeIDs = make([]int64, n)
	for i := 0; i < n; i++ {
		inputIDs[i] = int64(enc.IDs[i])
		attentionMask[i] = 1
		if i < len(enc.AttentionMask) {
			attentionMask[i] = int64(enc.AttentionMask[i])
		}
		if i < len(enc.TypeIDs) {
			tokenTypeIDs[i] = int64(enc.TypeIDs[i])
		}
	}
	// Keep the closing special token when truncating.
	if n > 0 && n < len(enc.IDs) {
		inputIDs[n-1] = int64(enc.IDs[len(enc.IDs)-1])
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// Close frees the native tokenizer.
func (t *HFTokenizer) Close() error {
	return t.tk.Close()
}
