package embedding

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
// Implementations may return sequences shorter than maxTokens; sessions pad them per batch.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	clsTokenID = 101
	sepTokenID = 102
)

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type SimpleTokenizer struct{}

// Tokenize splits text into words and produces padded token IDs up to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	words := SplitWords(text)
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1

	pos := 1
	for _, word := range words {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(HashString(word) % 30000)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = sepTokenID
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	var words []string
	word := ""
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			if word != "" {
				words = append(words, word)
				word = ""
			}
		} else {
			word += string(r)
		}
	}
	if word != "" {
		words = append(words, word)
	}
	return words
}

// HashString returns a deterministic hash for use as a simple token ID.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}

// Encoded is a batch of tokenized documents padded to a common length.
type Encoded struct {
	Batch         int
	SeqLen        int
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	// Mask is AttentionMask split into one row per document.
	Mask [][]int64
}

// EncodeBatch tokenizes documents and right-pads every sequence to the longest one.
func EncodeBatch(tok Tokenizer, documents []string, maxTokens int) Encoded {
	ids := make([][]int64, len(documents))
	masks := make([][]int64, len(documents))
	types := make([][]int64, len(documents))
	seq := 0
	for i, doc := range documents {
		ids[i], masks[i], types[i] = tok.Tokenize(doc, maxTokens)
		seq = max(seq, len(ids[i]))
	}

	enc := Encoded{
		Batch:         len(documents),
		SeqLen:        seq,
		InputIDs:      make([]int64, len(documents)*seq),
		AttentionMask: make([]int64, len(documents)*seq),
		TokenTypeIDs:  make([]int64, len(documents)*seq),
		Mask:          make([][]int64, len(documents)),
	}
	for i := range documents {
		off := i * seq
		copy(enc.InputIDs[off:off+seq], ids[i])
		copy(enc.AttentionMask[off:off+seq], masks[i])
		copy(enc.TokenTypeIDs[off:off+seq], types[i])
		enc.Mask[i] = enc.AttentionMask[off : off+seq]
	}
	return enc
}
