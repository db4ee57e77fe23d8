//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXRuntime builds sessions on ONNX Runtime. It requires CGO and the onnxruntime shared library.
type ONNXRuntime struct {
	libraryPath string
	threads     int

	initOnce sync.Once
	initErr  error
}

// NewONNXRuntime returns a runtime that loads the shared library at libraryPath
// (empty for the platform default). threads > 0 caps intra-op threads per session.
func NewONNXRuntime(libraryPath string, threads int) *ONNXRuntime {
	return &ONNXRuntime{libraryPath: libraryPath, threads: threads}
}

func (r *ONNXRuntime) init() error {
	r.initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if r.libraryPath != "" {
			ort.SetSharedLibraryPath(r.libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			r.initErr = fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	})
	return r.initErr
}

var supportedInputs = map[string]bool{
	"input_ids":      true,
	"attention_mask": true,
	"token_type_ids": true,
}

// NewSession parses the tokenizer and graph from assets and opens a session
// producing every output the graph declares.
func (r *ONNXRuntime) NewSession(d Descriptor, assets Assets) (Session, error) {
	if err := r.init(); err != nil {
		return nil, err
	}

	tok, err := NewHFTokenizer(assets.Tokenizer)
	if err != nil {
		return nil, err
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfoWithONNXData(assets.Graph)
	if err != nil {
		_ = tok.Close()
		return nil, fmt.Errorf("failed to read model graph: %w", err)
	}
	inputNames := make([]string, 0, len(inputInfo))
	for _, in := range inputInfo {
		if !supportedInputs[in.Name] {
			_ = tok.Close()
			return nil, fmt.Errorf("unsupported model input %q", in.Name)
		}
		inputNames = append(inputNames, in.Name)
	}
	outputNames := make([]string, 0, len(outputInfo))
	for _, out := range outputInfo {
		outputNames = append(outputNames, out.Name)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		_ = tok.Close()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if r.threads > 0 {
		if err := opts.SetIntraOpNumThreads(r.threads); err != nil {
			_ = tok.Close()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(assets.Graph, inputNames, outputNames, opts)
	if err != nil {
		_ = tok.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxSession{
		session:     session,
		tokenizer:   tok,
		maxTokens:   MaxTokens(d, assets),
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

// onnxSession wraps a DynamicAdvancedSession; ONNX Runtime allows concurrent Run calls.
type onnxSession struct {
	session     *ort.DynamicAdvancedSession
	tokenizer   *HFTokenizer
	maxTokens   int
	inputNames  []string
	outputNames []string
}

func (s *onnxSession) Run(ctx context.Context, documents []string) (SubBatch, error) {
	if err := ctx.Err(); err != nil {
		return SubBatch{}, err
	}
	enc := EncodeBatch(s.tokenizer, documents, s.maxTokens)
	shape := ort.NewShape(int64(enc.Batch), int64(enc.SeqLen))

	inputs := make([]ort.Value, 0, len(s.inputNames))
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()
	for _, name := range s.inputNames {
		var data []int64
		switch name {
		case "input_ids":
			data = enc.InputIDs
		case "attention_mask":
			data = enc.AttentionMask
		case "token_type_ids":
			data = enc.TokenTypeIDs
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return SubBatch{}, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		inputs = append(inputs, t)
	}

	// Nil outputs are allocated by the runtime with the shapes it computes.
	outputs := make([]ort.Value, len(s.outputNames))
	defer func() {
		for _, v := range outputs {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()
	if err := s.session.Run(inputs, outputs); err != nil {
		return SubBatch{}, fmt.Errorf("inference failed: %w", err)
	}

	sub := SubBatch{
		Size:          enc.Batch,
		Outputs:       make(map[string]Tensor, len(outputs)),
		AttentionMask: enc.Mask,
	}
	for i, v := range outputs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			continue
		}
		dims := t.GetShape()
		shape := make([]int, len(dims))
		for j, d := range dims {
			shape[j] = int(d)
		}
		sub.Outputs[s.outputNames[i]] = Tensor{
			Shape: shape,
			Data:  append([]float32(nil), t.GetData()...),
		}
	}
	return sub, nil
}

func (s *onnxSession) Close() error {
	err := s.session.Destroy()
	if cerr := s.tokenizer.Close(); err == nil {
		err = cerr
	}
	return err
}
