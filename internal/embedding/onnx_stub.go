//go:build !cgo
// +build !cgo

package embedding

import (
	"errors"
)

// ONNXRuntime stub type when built without CGO (see onnx.go for real implementation).
type ONNXRuntime struct{}

// NewONNXRuntime returns a runtime whose sessions always fail when built without CGO.
func NewONNXRuntime(_ string, _ int) *ONNXRuntime {
	return &ONNXRuntime{}
}

// NewSession returns an error when built without CGO (ONNX not available).
func (r *ONNXRuntime) NewSession(_ Descriptor, _ Assets) (Session, error) {
	return nil, errors.New("ONNX runtime requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}
