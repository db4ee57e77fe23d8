//go:build embedmodels

package assets

import (
	"embed"
	"io/fs"
)

// Copy or link the model directories under internal/assets/models before building
// with -tags embedmodels.
//
//go:embed all:models
var bundle embed.FS

// Bundle returns the models compiled into the binary.
func Bundle() fs.FS {
	sub, err := fs.Sub(bundle, "models")
	if err != nil {
		return nil
	}
	return sub
}
