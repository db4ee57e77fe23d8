//go:build !embedmodels

package assets

import "io/fs"

// Bundle returns the models compiled into the binary. Builds without the
// embedmodels tag carry none.
func Bundle() fs.FS {
	return nil
}
