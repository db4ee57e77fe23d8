// Package assets reads the files a model is built from.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/hyperjump/embedder/internal/apierror"
	"github.com/hyperjump/embedder/internal/embedding"
)

// Source reads a single file of a model.
type Source interface {
	// ReadFile returns the content of file inside the directory of model.
	ReadFile(ctx context.Context, model, file string) ([]byte, error)
	// Location describes where the files of model live, for error messages.
	Location(model string) string
}

// Load reads every asset of d. A missing or unreadable file is a ModelPathError.
func Load(ctx context.Context, src Source, d embedding.Descriptor) (embedding.Assets, error) {
	files := embedding.AssetFiles(d)
	blobs := make([][]byte, len(files))
	for i, name := range files {
		data, err := src.ReadFile(ctx, d.Name, name)
		if err != nil {
			return embedding.Assets{}, apierror.ModelPath(src.Location(d.Name), err)
		}
		blobs[i] = data
	}
	return embedding.Assets{
		Graph:            blobs[0],
		Tokenizer:        blobs[1],
		Config:           blobs[2],
		SpecialTokensMap: blobs[3],
		TokenizerConfig:  blobs[4],
	}, nil
}

// DirSource reads models from root/<model>/<file> on the local filesystem.
type DirSource struct {
	Root string
}

// NewDirSource returns a source rooted at root.
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

func (s *DirSource) ReadFile(_ context.Context, model, file string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(model), file))
}

func (s *DirSource) Location(model string) string {
	return filepath.Join(s.Root, filepath.FromSlash(model))
}

// FSSource reads models from an fs.FS laid out as <model>/<file>, such as an embedded bundle.
type FSSource struct {
	FS   fs.FS
	Name string
}

// NewFSSource returns a source over fsys; name labels it in error messages.
func NewFSSource(fsys fs.FS, name string) *FSSource {
	return &FSSource{FS: fsys, Name: name}
}

func (s *FSSource) ReadFile(_ context.Context, model, file string) ([]byte, error) {
	if s.FS == nil {
		return nil, errors.New("no embedded model bundle in this build")
	}
	return fs.ReadFile(s.FS, path.Join(model, file))
}

func (s *FSSource) Location(model string) string {
	return fmt.Sprintf("%s:%s", s.Name, model)
}
