package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store persists checkpoint images under a name. Save overwrites any prior
// image with the same name.
type Store interface {
	Save(ctx context.Context, name string, img *Image) error
	Load(ctx context.Context, name string) (*Image, error)
}

// FileStore keeps one image per file. Names are file paths, resolved against
// Dir when relative and Dir is non-empty.
type FileStore struct {
	Dir string
}

// NewFileStore returns a FileStore rooted at dir ("" means the working directory).
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) path(name string) string {
	if s.Dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.Dir, name)
}

// Save writes img to the named file, truncating any previous contents.
func (s *FileStore) Save(ctx context.Context, name string, img *Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(name), data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint %s: %w", name, err)
	}
	return nil
}

// Load reads and decodes the named file.
func (s *FileStore) Load(ctx context.Context, name string) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("reading checkpoint %s: %w", name, err)
	}
	return Decode(data)
}
