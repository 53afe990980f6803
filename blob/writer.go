// Package blob mirrors repaired bars to object-style storage.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jing2uo/datascan/utils"
)

type Writer interface {
	Write(ctx context.Context, path string, data []byte) error
}

// FS stores objects as files under a root directory. Writes land in a temp
// file first and are renamed into place.
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if err := utils.CheckOutputDir(root); err != nil {
		return nil, err
	}
	return &FS{root: root}, nil
}

func (f *FS) Root() string { return f.root }

func (f *FS) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return fmt.Errorf("invalid blob path %q", path)
	}

	target := filepath.Join(f.root, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-"+filepath.Base(target)+"-")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
