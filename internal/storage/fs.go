package storage

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"murmur/internal/services"
)

// FSStore serves recordings from the local filesystem. Relative locators
// resolve under root; absolute ones are taken as-is. Either way the resolved
// path must stay inside root when a root is configured.
type FSStore struct {
	root string
}

// NewFSStore builds a filesystem adapter rooted at root. Empty root disables
// the containment check and allows arbitrary absolute paths.
func NewFSStore(root string) *FSStore {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return &FSStore{root: root}
}

func (s *FSStore) Download(ctx context.Context, locator string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := locator
	if s.root != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.root, path)
		}
		resolved, err := filepath.Abs(path)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "storage", "fs", "resolve path", err)
		}
		if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
			return nil, services.Wrap(services.ErrValidation, "storage", "fs",
				"path escapes media directory: "+locator, nil)
		}
		path = resolved
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "storage", "fs", "recording not found: "+locator, nil)
		}
		return nil, services.Wrap(services.ErrTransient, "storage", "fs", "stat recording", err)
	}
	if info.Size() > maxDownloadBytes {
		return nil, tooLarge(info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "storage", "fs", "read recording", err)
	}
	return &Object{
		Data:        data,
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}
