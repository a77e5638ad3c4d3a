package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// PublicPrefix is the URL path under which stored files are served.
const PublicPrefix = "/icon"

// ErrUnsupportedType is returned for files whose extension is not accepted.
var ErrUnsupportedType = errors.New("unsupported file type")

var allowedExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".pdf":  true,
}

// Store persists uploaded documents and returns a relative retrievable path.
type Store interface {
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Local writes documents under a directory served statically at
// PublicPrefix.
type Local struct {
	dir string
}

// NewLocal creates dir if needed.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Dir returns the backing directory.
func (l *Local) Dir() string { return l.dir }

// Save stores r under a random name keeping the original extension. The file
// is synced and closed before the path is returned.
func (l *Local) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	name := uuid.NewString() + ext
	full := filepath.Join(l.dir, name)
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(full)
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(full)
		return "", fmt.Errorf("sync document: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return "", fmt.Errorf("close document: %w", err)
	}
	return path.Join(PublicPrefix, name), nil
}
