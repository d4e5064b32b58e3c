// Package blob stores uploaded images on the local filesystem until a flow has consumed them.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a flat directory of uploaded files addressed by opaque names.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the upload directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Write stores r under a new unique name that keeps ext (e.g. ".png").
func (s *Store) Write(r io.Reader, ext string) (string, error) {
	ext = strings.ToLower(filepath.Ext("x" + ext))
	name := uuid.NewString() + ext
	p, err := s.path(name)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(p)
		return "", fmt.Errorf("close blob: %w", err)
	}
	return name, nil
}

// Exists reports whether name is present.
func (s *Store) Exists(name string) bool {
	p, err := s.path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// ReadAll returns the contents of name.
func (s *Store) ReadAll(name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Remove deletes name. Removing a missing blob is not an error.
func (s *Store) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// RemoveAll deletes every name, logging failures instead of returning them.
func (s *Store) RemoveAll(names []string) {
	for _, name := range names {
		if err := s.Remove(name); err != nil {
			s.logger.Warn("Failed to remove upload", "blob", name, "error", err)
		}
	}
}

// RemoveOlderThan deletes blobs last modified before cutoff. It returns the
// number removed and stops early when ctx is done.
func (s *Store) RemoveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list uploads: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := s.Remove(entry.Name()); err != nil {
				s.logger.Warn("Failed to remove stale upload", "blob", entry.Name(), "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
