package keys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists the current secret as a single line of base64 text.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (Material, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Material{}, ErrNoKey
	}
	if err != nil {
		return Material{}, fmt.Errorf("read key file: %w", err)
	}
	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return Material{}, ErrNoKey
	}
	m := Material{Secret: secret}
	if fi, err := os.Stat(s.path); err == nil {
		m.CreatedAt = fi.ModTime().UTC()
	}
	return m, nil
}

func (s *FileStore) Save(_ context.Context, m Material) error {
	if m.Secret == "" {
		return errors.New("refusing to persist empty secret")
	}
	return writeFileAtomic(s.path, []byte(m.Secret+"\n"), 0o600)
}

// writeFileAtomic writes data via temp file, fsync and rename so a crash never
// leaves a truncated key file behind.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".jwt-secret-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
