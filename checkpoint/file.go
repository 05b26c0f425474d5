package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps one <run>.json per run in a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(run string) string {
	return filepath.Join(s.dir, run+".json")
}

func (s *FileStore) Load(_ context.Context, run string) (*Checkpoint, error) {
	if err := ValidRunName(run); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path(run))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return decode(run, b)
}

// Save writes to a temp file, fsyncs it, renames it over the old checkpoint
// and fsyncs the directory. A crash leaves either the old or the new file.
func (s *FileStore) Save(_ context.Context, cp *Checkpoint) error {
	b, err := encode(cp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, cp.RunName+".*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(cp.RunName)); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return syncDir(s.dir)
}

func (s *FileStore) Reset(_ context.Context, run string) error {
	if err := ValidRunName(run); err != nil {
		return err
	}
	if err := os.Remove(s.path(run)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	return syncDir(s.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open checkpoint dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint dir: %w", err)
	}
	return nil
}
