package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local writes uploads under a directory.
type Local struct {
	dir string
}

// NewLocal creates dir if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) Put(_ context.Context, docID, filename string, data []byte) (string, error) {
	dest := filepath.Join(l.dir, filepath.FromSlash(objectName("", docID, filename)))
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return "", fmt.Errorf("creating archive dir: %w", err)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return dest, nil
	}
	if err != nil {
		return "", fmt.Errorf("creating archive file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(dest)
		return "", fmt.Errorf("writing archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing archive file: %w", err)
	}
	return dest, nil
}

func (l *Local) Delete(_ context.Context, docID, _ string) error {
	if err := os.RemoveAll(filepath.Join(l.dir, docID)); err != nil {
		return fmt.Errorf("removing archived upload: %w", err)
	}
	return nil
}

func (l *Local) Close() error { return nil }
