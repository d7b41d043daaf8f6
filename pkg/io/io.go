package io

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/afero"
)

var (
	_ FileIO = (*MediaFileSystem)(nil)

	ErrFileExists = fmt.Errorf("file already exists")
)

const (
	dirMode  os.FileMode = 0o755
	fileMode os.FileMode = 0o644
)

// MediaFileSystem implements FileIO on top of an afero filesystem so the same
// code runs against the OS and an in-memory filesystem in tests.
type MediaFileSystem struct {
	fs afero.Fs
}

// New wraps fs. A nil fs means the OS filesystem.
func New(fs afero.Fs) *MediaFileSystem {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &MediaFileSystem{fs: fs}
}

// NewOS returns a MediaFileSystem backed by the OS filesystem.
func NewOS() *MediaFileSystem {
	return New(afero.NewOsFs())
}

// Fs exposes the underlying afero filesystem.
func (o *MediaFileSystem) Fs() afero.Fs {
	return o.fs
}

func (o *MediaFileSystem) ListDir(dir string) (map[string]struct{}, error) {
	entries, err := afero.ReadDir(o.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Mode().IsRegular() {
			names[e.Name()] = struct{}{}
		}
	}

	return names, nil
}

func (o *MediaFileSystem) FileSize(path string) (int64, bool, error) {
	info, err := o.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.IsDir() {
		return 0, false, fmt.Errorf("%s is a directory", path)
	}

	return info.Size(), true, nil
}

func (o *MediaFileSystem) OpenAppend(path string) (io.WriteCloser, error) {
	return o.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fileMode)
}

// Rename moves a file. Both paths are expected on the same filesystem so the
// move is a single rename.
func (o *MediaFileSystem) Rename(source, target string) error {
	if o.Exists(target) {
		return ErrFileExists
	}
	return o.fs.Rename(source, target)
}

func (o *MediaFileSystem) MkdirAll(path string) error {
	return o.fs.MkdirAll(path, dirMode)
}

func (o *MediaFileSystem) Exists(path string) bool {
	ok, err := afero.Exists(o.fs, path)
	return err == nil && ok
}

func (o *MediaFileSystem) Remove(path string) error {
	err := o.fs.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
