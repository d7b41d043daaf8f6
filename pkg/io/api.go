package io

import (
	"io"
)

// FileIO is the slice of filesystem behaviour the fetcher depends on.
type FileIO interface {
	// ListDir returns the names of regular files directly inside dir. A
	// missing directory lists as empty.
	ListDir(dir string) (map[string]struct{}, error)
	// FileSize returns the size of path and false when it does not exist.
	FileSize(path string) (int64, bool, error)
	// OpenAppend opens path for appending, creating it when needed. Existing
	// bytes are never truncated.
	OpenAppend(path string) (io.WriteCloser, error)
	// Rename moves source to target, refusing to overwrite target.
	Rename(source, target string) error
	MkdirAll(path string) error
	Exists(path string) bool
	Remove(path string) error
}
