// Package watcher reads newly appended bytes from proxy SQL logs.
package watcher

import (
	"io"
	"io/fs"
	"os"
)

// File is the part of *os.File the scanner uses.
type File interface {
	io.Reader
	io.Seeker
	io.Closer
	Stat() (fs.FileInfo, error)
}

// FileSystem opens log files by path. OSFileSystem is the production
// implementation; tests substitute in-memory or failing sources.
type FileSystem interface {
	Open(path string) (File, error)
}

// OSFileSystem opens files from the local disk.
type OSFileSystem struct{}

func (OSFileSystem) Open(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}
