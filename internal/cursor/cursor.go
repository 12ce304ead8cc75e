// Package cursor persists per-instance byte offsets into watched log files.
//
// Each instance owns one small state file holding the decimal offset and
// nothing else. Saves go through a temp file and rename so a crash leaves
// either the old or the new value on disk. A sibling lock file guards against
// overlapping invocations scanning the same instance.
package cursor

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// filePrefix names cursor files inside the state directory.
const filePrefix = "proxy_watcher_"

// ErrFileMissing is returned by Load when neither a cursor nor the log file
// exists. The caller skips the instance for this cycle.
var ErrFileMissing = errors.New("log file missing")

// ErrLocked is returned by Lock when another process holds the instance.
var ErrLocked = errors.New("instance locked by another run")

// StorageError reports a failure reading or writing a cursor file.
type StorageError struct {
	Op       string
	Instance string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cursor %s for %s: %v", e.Op, e.Instance, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store reads and writes cursor files under a directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &StorageError{Op: "init", Instance: dir, Err: err}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the cursor file path for an instance.
func (s *Store) Path(instance string) string {
	return filepath.Join(s.dir, filePrefix+safeName(instance))
}

// Load returns the offset to resume from.
//
// With no stored cursor the offset bootstraps to the current end of logPath,
// so history that predates the first run is never alerted on. A stored value
// is returned verbatim even if it is past the end of the file; the scanner
// decides what truncation means. A corrupt cursor is treated as absent.
func (s *Store) Load(instance, logPath string) (int64, error) {
	offset, found, err := s.read(instance)
	if err != nil {
		return 0, err
	}
	if found {
		return offset, nil
	}

	info, err := os.Stat(logPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrFileMissing
		}
		return 0, &StorageError{Op: "bootstrap", Instance: instance, Err: err}
	}

	slog.Info("no cursor stored, starting at end of log",
		"instance", instance,
		"path", logPath,
		"offset", info.Size(),
	)
	return info.Size(), nil
}

// Peek returns the stored offset without applying the bootstrap policy.
func (s *Store) Peek(instance string) (offset int64, found bool, err error) {
	return s.read(instance)
}

func (s *Store) read(instance string) (int64, bool, error) {
	data, err := os.ReadFile(s.Path(instance))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, &StorageError{Op: "load", Instance: instance, Err: err}
	}

	offset, err := parseOffset(data)
	if err != nil {
		slog.Warn("ignoring corrupt cursor",
			"instance", instance,
			"path", s.Path(instance),
			"error", err,
		)
		return 0, false, nil
	}
	return offset, true, nil
}

// Save replaces the stored offset for an instance.
func (s *Store) Save(instance string, offset int64) error {
	if offset < 0 {
		return &StorageError{Op: "save", Instance: instance, Err: fmt.Errorf("negative offset %d", offset)}
	}
	data := []byte(strconv.FormatInt(offset, 10))
	if err := writeFileAtomic(s.Path(instance), data, 0o644); err != nil {
		return &StorageError{Op: "save", Instance: instance, Err: err}
	}
	return nil
}

// Lock takes a non-blocking exclusive lock for the instance. The returned
// function releases it.
func (s *Store) Lock(instance string) (func(), error) {
	lock := flock.New(s.Path(instance) + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, &StorageError{Op: "lock", Instance: instance, Err: err}
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("releasing cursor lock", "instance", instance, "error", err)
		}
	}, nil
}

func parseOffset(data []byte) (int64, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, errors.New("empty cursor file")
	}
	offset, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing offset %q: %w", text, err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}
	return offset, nil
}

// safeName maps an instance name onto a single path element. Bytes outside
// [A-Za-z0-9._-] are percent-encoded, so distinct names never share a file.
func safeName(instance string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(instance); i++ {
		c := instance[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-', c == '_', c == '.':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
