package watcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/setevik/proxywatch/internal/classifier"
	"github.com/setevik/proxywatch/internal/config"
	"github.com/setevik/proxywatch/internal/event"
)

// ctxCheckEvery is how many lines are read between context checks.
const ctxCheckEvery = 1024

// ReadError reports an I/O failure while reading a log. The caller must not
// advance the cursor.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Result is the outcome of one Scan.
type Result struct {
	Matches     []event.Record
	StartOffset int64 // where reading actually began
	EndOffset   int64 // cursor value to persist
	Status      event.ScanStatus
	Lines       int // lines read
	Skipped     int // lines without a parsable latency
}

// BytesRead returns how many bytes the scan consumed.
func (r Result) BytesRead() int64 {
	if r.EndOffset < r.StartOffset {
		return 0
	}
	return r.EndOffset - r.StartOffset
}

// Options tune a Scanner.
type Options struct {
	LatencyField int
	OnTruncate   string // config.TruncateRescan or config.TruncateSkip
	// MaxLineBytes bounds how much of a line is parsed; 0 means no limit.
	// Lines are still read whole, and a match keeps the full line as its
	// text, so this does not cap memory.
	MaxLineBytes int
}

// OptionsFromConfig builds scanner options from the watch section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LatencyField: cfg.Watch.LatencyField,
		OnTruncate:   cfg.Watch.OnTruncate,
		MaxLineBytes: cfg.Watch.MaxLineBytes,
	}
}

// Scanner performs one bounded read of a log from a start offset to the end
// of the file as it was when the scan began.
type Scanner struct {
	fs         FileSystem
	cls        *classifier.Classifier
	onTruncate string
	maxLine    int
}

// NewScanner creates a Scanner. A nil fsys reads from the local disk.
func NewScanner(fsys FileSystem, opts Options) *Scanner {
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	if opts.OnTruncate == "" {
		opts.OnTruncate = config.TruncateRescan
	}
	return &Scanner{
		fs:         fsys,
		cls:        classifier.New(opts.LatencyField),
		onTruncate: opts.OnTruncate,
		maxLine:    opts.MaxLineBytes,
	}
}

// Scan reads path from start and returns the records whose latency exceeds
// threshold. A missing file is reported through Result.Status, not an error.
//
// A start offset beyond the current size means the file was truncated or
// replaced since the last run. With the rescan policy the new file is read
// from the beginning; with the skip policy nothing is read and the cursor
// moves to the current size. Either way the status is StatusTruncated.
//
// A final line without a newline is processed and counted as consumed.
func (s *Scanner) Scan(ctx context.Context, path string, start int64, threshold float64) (Result, error) {
	res := Result{StartOffset: start, EndOffset: start}

	if err := ctx.Err(); err != nil {
		res.Status = event.StatusReadError
		return res, &ReadError{Path: path, Err: err}
	}

	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			res.Status = event.StatusFileMissing
			return res, nil
		}
		res.Status = event.StatusReadError
		return res, &ReadError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		res.Status = event.StatusReadError
		return res, &ReadError{Path: path, Err: fmt.Errorf("stat: %w", err)}
	}
	size := info.Size()

	res.Status = event.StatusOK
	if start < 0 {
		start = 0
	}
	if start > size {
		slog.Warn("log is shorter than cursor, file was truncated or rotated",
			"path", path,
			"cursor", start,
			"size", size,
			"policy", s.onTruncate,
		)
		res.Status = event.StatusTruncated
		if s.onTruncate == config.TruncateSkip {
			res.StartOffset = size
			res.EndOffset = size
			return res, nil
		}
		start = 0
	}
	res.StartOffset = start
	res.EndOffset = start

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		res.Status = event.StatusReadError
		return res, &ReadError{Path: path, Err: fmt.Errorf("seek to %d: %w", start, err)}
	}

	reader := bufio.NewReaderSize(io.LimitReader(f, size-start), 64*1024)
	var consumed int64

	for {
		line, readErr := reader.ReadString('\n')
		consumed += int64(len(line))

		if line != "" {
			res.Lines++
			s.consider(&res, line, threshold)

			if res.Lines%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					res.Status = event.StatusReadError
					res.Matches = nil
					res.EndOffset = res.StartOffset
					return res, &ReadError{Path: path, Err: err}
				}
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			res.Status = event.StatusReadError
			res.Matches = nil
			res.EndOffset = res.StartOffset
			return res, &ReadError{Path: path, Err: readErr}
		}
	}

	res.EndOffset = start + consumed

	slog.Debug("scan complete",
		"path", path,
		"start", res.StartOffset,
		"end", res.EndOffset,
		"lines", res.Lines,
		"skipped", res.Skipped,
		"matches", len(res.Matches),
	)
	return res, nil
}

func (s *Scanner) consider(res *Result, line string, threshold float64) {
	text := strings.TrimRight(line, "\r\n")
	parsed := text
	if s.maxLine > 0 && len(parsed) > s.maxLine {
		cut := s.maxLine
		for cut > 0 && !utf8.RuneStart(parsed[cut]) {
			cut--
		}
		parsed = parsed[:cut]
	}

	rec, ok := s.cls.Classify(parsed)
	if !ok {
		res.Skipped++
		return
	}
	rec.Text = text
	if classifier.Exceeds(rec.LatencyMillis, threshold) {
		res.Matches = append(res.Matches, rec)
	}
}
