package tail

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// DefaultMaxLineSize bounds how much unterminated data is held back
// waiting for a newline before it is skipped.
const DefaultMaxLineSize = 8 << 20

// Extension is one contiguous range of newly appended bytes.
type Extension struct {
	// Path is the file the bytes came from.
	Path string

	// Offset is where Data starts in the file.
	Offset int64

	// Data holds the bytes read. Empty when there was nothing new.
	Data []byte

	// Reset is set when the file had shrunk below its cursor and reading
	// restarted from offset 0.
	Reset bool
}

// Empty reports whether the extension carries no data.
func (e Extension) Empty() bool {
	return len(e.Data) == 0
}

// Reader reads only the bytes appended to a file since its last read.
type Reader struct {
	registry    *Registry
	holdPartial bool
	maxLineSize int64
	logger      zerolog.Logger
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithHoldPartial controls trailing partial lines. When enabled (the
// default) the cursor stops after the last newline so an in-progress line
// is read again, complete, on the next call. When disabled the cursor
// always moves to the end of file and a partial line is lost.
func WithHoldPartial(enabled bool) ReaderOption {
	return func(r *Reader) {
		r.holdPartial = enabled
	}
}

// WithMaxLineSize sets the largest partial line held back.
func WithMaxLineSize(n int64) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxLineSize = n
		}
	}
}

// WithLogger sets the reader's logger.
func WithLogger(logger zerolog.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = logger
	}
}

// NewReader creates a Reader backed by registry.
func NewReader(registry *Registry, opts ...ReaderOption) *Reader {
	r := &Reader{
		registry:    registry,
		holdPartial: true,
		maxLineSize: DefaultMaxLineSize,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the cursor registry the reader advances.
func (r *Reader) Registry() *Registry {
	return r.registry
}

// ReadNew reads [cursor, size) of path and advances the cursor past the
// bytes returned. If the file shrank below its cursor the cursor resets to
// 0 and reading starts from the beginning in the same call. On error the
// cursor is left untouched, apart from a shrink reset.
func (r *Reader) ReadNew(path string) (Extension, error) {
	unlock := r.registry.Lock(path)
	defer unlock()

	ext := Extension{Path: path}

	f, err := os.Open(path)
	if err != nil {
		return ext, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ext, fmt.Errorf("stat %s: %w", path, err)
	}

	cursor := r.registry.Cursor(path)
	size := info.Size()
	if size < cursor {
		r.logger.Debug().
			Str("path", path).
			Int64("cursor", cursor).
			Int64("size", size).
			Msg("file shrank, resetting cursor")
		cursor = 0
		ext.Reset = true
		r.registry.SetCursor(path, 0)
	}
	ext.Offset = cursor
	if size <= cursor {
		return ext, nil
	}

	buf := make([]byte, size-cursor)
	n, err := io.ReadFull(io.NewSectionReader(f, cursor, size-cursor), buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return ext, fmt.Errorf("read %s at %d: %w", path, cursor, err)
	}
	buf = buf[:n]

	if r.holdPartial {
		end := bytes.LastIndexByte(buf, '\n')
		switch {
		case end >= 0:
			buf = buf[:end+1]
		case int64(len(buf)) >= r.maxLineSize:
			r.logger.Warn().
				Str("path", path).
				Int("bytes", len(buf)).
				Msg("skipping oversized unterminated line")
			r.registry.SetCursor(path, cursor+int64(len(buf)))
			return ext, nil
		default:
			return ext, nil
		}
	}

	ext.Data = buf
	r.registry.SetCursor(path, cursor+int64(len(buf)))
	return ext, nil
}

// Prime records the current size of path as its cursor, so only growth
// after this call is read. Missing files start at 0.
func (r *Reader) Prime(path string) int64 {
	unlock := r.registry.Lock(path)
	defer unlock()

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	r.registry.SetCursor(path, size)
	return size
}

// Track records cursor 0 for path unless it is already known.
func (r *Reader) Track(path string) {
	unlock := r.registry.Lock(path)
	defer unlock()

	if !r.registry.Known(path) {
		r.registry.SetCursor(path, 0)
	}
}
