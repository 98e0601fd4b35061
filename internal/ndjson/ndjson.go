// Package ndjson frames newline-delimited JSON over byte streams.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

const (
	initialBufferSize = 64 * 1024
	// DefaultMaxLineSize bounds a single inbound line. Codex item payloads can
	// carry whole file diffs, so the limit is generous.
	DefaultMaxLineSize = 16 * 1024 * 1024
)

// ErrLineTooLong is returned by ReadLine for a line longer than the
// reader's limit. The line has been skipped; the next call continues with
// the following line.
var ErrLineTooLong = errors.New("ndjson: line too long")

// Reader reads newline-delimited lines from an io.Reader.
type Reader struct {
	r       *bufio.Reader
	maxLine int
}

// NewReader creates a reader with DefaultMaxLineSize.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultMaxLineSize)
}

// NewReaderSize creates a reader that skips lines longer than maxLine bytes.
func NewReaderSize(r io.Reader, maxLine int) *Reader {
	size := initialBufferSize
	if maxLine < size {
		size = maxLine
	}
	return &Reader{r: bufio.NewReaderSize(r, size), maxLine: maxLine}
}

// ReadLine returns the next non-empty line with surrounding whitespace
// trimmed. The returned slice is owned by the caller.
// Returns io.EOF when the stream ends and ErrLineTooLong for an oversized
// line, after which reading may continue.
func (r *Reader) ReadLine() ([]byte, error) {
	for {
		line, err := r.next()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			return trimmed, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// next returns one line without its terminator in a fresh slice.
func (r *Reader) next() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		line = append(line, chunk...)
		n := len(line)
		if err == nil {
			n--
		}
		if n > r.maxLine {
			if errors.Is(err, bufio.ErrBufferFull) {
				r.skipLine()
			}
			return nil, ErrLineTooLong
		}
		switch {
		case err == nil:
			return line[:n], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return line, err
		}
	}
}

// skipLine discards input through the next newline or the end of input.
func (r *Reader) skipLine() {
	for {
		_, err := r.r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return
		}
	}
}

// Writer writes newline-terminated JSON values. Writes are serialized so
// concurrent callers never interleave partial lines.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	tap func([]byte)
}

// NewWriter creates a new NDJSON writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// SetTap installs a callback invoked with every line successfully written,
// without the trailing newline.
func (w *Writer) SetTap(tap func([]byte)) {
	w.mu.Lock()
	w.tap = tap
	w.mu.Unlock()
}

// Write encodes v and writes it as one line.
func (w *Writer) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteRaw(data)
}

// WriteRaw writes data followed by a newline in a single Write call and
// flushes when the underlying writer supports it.
func (w *Writer) WriteRaw(data []byte) error {
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(line); err != nil {
		return err
	}
	if f, ok := w.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	if w.tap != nil {
		w.tap(data)
	}
	return nil
}
