// Package capture archives the raw frame stream of a run as a
// zstd-compressed file, so a run can be replayed through the decode
// pipeline later without the hardware attached.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Capture file header. The magic is written uncompressed so `file` and a
// hex dump identify captures without decompressing them.
var magic = []byte("EMRCAPT1")

var ErrInvalidHeader = errors.New("capture: not a capture file")

// Writer streams raw frame bytes into a capture file.
type Writer struct {
	f   *os.File
	enc *zstd.Encoder
}

// NewWriter creates the capture file at path, truncating any previous one.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: create %s: %w", path, err)
	}
	if _, err := f.Write(magic); err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: write header: %w", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: %w", err)
	}
	return &Writer{f: f, enc: enc}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.enc.Write(p)
}

// Close flushes the compressed stream and closes the file.
func (w *Writer) Close() error {
	encErr := w.enc.Close()
	closeErr := w.f.Close()
	if encErr != nil {
		return fmt.Errorf("capture: flush: %w", encErr)
	}
	if closeErr != nil {
		return fmt.Errorf("capture: close: %w", closeErr)
	}
	return nil
}

// Reader replays a capture file as the raw frame stream it recorded.
type Reader struct {
	f   *os.File
	dec *zstd.Decoder
}

// Open opens a capture file and validates its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}

	header := make([]byte, len(magic))
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidHeader, path)
	}
	if !bytes.Equal(header, magic) {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidHeader, path)
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: %w", err)
	}

	return &Reader{f: f, dec: dec}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	return r.dec.Read(p)
}

// Close releases the decoder and closes the file.
func (r *Reader) Close() error {
	r.dec.Close()
	return r.f.Close()
}
