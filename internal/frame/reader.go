// Package frame splits a raw capture stream into delimited frames.
//
// Frames are separated by 0x00 bytes. The scanner never fails on bad input:
// regions it cannot frame (oversize runs, a truncated tail) are reported as
// Gap items in stream order so downstream consumers can account for loss
// instead of silently miscounting.
package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// DefaultMaxFrameSize bounds the encoded size of a single frame. Longer
// runs are treated as line noise and dropped.
const DefaultMaxFrameSize = 4096

const delimiter = 0x00

// Config controls stream scanning.
type Config struct {
	// MaxFrameSize is the largest encoded frame accepted, excluding the
	// delimiter. A longer run is dropped up to the next delimiter and
	// reported as a Gap.
	MaxFrameSize int
}

// DefaultConfig returns the scanning defaults.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize: DefaultMaxFrameSize,
	}
}

// GapReason explains why a region of the stream was dropped.
type GapReason string

const (
	// GapOversize marks a run longer than MaxFrameSize with no delimiter.
	GapOversize GapReason = "frame exceeds size limit"

	// GapTruncated marks unterminated bytes at the end of the stream.
	GapTruncated GapReason = "truncated frame at stream end"
)

// Item is one scan result, either a Frame or a Gap.
type Item interface {
	isItem()
}

// Frame is one delimited frame body with the delimiter stripped. Bytes is a
// copy owned by the caller.
type Frame struct {
	Offset int64 // stream offset of the first body byte
	Bytes  []byte
}

// Gap marks a dropped region of the stream.
type Gap struct {
	Offset       int64 // stream offset where the dropped region began
	BytesDropped int
	Reason       GapReason
}

func (Frame) isItem() {}
func (Gap) isItem()   {}

// Reader yields frames and gaps from a capture stream in stream order.
type Reader struct {
	br     *bufio.Reader
	offset int64
	err    error
}

// NewReader returns a Reader with default configuration.
func NewReader(r io.Reader) *Reader {
	return NewReaderWithConfig(r, DefaultConfig())
}

// NewReaderWithConfig returns a Reader with the given configuration.
func NewReaderWithConfig(r io.Reader, cfg Config) *Reader {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	// One extra byte so a maximum-size frame plus its delimiter fits in
	// the scan buffer. ReadSlice overflowing the buffer is what detects
	// oversize frames.
	return &Reader{br: bufio.NewReaderSize(r, cfg.MaxFrameSize+1)}
}

// Next returns the next frame or gap. Zero-length frames (idle padding
// between delimiters) are skipped. Next returns io.EOF once the stream is
// exhausted; any other error comes from the underlying reader and is
// terminal.
func (r *Reader) Next() (Item, error) {
	if r.err != nil {
		return nil, r.err
	}
	for {
		start := r.offset
		data, err := r.br.ReadSlice(delimiter)
		r.offset += int64(len(data))

		switch {
		case err == nil:
			body := data[:len(data)-1]
			if len(body) == 0 {
				continue
			}
			return Frame{Offset: start, Bytes: bytes.Clone(body)}, nil

		case errors.Is(err, bufio.ErrBufferFull):
			dropped := len(data)
			if derr := r.discardToDelimiter(&dropped); derr != nil {
				if !errors.Is(derr, io.EOF) {
					r.err = derr
					return nil, r.err
				}
				r.err = io.EOF
			}
			return Gap{Offset: start, BytesDropped: dropped, Reason: GapOversize}, nil

		case errors.Is(err, io.EOF):
			r.err = io.EOF
			if len(data) > 0 {
				return Gap{Offset: start, BytesDropped: len(data), Reason: GapTruncated}, nil
			}
			return nil, io.EOF

		default:
			r.err = err
			return nil, r.err
		}
	}
}

// discardToDelimiter consumes input until the next delimiter or the end of
// the stream, adding the number of dropped body bytes to dropped.
func (r *Reader) discardToDelimiter(dropped *int) error {
	for {
		data, err := r.br.ReadSlice(delimiter)
		r.offset += int64(len(data))

		switch {
		case err == nil:
			*dropped += len(data) - 1
			return nil
		case errors.Is(err, bufio.ErrBufferFull):
			*dropped += len(data)
		case errors.Is(err, io.EOF):
			*dropped += len(data)
			return io.EOF
		default:
			return err
		}
	}
}
