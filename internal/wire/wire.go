// Package wire implements the binary log encoding emitted by instrumented
// firmware.
//
// Frames are separated by 0x00 delimiter bytes. Each frame body is
// COBS-encoded so it contains no zero byte. The decoded payload is:
//
//	version  u8        (must be 1)
//	flags    u8        (bit 0: timestamp present, bits 4..6: level)
//	address  uvarint   (symbol table key)
//	[timestamp_us uvarint]
//	value*             (uvarint length + UTF-8 bytes, one per placeholder)
//	crc32    u32le     (IEEE, over all preceding payload bytes)
//
// Parse decodes one delimited frame body; Append produces framed bytes and
// is used by tests and the capture replayer.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"
)

// Version is the encoding version this package understands.
const Version = 1

// Level values carried in the flags byte.
const (
	LevelTrace = 0
	LevelDebug = 1
	LevelInfo  = 2
	LevelWarn  = 3
	LevelError = 4
)

const (
	flagTimestamp  = 0x01
	levelShift     = 4
	levelMask      = 0x07
	reservedFlags  = 0x8E // bits that must be zero
	trailerSize    = 4    // crc32
	minPayloadSize = 2 + 1 + trailerSize
)

// Encoding errors. All of them except VersionError mark a single frame as
// malformed; VersionError poisons the whole stream.
var (
	ErrFrameTooShort   = errors.New("wire: frame too short")
	ErrInvalidCOBS     = errors.New("wire: invalid cobs encoding")
	ErrChecksum        = errors.New("wire: checksum mismatch")
	ErrReservedFlags   = errors.New("wire: reserved flag bits set")
	ErrInvalidLevel    = errors.New("wire: invalid level")
	ErrTruncatedVarint = errors.New("wire: truncated varint")
	ErrValueOverrun    = errors.New("wire: value length exceeds frame")
)

// VersionError reports a frame whose encoding version does not match
// Version. Unlike the malformed-frame errors it is not recoverable: later
// frames in the same stream cannot be trusted either.
type VersionError struct {
	Got uint8
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("wire: unsupported encoding version %d (want %d)", e.Got, Version)
}

// Record is one decoded frame payload.
type Record struct {
	Address      uint64
	Level        uint8
	Timestamp    time.Duration
	HasTimestamp bool
	Values       [][]byte
}

// Parse decodes one delimited frame body (without the 0x00 delimiter).
func Parse(frame []byte) (Record, error) {
	payload, err := cobsDecode(frame)
	if err != nil {
		return Record{}, err
	}
	if len(payload) < minPayloadSize {
		return Record{}, ErrFrameTooShort
	}

	body := payload[:len(payload)-trailerSize]
	want := binary.LittleEndian.Uint32(payload[len(payload)-trailerSize:])
	if crc32.ChecksumIEEE(body) != want {
		return Record{}, ErrChecksum
	}

	if body[0] != Version {
		return Record{}, &VersionError{Got: body[0]}
	}
	flags := body[1]
	if flags&reservedFlags != 0 {
		return Record{}, ErrReservedFlags
	}
	level := (flags >> levelShift) & levelMask
	if level > LevelError {
		return Record{}, ErrInvalidLevel
	}

	rec := Record{Level: level}
	rest := body[2:]

	rec.Address, rest, err = takeUvarint(rest)
	if err != nil {
		return Record{}, err
	}

	if flags&flagTimestamp != 0 {
		var us uint64
		us, rest, err = takeUvarint(rest)
		if err != nil {
			return Record{}, err
		}
		rec.Timestamp = time.Duration(us) * time.Microsecond
		rec.HasTimestamp = true
	}

	for len(rest) > 0 {
		var n uint64
		n, rest, err = takeUvarint(rest)
		if err != nil {
			return Record{}, err
		}
		if n > uint64(len(rest)) {
			return Record{}, ErrValueOverrun
		}
		rec.Values = append(rec.Values, rest[:n:n])
		rest = rest[n:]
	}

	return rec, nil
}

// Append encodes rec and appends the COBS frame plus the trailing delimiter
// to dst.
func Append(dst []byte, rec Record) []byte {
	payload := make([]byte, 0, 16)

	flags := (rec.Level & levelMask) << levelShift
	if rec.HasTimestamp {
		flags |= flagTimestamp
	}
	payload = append(payload, Version, flags)
	payload = binary.AppendUvarint(payload, rec.Address)
	if rec.HasTimestamp {
		payload = binary.AppendUvarint(payload, uint64(rec.Timestamp/time.Microsecond))
	}
	for _, v := range rec.Values {
		payload = binary.AppendUvarint(payload, uint64(len(v)))
		payload = append(payload, v...)
	}

	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(payload))
	payload = append(payload, crc[:]...)

	dst = cobsAppend(dst, payload)
	return append(dst, 0x00)
}

// AppendString is Append with string values.
func AppendString(dst []byte, rec Record, values ...string) []byte {
	rec.Values = make([][]byte, 0, len(values))
	for _, v := range values {
		rec.Values = append(rec.Values, []byte(v))
	}
	return Append(dst, rec)
}

func takeUvarint(b []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, nil, ErrTruncatedVarint
	}
	return v, b[n:], nil
}

// cobsAppend appends the COBS encoding of src (which may contain zero
// bytes) to dst. The output contains no zero byte.
func cobsAppend(dst, src []byte) []byte {
	codeIdx := len(dst)
	dst = append(dst, 0)
	code := byte(1)

	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codeIdx] = code
	return dst
}

// cobsDecode reverses cobsAppend. It rejects embedded zeros and block codes
// that point past the end of the input.
func cobsDecode(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, ErrFrameTooShort
	}
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		code := src[i]
		if code == 0 {
			return nil, ErrInvalidCOBS
		}
		block := int(code) - 1
		i++
		if i+block > len(src) {
			return nil, ErrInvalidCOBS
		}
		for _, b := range src[i : i+block] {
			if b == 0 {
				return nil, ErrInvalidCOBS
			}
			out = append(out, b)
		}
		i += block
		if code != 0xFF && i < len(src) {
			out = append(out, 0)
		}
	}
	return out, nil
}
