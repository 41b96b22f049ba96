// Package wire tests for the frame payload codec.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helpers

// frameBody strips the trailing 0x00 delimiter appended by Append so the
// result can be fed to Parse directly.
func frameBody(t *testing.T, rec Record) []byte {
	t.Helper()
	out := Append(nil, rec)
	require.NotEmpty(t, out)
	require.Equal(t, byte(0x00), out[len(out)-1])
	return out[:len(out)-1]
}

// rawPayload builds an un-encoded payload (version, flags, address varint,
// optional values) with a valid CRC trailer. Tests corrupt it and COBS-wrap
// it by hand to reach error paths Append cannot produce.
func rawPayload(version, flags byte, addr uint64, values ...[]byte) []byte {
	p := []byte{version, flags}
	p = binary.AppendUvarint(p, addr)
	for _, v := range values {
		p = binary.AppendUvarint(p, uint64(len(v)))
		p = append(p, v...)
	}
	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(p))
	return append(p, crc[:]...)
}

// =============================================================================
// Round-Trip Tests
// =============================================================================

func TestParse_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{
			name: "minimal record",
			rec:  Record{Address: 0},
		},
		{
			name: "address only",
			rec:  Record{Address: 0x2000_0450, Level: LevelInfo},
		},
		{
			name: "with timestamp",
			rec: Record{
				Address:      7,
				Level:        LevelWarn,
				Timestamp:    1_234_567 * time.Microsecond,
				HasTimestamp: true,
			},
		},
		{
			name: "single value",
			rec: Record{
				Address: 99,
				Level:   LevelError,
				Values:  [][]byte{[]byte("overflow")},
			},
		},
		{
			name: "multiple values",
			rec: Record{
				Address:      0xFFFF_FFFF_FFFF,
				Level:        LevelTrace,
				Timestamp:    time.Second,
				HasTimestamp: true,
				Values:       [][]byte{[]byte("a"), []byte(""), []byte("third value")},
			},
		},
		{
			name: "value containing zero bytes",
			rec: Record{
				Address: 3,
				Level:   LevelDebug,
				Values:  [][]byte{{0x00, 0x01, 0x00}},
			},
		},
		{
			name: "value longer than one cobs block",
			rec: Record{
				Address: 5,
				Values:  [][]byte{bytes.Repeat([]byte{0xAB}, 600)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(frameBody(t, tt.rec))
			require.NoError(t, err)

			assert.Equal(t, tt.rec.Address, got.Address)
			assert.Equal(t, tt.rec.Level, got.Level)
			assert.Equal(t, tt.rec.HasTimestamp, got.HasTimestamp)
			if tt.rec.HasTimestamp {
				assert.Equal(t, tt.rec.Timestamp, got.Timestamp)
			}
			require.Len(t, got.Values, len(tt.rec.Values))
			for i := range tt.rec.Values {
				assert.Equal(t, tt.rec.Values[i], got.Values[i])
			}
		})
	}
}

func TestAppendString(t *testing.T) {
	body := AppendString(nil, Record{Address: 12, Level: LevelInfo}, "hello", "world")
	rec, err := Parse(body[:len(body)-1])
	require.NoError(t, err)

	require.Len(t, rec.Values, 2)
	assert.Equal(t, "hello", string(rec.Values[0]))
	assert.Equal(t, "world", string(rec.Values[1]))
}

func TestAppendString_DoesNotAliasCallerValues(t *testing.T) {
	orig := Record{Address: 1, Values: [][]byte{[]byte("keep")}}
	_ = AppendString(nil, orig, "other")
	assert.Equal(t, "keep", string(orig.Values[0]))
}

func TestAppend_FramesContainNoInteriorZero(t *testing.T) {
	rec := Record{
		Address: 0x1000,
		Values:  [][]byte{{0x00, 0x00, 0x00, 0x01}},
	}
	out := Append(nil, rec)
	assert.NotContains(t, out[:len(out)-1], byte(0x00))
}

func TestAppend_MultipleFramesShareBuffer(t *testing.T) {
	var stream []byte
	stream = AppendString(stream, Record{Address: 1}, "one")
	stream = AppendString(stream, Record{Address: 2}, "two")

	parts := bytes.Split(stream, []byte{0x00})
	// Split yields a trailing empty slice after the final delimiter.
	require.Len(t, parts, 3)
	assert.Empty(t, parts[2])

	first, err := Parse(parts[0])
	require.NoError(t, err)
	second, err := Parse(parts[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Address)
	assert.Equal(t, uint64(2), second.Address)
}

// =============================================================================
// Corruption Tests
// =============================================================================

func TestParse_ChecksumMismatch(t *testing.T) {
	rec := Record{Address: 42, Level: LevelInfo, Values: [][]byte{[]byte("payload")}}
	body := frameBody(t, rec)

	// Flip one bit in every position in turn. Any corruption must surface
	// as a structural error, never as a silently different record.
	for i := range body {
		mutated := bytes.Clone(body)
		mutated[i] ^= 0x10
		if mutated[i] == 0x00 {
			continue // would split the frame, not corrupt it
		}
		_, err := Parse(mutated)
		assert.Errorf(t, err, "bit flip at offset %d accepted", i)
	}
}

func TestParse_ChecksumCoversWholePayload(t *testing.T) {
	payload := rawPayload(Version, 0, 9, []byte("x"))
	payload[len(payload)-1] ^= 0xFF // corrupt the CRC trailer itself

	_, err := Parse(cobsAppend(nil, payload))
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestParse_TooShort(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "empty frame", frame: nil},
		{name: "one byte", frame: []byte{0x01}},
		{name: "below minimum payload", frame: cobsAppend(nil, []byte{Version, 0, 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.frame)
			assert.ErrorIs(t, err, ErrFrameTooShort)
		})
	}
}

func TestParse_InvalidCOBS(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "zero code byte", frame: []byte{0x00, 0x01, 0x02}},
		{name: "embedded zero in block", frame: []byte{0x03, 0x01, 0x00}},
		{name: "code points past end", frame: []byte{0x09, 0x01, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.frame)
			assert.ErrorIs(t, err, ErrInvalidCOBS)
		})
	}
}

func TestParse_VersionMismatch(t *testing.T) {
	payload := rawPayload(2, 0, 1)
	_, err := Parse(cobsAppend(nil, payload))
	require.Error(t, err)

	var verr *VersionError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, uint8(2), verr.Got)
	assert.Contains(t, verr.Error(), "version 2")
}

func TestParse_ReservedFlags(t *testing.T) {
	for _, bit := range []byte{0x02, 0x04, 0x08, 0x80} {
		payload := rawPayload(Version, bit, 1)
		_, err := Parse(cobsAppend(nil, payload))
		assert.ErrorIs(t, err, ErrReservedFlags, "flag bit 0x%02x", bit)
	}
}

func TestParse_InvalidLevel(t *testing.T) {
	for lvl := byte(5); lvl <= 7; lvl++ {
		payload := rawPayload(Version, lvl<<levelShift, 1)
		_, err := Parse(cobsAppend(nil, payload))
		assert.ErrorIs(t, err, ErrInvalidLevel, "level %d", lvl)
	}
}

func TestParse_TruncatedVarint(t *testing.T) {
	// Address varint claims a continuation byte that never arrives. The
	// 0x80 bytes keep the CRC valid by being computed over the same data.
	p := []byte{Version, 0, 0x80, 0x80}
	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(p))
	p = append(p, crc[:]...)

	_, err := Parse(cobsAppend(nil, p))
	assert.ErrorIs(t, err, ErrTruncatedVarint)
}

func TestParse_ValueOverrun(t *testing.T) {
	// A value header declaring 200 bytes with only 2 present.
	p := []byte{Version, 0}
	p = binary.AppendUvarint(p, 1)   // address
	p = binary.AppendUvarint(p, 200) // value length
	p = append(p, 'h', 'i')
	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(p))
	p = append(p, crc[:]...)

	_, err := Parse(cobsAppend(nil, p))
	assert.ErrorIs(t, err, ErrValueOverrun)
}

func TestParse_ErrorsAreDistinguishable(t *testing.T) {
	payload := rawPayload(9, 0, 1)
	_, err := Parse(cobsAppend(nil, payload))

	var verr *VersionError
	assert.True(t, errors.As(err, &verr))
	assert.False(t, errors.Is(err, ErrChecksum))
}

// =============================================================================
// COBS Encoding Tests
// =============================================================================

func TestCOBS_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
	}{
		{name: "empty", src: []byte{}},
		{name: "no zeros", src: []byte{1, 2, 3}},
		{name: "single zero", src: []byte{0}},
		{name: "leading zero", src: []byte{0, 1}},
		{name: "trailing zero", src: []byte{1, 0}},
		{name: "all zeros", src: bytes.Repeat([]byte{0}, 10)},
		{name: "253 nonzero bytes", src: bytes.Repeat([]byte{7}, 253)},
		{name: "254 nonzero bytes", src: bytes.Repeat([]byte{7}, 254)},
		{name: "255 nonzero bytes", src: bytes.Repeat([]byte{7}, 255)},
		{name: "508 nonzero bytes", src: bytes.Repeat([]byte{7}, 508)},
		{name: "zero after full block", src: append(bytes.Repeat([]byte{7}, 254), 0, 9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := cobsAppend(nil, tt.src)
			assert.NotContains(t, enc, byte(0x00))

			dec, err := cobsDecode(enc)
			require.NoError(t, err)
			assert.Equal(t, tt.src, dec)
		})
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkParse(b *testing.B) {
	body := AppendString(nil, Record{
		Address:      0x2000_0450,
		Level:        LevelInfo,
		Timestamp:    42 * time.Millisecond,
		HasTimestamp: true,
	}, "value one", "value two")
	body = body[:len(body)-1]

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Parse(body); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAppend(b *testing.B) {
	rec := Record{
		Address:      0x2000_0450,
		Level:        LevelInfo,
		Timestamp:    42 * time.Millisecond,
		HasTimestamp: true,
		Values:       [][]byte{[]byte("value one"), []byte("value two")},
	}
	buf := make([]byte, 0, 128)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf = Append(buf[:0], rec)
	}
}
