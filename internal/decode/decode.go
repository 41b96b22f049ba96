// Package decode turns frame candidates into structured log records.
//
// A Decoder wraps the wire codec with a symbol table: the frame's address
// selects a format string and source location, and the frame's values bind
// to the format's placeholders, yielding keyed fields downstream consumers
// can classify. The Decoder assigns each successful record a strictly
// increasing sequence number independent of anything encoded on the wire;
// sequence numbers are the sole ordering key for one run.
package decode

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mhatzl/embedded-runner/internal/frame"
	"github.com/mhatzl/embedded-runner/internal/symbols"
	"github.com/mhatzl/embedded-runner/internal/wire"
)

// Level is the severity carried by a log record.
type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", uint8(l))
	}
}

// Field is one keyed value of a record, in placeholder order.
type Field struct {
	Key   string
	Value string
}

// LogRecord is one decoded log statement. Immutable once produced.
type LogRecord struct {
	Seq          uint64
	Timestamp    time.Duration // since firmware start
	HasTimestamp bool
	Level        Level
	File         string
	Line         int
	HasLocation  bool
	Message      string
	Fields       []Field
}

// Field returns the value of the first field with the given key.
func (r LogRecord) Field(key string) (string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

var errInvalidUTF8 = errors.New("value is not valid utf-8")

// Decoder decodes frames for one run. Not safe for concurrent use; each run
// owns its Decoder exclusively.
type Decoder struct {
	table *symbols.Table
	seq   uint64
	specs map[uint64]cachedFormat
}

type cachedFormat struct {
	spec *formatSpec
	err  error
}

// NewDecoder returns a Decoder over the given symbol table. The table is
// borrowed read-only.
func NewDecoder(table *symbols.Table) *Decoder {
	return &Decoder{
		table: table,
		specs: make(map[uint64]cachedFormat),
	}
}

// Decode decodes one frame candidate.
//
// Malformed frames return a zero record and a *Error with Kind Malformed;
// they do not consume a sequence number. Frames with an address missing
// from the symbol table return BOTH a best-effort record (raw payload, no
// location) and a *Error with Kind UnknownSymbol, so the caller can keep
// the record while counting the miss. A *Error with Kind VersionMismatch
// is fatal for the whole stream.
func (d *Decoder) Decode(f frame.Frame) (LogRecord, error) {
	w, err := wire.Parse(f.Bytes)
	if err != nil {
		var verr *wire.VersionError
		if errors.As(err, &verr) {
			return LogRecord{}, &Error{Kind: VersionMismatch, Offset: f.Offset, Err: err}
		}
		return LogRecord{}, &Error{Kind: Malformed, Offset: f.Offset, Err: err}
	}

	for _, v := range w.Values {
		if !utf8.Valid(v) {
			return LogRecord{}, &Error{Kind: Malformed, Offset: f.Offset, Err: errInvalidUTF8}
		}
	}

	entry, ok := d.table.Lookup(w.Address)
	if !ok {
		rec := d.next(w)
		rec.Message = fmt.Sprintf("unknown symbol 0x%x", w.Address)
		rec.Fields = []Field{{Key: "raw", Value: hexValues(w.Values)}}
		return rec, &Error{Kind: UnknownSymbol, Offset: f.Offset, Addr: w.Address}
	}

	spec, err := d.format(w.Address, entry.Format)
	if err != nil {
		return LogRecord{}, &Error{Kind: Malformed, Offset: f.Offset, Err: err}
	}
	if len(spec.placeholders) != len(w.Values) {
		return LogRecord{}, &Error{
			Kind:   Malformed,
			Offset: f.Offset,
			Err:    fmt.Errorf("format needs %d values, frame carries %d", len(spec.placeholders), len(w.Values)),
		}
	}

	rec := d.next(w)
	rec.File = entry.File
	rec.Line = entry.Line
	rec.HasLocation = entry.File != ""
	rec.Message = spec.render(w.Values)
	rec.Fields = make([]Field, len(spec.placeholders))
	for i, name := range spec.placeholders {
		rec.Fields[i] = Field{Key: name, Value: string(w.Values[i])}
	}
	return rec, nil
}

// next builds the base record and consumes a sequence number. Only called
// once a frame is known to produce a record.
func (d *Decoder) next(w wire.Record) LogRecord {
	rec := LogRecord{
		Seq:          d.seq,
		Level:        Level(w.Level),
		Timestamp:    w.Timestamp,
		HasTimestamp: w.HasTimestamp,
	}
	d.seq++
	return rec
}

// format returns the parsed format for addr, caching both outcomes so a bad
// format string fails every frame referencing it without reparsing.
func (d *Decoder) format(addr uint64, format string) (*formatSpec, error) {
	if c, ok := d.specs[addr]; ok {
		return c.spec, c.err
	}
	spec, err := parseFormat(format)
	if err != nil {
		err = fmt.Errorf("format %q: %w", format, err)
	}
	d.specs[addr] = cachedFormat{spec: spec, err: err}
	return spec, err
}

func hexValues(values [][]byte) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = hex.EncodeToString(v)
	}
	return strings.Join(parts, " ")
}
