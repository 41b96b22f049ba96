// Package symbols resolves binary log addresses to source locations and
// format strings.
//
// A Table is built once per run from the test binary (or from a JSON export
// of it) and is read-only afterwards. Decoding borrows the table; it is
// never shared mutable state between runs.
package symbols

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// TableVersion is the JSON table format version this package reads.
const TableVersion = 1

var (
	ErrTableVersion = errors.New("symbols: unsupported table version")
	ErrEmptyTable   = errors.New("symbols: table contains no symbols")
)

// Entry describes one instrumented log statement in the binary.
type Entry struct {
	Address uint64 `json:"address"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Format  string `json:"format"`
}

// Table maps log addresses to entries. Immutable after construction.
type Table struct {
	entries map[uint64]Entry
}

// NewTable builds a table from entries. A duplicate address keeps the last
// entry, matching how a linker resolves a redefined symbol.
func NewTable(entries []Entry) *Table {
	m := make(map[uint64]Entry, len(entries))
	for _, e := range entries {
		m[e.Address] = e
	}
	return &Table{entries: m}
}

// Lookup returns the entry for addr.
func (t *Table) Lookup(addr uint64) (Entry, bool) {
	e, ok := t.entries[addr]
	return e, ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns all entries sorted by address.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// tableFile is the JSON form produced by the firmware build.
type tableFile struct {
	Version int     `json:"version"`
	Symbols []Entry `json:"symbols"`
}

// ParseTable parses the JSON table format.
func ParseTable(data []byte) (*Table, error) {
	var tf tableFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("symbols: parse table: %w", err)
	}
	if tf.Version != TableVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrTableVersion, tf.Version, TableVersion)
	}
	if len(tf.Symbols) == 0 {
		return nil, ErrEmptyTable
	}
	return NewTable(tf.Symbols), nil
}

// ParseTableFile reads and parses a JSON table file.
func ParseTableFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("symbols: read table: %w", err)
	}
	return ParseTable(data)
}
