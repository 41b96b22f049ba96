package symbols

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// CoverageSection is the ELF section the firmware build embeds the JSON
// symbol table into. The section is not loaded onto the target.
const CoverageSection = ".cover_log"

// RTTSymbol is the SEGGER RTT control block symbol name.
const RTTSymbol = "_SEGGER_RTT"

// defaultRTTSize is used when the control block symbol carries no size.
const defaultRTTSize = 48

var (
	ErrNoCoverageSection = errors.New("symbols: binary has no " + CoverageSection + " section")
	ErrNoRTTSymbol       = errors.New("symbols: binary has no " + RTTSymbol + " symbol")
)

// Load builds a table from path. A .json file is read as the exported table
// format; anything else is opened as an ELF test binary.
func Load(path string) (*Table, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseTableFile(path)
	}
	return LoadELF(path)
}

// LoadELF extracts the symbol table embedded in the binary's coverage
// section.
func LoadELF(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("symbols: open binary: %w", err)
	}
	defer f.Close()

	sec := f.Section(CoverageSection)
	if sec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCoverageSection, path)
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("symbols: read %s: %w", CoverageSection, err)
	}
	// The section may be padded with zero bytes up to its alignment.
	data = bytes.TrimRight(data, "\x00")
	return ParseTable(data)
}

// RTTControlBlock locates the RTT control block in the binary. The address
// and size feed the debug server's rtt setup command.
func RTTControlBlock(path string) (uint64, uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("symbols: open binary: %w", err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		return 0, 0, fmt.Errorf("symbols: read symbols: %w", err)
	}
	for _, s := range syms {
		if s.Name != RTTSymbol {
			continue
		}
		size := s.Size
		if size == 0 {
			size = defaultRTTSize
		}
		return s.Value, size, nil
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrNoRTTSymbol, path)
}
