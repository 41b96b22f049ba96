package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/mhatzl/embedded-runner/internal/config"
)

// ScriptData is the data a GDB script template renders against. The load
// sub-template sees the same fields, so a config can flash extra images
// relative to the test binary.
type ScriptData struct {
	// Binary is the test binary path. All paths use forward slashes; GDB
	// accepts them on every platform.
	Binary      string
	BinaryDir   string
	BinaryNoExt string

	// Load is the resolved load section. Only set on the script
	// template, never on the load sub-template itself.
	Load string

	OpenOCDConfig string
	GDBLogfile    string

	// RTTAddress and RTTSize locate the RTT control block in target
	// memory.
	RTTAddress uint64
	RTTSize    uint64

	// RTTPort is the local TCP port the debug server serves the RTT
	// channel on.
	RTTPort int

	// SleepCommand is the shell command used to give the debug server a
	// moment to settle: "sleep" on unix, "timeout" on windows.
	SleepCommand string
}

// defaultScript is the embedded GDB command file. It pipes GDB to OpenOCD so
// no separate server process needs managing, flashes the binary, arms RTT at
// the control block found in the ELF, exposes the channel on a local TCP
// port, and lets the firmware run to completion.
const defaultScript = `set pagination off

target extended-remote | openocd -c "gdb_port pipe; log_output {{.GDBLogfile}}" -f {{.OpenOCDConfig}}

{{.Load}}

b main
continue

monitor rtt setup {{printf "0x%x" .RTTAddress}} {{.RTTSize}} "SEGGER RTT"
monitor rtt start
monitor rtt server start {{.RTTPort}} 0

shell {{.SleepCommand}} 1

continue

shell {{.SleepCommand}} 1

quit
`

// RenderScript produces the GDB command file for one run of binary. The
// load section comes from cfg.Load (plain "load" when unset), and a
// cfg.GDBScript path replaces the whole embedded template.
func RenderScript(cfg *config.Config, binary string, rttAddr, rttSize uint64) (string, error) {
	data := ScriptData{
		Binary:        filepath.ToSlash(binary),
		BinaryDir:     filepath.ToSlash(filepath.Dir(binary)),
		BinaryNoExt:   filepath.ToSlash(strings.TrimSuffix(binary, filepath.Ext(binary))),
		OpenOCDConfig: filepath.ToSlash(cfg.OpenOCDCfg),
		GDBLogfile:    filepath.ToSlash(cfg.GDBLogPath()),
		RTTAddress:    rttAddr,
		RTTSize:       rttSize,
		RTTPort:       cfg.RTTPort,
		SleepCommand:  sleepCommand(),
	}

	load, err := resolveLoad(cfg.Load, data)
	if err != nil {
		return "", err
	}
	data.Load = load

	text := defaultScript
	if cfg.GDBScript != "" {
		raw, err := os.ReadFile(cfg.GDBScript)
		if err != nil {
			return "", fmt.Errorf("runner: read script template: %w", err)
		}
		text = string(raw)
	}

	tmpl, err := template.New("gdb-script").Parse(text)
	if err != nil {
		return "", fmt.Errorf("runner: parse script template: %w", err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("runner: render script template: %w", err)
	}
	return buf.String(), nil
}

// resolveLoad renders the configured load section against the binary paths.
func resolveLoad(loadTemplate string, data ScriptData) (string, error) {
	if loadTemplate == "" {
		return "load", nil
	}
	tmpl, err := template.New("load").Parse(loadTemplate)
	if err != nil {
		return "", fmt.Errorf("runner: parse load template: %w", err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("runner: render load template: %w", err)
	}
	return buf.String(), nil
}

func sleepCommand() string {
	if runtime.GOOS == "windows" {
		return "timeout"
	}
	return "sleep"
}
