// stream-gen generates synthetic firmware capture streams for exercising
// the decode and collect workflows without target hardware.
//
// Usage:
//
//	go run tools/stream-gen.go -output run.raw -symbols fw.symbols.json
//	go run tools/stream-gen.go -output run.raw.zst -profile flaky -tests 30
//	go run tools/stream-gen.go -output run.raw -profile noisy -seed 7
//
// The generated stream decodes with:
//
//	embedded-runner decode -capture run.raw.zst -symbols fw.symbols.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/mhatzl/embedded-runner/internal/capture"
	"github.com/mhatzl/embedded-runner/internal/symbols"
	"github.com/mhatzl/embedded-runner/internal/wire"
)

// Log statement addresses of the simulated firmware image.
const (
	addrTestStart = 0x0800_2000
	addrTestEnd   = 0x0800_2010
	addrTestFail  = 0x0800_2020
	addrCover     = 0x0800_2030
	addrTraceRoot = 0x0800_2040
	addrNote      = 0x0800_2050
)

func tableEntries() []symbols.Entry {
	return []symbols.Entry{
		{Address: addrTestStart, File: "harness/runner.c", Line: 41, Format: "starting {test.start}"},
		{Address: addrTestEnd, File: "harness/runner.c", Line: 77, Format: "finished {test.end}: {result}"},
		{Address: addrTestFail, File: "harness/runner.c", Line: 84, Format: "finished {test.end}: {result} ({reason})"},
		{Address: addrCover, File: "harness/assert.c", Line: 118, Format: "covered {req.cover}"},
		{Address: addrTraceRoot, File: "harness/trace.c", Line: 23, Format: "trace root {trace.root}"},
		{Address: addrNote, File: "src/main.c", Line: 132, Format: "note {note}"},
	}
}

// StreamProfile defines parameters for simulating different target behaviors.
type StreamProfile struct {
	Name            string
	Description     string
	FailureRate     float64 // Fraction of tests that fail
	IgnoreRate      float64 // Fraction of tests the target skips
	CoverPerTest    int     // Upper bound of requirement annotations per test
	NotesPerTest    int     // Upper bound of plain log records per test
	NoiseRate       float64 // Probability of a corrupt frame between records
	UnknownRate     float64 // Probability of a record from an unregistered address
	GapRate         float64 // Probability of an oversize run between tests
	TruncateLastRun bool    // Drop the final test.end boundary
}

var profiles = map[string]StreamProfile{
	"clean": {
		Name:         "Clean Bench Run",
		Description:  "Undisturbed capture, every test terminated",
		FailureRate:  0.05,
		CoverPerTest: 3,
		NotesPerTest: 2,
	},
	"noisy": {
		Name:         "Noisy Serial Line",
		Description:  "Occasional corrupt frames and unregistered addresses",
		FailureRate:  0.1,
		IgnoreRate:   0.05,
		CoverPerTest: 3,
		NotesPerTest: 3,
		NoiseRate:    0.08,
		UnknownRate:  0.04,
	},
	"flaky": {
		Name:            "Flaky Target",
		Description:     "Heavy corruption, dropped runs, capture cut mid-test",
		FailureRate:     0.25,
		IgnoreRate:      0.1,
		CoverPerTest:    4,
		NotesPerTest:    4,
		NoiseRate:       0.15,
		UnknownRate:     0.08,
		GapRate:         0.1,
		TruncateLastRun: true,
	},
}

var components = []string{"boot", "uart", "adc", "flash", "gpio", "dma", "i2c", "spi", "rtc", "wdg"}
var actions = []string{"init", "echo", "cal", "selftest", "xfer", "roundtrip"}

func main() {
	var (
		outputPath   = flag.String("output", "run.raw", "Output capture path; a .zst suffix compresses")
		symbolsPath  = flag.String("symbols", "", "Also write the matching symbol table JSON here")
		testCount    = flag.Int("tests", 12, "Number of tests to simulate")
		profileName  = flag.String("profile", "clean", "Stream profile to use")
		root         = flag.String("root", "fw", "Requirement namespace emitted as trace root")
		seed         = flag.Int64("seed", 0, "Random seed; 0 = use current time")
		listProfiles = flag.Bool("list", false, "List available profiles")
	)
	flag.Parse()

	if *listProfiles {
		fmt.Println("Available profiles:")
		for name, p := range profiles {
			fmt.Printf("  %-10s %s\n", name, p.Description)
		}
		os.Exit(0)
	}

	profile, ok := profiles[*profileName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown profile: %s\n", *profileName)
		fmt.Fprintf(os.Stderr, "Use -list to see available profiles\n")
		os.Exit(1)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	fmt.Printf("Generating %d tests with profile: %s\n", *testCount, profile.Name)
	fmt.Printf("Random seed: %d\n", *seed)

	stream, stats := generateStream(rng, profile, *testCount, *root)

	if err := writeStream(*outputPath, stream); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing capture: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d bytes to %s\n", len(stream), *outputPath)

	if *symbolsPath != "" {
		if err := writeTable(*symbolsPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing symbol table: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Symbol table written to %s\n", *symbolsPath)
	}

	printStats(stats)
}

// streamStats counts what the generator injected.
type streamStats struct {
	Tests        int
	Passed       int
	Failed       int
	Ignored      int
	Evidence     int
	Records      int
	NoiseFrames  int
	UnknownAddrs int
	Gaps         int
	Truncated    bool
}

func generateStream(rng *rand.Rand, profile StreamProfile, count int, root string) ([]byte, streamStats) {
	var (
		buf   []byte
		stats streamStats
		ts    time.Duration
	)

	tick := func() time.Duration {
		ts += 250*time.Microsecond + time.Duration(rng.Int63n(int64(5*time.Millisecond)))
		return ts
	}
	emit := func(addr uint64, level uint8, values ...string) {
		buf = wire.AppendString(buf, wire.Record{
			Address:      addr,
			Level:        level,
			Timestamp:    tick(),
			HasTimestamp: true,
		}, values...)
		stats.Records++
	}
	disturb := func() {
		if rng.Float64() < profile.NoiseRate {
			n := 1 + rng.Intn(24)
			for i := 0; i < n; i++ {
				// Keep injected garbage delimiter-free so it corrupts
				// exactly one frame.
				buf = append(buf, byte(1+rng.Intn(255)))
			}
			buf = append(buf, 0x00)
			stats.NoiseFrames++
		}
		if rng.Float64() < profile.UnknownRate {
			emit(0xDEAD0000+uint64(rng.Intn(0x100)), wire.LevelWarn, "stray")
			stats.UnknownAddrs++
		}
	}

	if root != "" {
		emit(addrTraceRoot, wire.LevelDebug, root)
	}

	for i := 0; i < count; i++ {
		if rng.Float64() < profile.GapRate {
			run := 5000 + rng.Intn(4000)
			for j := 0; j < run; j++ {
				buf = append(buf, 0xAA)
			}
			buf = append(buf, 0x00)
			stats.Gaps++
		}

		component := components[rng.Intn(len(components))]
		name := fmt.Sprintf("%s_%s_%03d", component, actions[rng.Intn(len(actions))], i+1)
		emit(addrTestStart, wire.LevelInfo, name)
		stats.Tests++

		covers := 1 + rng.Intn(profile.CoverPerTest)
		notes := rng.Intn(profile.NotesPerTest + 1)
		for c := 0; c < covers; c++ {
			disturb()
			emit(addrCover, wire.LevelInfo, fmt.Sprintf("REQ-%s-%d", strings.ToUpper(component), 1+rng.Intn(9)))
			stats.Evidence++
		}
		for n := 0; n < notes; n++ {
			disturb()
			emit(addrNote, wire.LevelDebug, fmt.Sprintf("cycle %d", rng.Intn(100000)))
		}

		last := i == count-1
		if last && profile.TruncateLastRun {
			stats.Truncated = true
			break
		}

		switch r := rng.Float64(); {
		case r < profile.FailureRate:
			emit(addrTestFail, wire.LevelError, name, "failed", "assertion at step "+fmt.Sprint(1+rng.Intn(8)))
			stats.Failed++
		case r < profile.FailureRate+profile.IgnoreRate:
			emit(addrTestEnd, wire.LevelInfo, name, "ignored")
			stats.Ignored++
		default:
			emit(addrTestEnd, wire.LevelInfo, name, "passed")
			stats.Passed++
		}
	}

	return buf, stats
}

func writeStream(path string, stream []byte) error {
	if strings.HasSuffix(path, ".zst") {
		w, err := capture.NewWriter(path)
		if err != nil {
			return err
		}
		if _, err := w.Write(stream); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	}
	return os.WriteFile(path, stream, 0644)
}

func writeTable(path string) error {
	data, err := json.MarshalIndent(struct {
		Version int             `json:"version"`
		Symbols []symbols.Entry `json:"symbols"`
	}{Version: symbols.TableVersion, Symbols: tableEntries()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func printStats(stats streamStats) {
	fmt.Println()
	fmt.Println("Stream statistics:")
	fmt.Printf("  Tests:           %d (%d passed, %d failed, %d ignored)\n",
		stats.Tests, stats.Passed, stats.Failed, stats.Ignored)
	fmt.Printf("  Records:         %d\n", stats.Records)
	fmt.Printf("  Evidence:        %d\n", stats.Evidence)
	fmt.Printf("  Corrupt frames:  %d\n", stats.NoiseFrames)
	fmt.Printf("  Unknown symbols: %d\n", stats.UnknownAddrs)
	fmt.Printf("  Oversize gaps:   %d\n", stats.Gaps)
	if stats.Truncated {
		fmt.Println("  Final test left unterminated")
	}
}
