// embedded-runner captures test coverage from firmware test runs: it drives
// the test binary on hardware under GDB/OpenOCD, decodes the RTT byte
// stream into a coverage document, and validates and merges documents
// across runs.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/mhatzl/embedded-runner/internal/config"
	"github.com/mhatzl/embedded-runner/internal/logging"
)

// Set at release build time via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		cmdInit(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	case "decode":
		cmdDecode(os.Args[2:])
	case "collect":
		cmdCollect(os.Args[2:])
	case "verify":
		cmdVerify(os.Args[2:])
	case "show":
		cmdShow(os.Args[2:])
	case "version":
		fmt.Printf("embedded-runner %s (commit %s, built %s, %s)\n",
			version, commit, buildTime, runtime.Version())
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `embedded-runner - firmware test coverage capture and merge

Usage: embedded-runner <command> [options]

Commands:
  init     Write a default configuration and create the data directory
  run      Execute firmware test binaries and produce coverage documents
  decode   Replay a recorded capture through the decode pipeline
  collect  Validate and merge coverage documents into an aggregate
  verify   Schema-validate a coverage document
  show     List runs archived in a run store
  version  Print version information
  help     Show this help message

Run 'embedded-runner <command> -h' for command options.`)
}

// cmdInit bootstraps a workspace: it writes a default runner.toml when no
// configuration exists yet and creates the data directory.
func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "config file to create (default: runner.toml)")
	fs.Parse(args)

	cfg, created, err := config.LoadOrCreate(*configPath)
	if err != nil {
		fatalf("init: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fatalf("init: %v", err)
	}

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	if created {
		fmt.Printf("Created %s with default settings\n", path)
	} else {
		fmt.Printf("Found existing configuration at %s\n", path)
	}
	fmt.Printf("Data directory: %s\n", cfg.DataDir)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Point openocd-cfg at your board's OpenOCD config file")
	fmt.Println("  2. Run tests with 'embedded-runner run -binary <test.elf>'")
}

// fatalf reports an operation failure and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// usagef reports a usage error and exits 2.
func usagef(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}

// loadConfig loads the runner configuration and installs the process
// logger from its logging section.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalf("config: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fatalf("config: %v", err)
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		fatalf("config: %v", err)
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = format
	logger, err := logging.New(logCfg)
	if err != nil {
		fatalf("logging: %v", err)
	}
	logging.SetDefault(logger)
	return cfg
}

// stringList collects a repeatable flag value.
type stringList []string

func (l *stringList) String() string {
	if l == nil {
		return ""
	}
	out := ""
	for i, v := range *l {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}
