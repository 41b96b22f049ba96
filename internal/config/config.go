// Package config handles runner configuration loading and validation.
//
// Configuration lives in runner.toml (JSON and YAML are also accepted by
// extension). Keys are kebab-case. A missing file is not an error; every
// field has a usable default, and EMBEDDED_RUNNER_* environment variables
// override the file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mhatzl/embedded-runner/internal/frame"
	"github.com/mhatzl/embedded-runner/internal/rtt"
)

// Version is the current configuration schema version.
const Version = 1

// DefaultDataDir is where run artifacts land unless configured otherwise.
const DefaultDataDir = ".embedded-runner"

var ErrVersionTooNew = errors.New("config: file requires a newer runner")

// Duration decodes from strings like "12s" in TOML, JSON, and YAML.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Hook is an external command run before or after a target run. The
// firmware binary path is appended to Args.
type Hook struct {
	Name string   `toml:"name" json:"name" yaml:"name"`
	Args []string `toml:"args" json:"args" yaml:"args"`
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, or error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`
}

// Config holds the complete runner configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// GDB is the GDB executable to spawn, e.g. "arm-none-eabi-gdb".
	GDB string `toml:"gdb" json:"gdb" yaml:"gdb"`

	// OpenOCDCfg is the OpenOCD board/interface configuration passed to
	// the pipe target. Required for the run subcommand.
	OpenOCDCfg string `toml:"openocd-cfg" json:"openocd-cfg" yaml:"openocd-cfg"`

	// Load optionally replaces the plain `load` line of the GDB script.
	// It is a template with {{.Binary}}, {{.BinaryDir}} and
	// {{.BinaryNoExt}} available, so extra images can be flashed first.
	Load string `toml:"load" json:"load" yaml:"load"`

	// GDBScript optionally replaces the whole embedded script template.
	GDBScript string `toml:"gdb-script" json:"gdb-script" yaml:"gdb-script"`

	// GDBLogfile is where the debug server log goes.
	// Defaults to <data-dir>/gdb.log.
	GDBLogfile string `toml:"gdb-logfile" json:"gdb-logfile" yaml:"gdb-logfile"`

	// RTTPort is the local TCP port the debug server serves RTT on.
	RTTPort int `toml:"rtt-port" json:"rtt-port" yaml:"rtt-port"`

	// RTTTimeout bounds the wait for the RTT port to start accepting.
	RTTTimeout Duration `toml:"rtt-timeout" json:"rtt-timeout" yaml:"rtt-timeout"`

	// FrameMax is the per-frame size limit of the frame stream reader.
	FrameMax int `toml:"frame-max" json:"frame-max" yaml:"frame-max"`

	// RunMeta is an optional JSON file attached to each run's document
	// as external metadata.
	RunMeta string `toml:"run-meta" json:"run-meta" yaml:"run-meta"`

	// DataDir holds generated scripts, logs, captures, and documents.
	DataDir string `toml:"data-dir" json:"data-dir" yaml:"data-dir"`

	// Store is the run archive database path.
	// Defaults to <data-dir>/runs.db.
	Store string `toml:"store" json:"store" yaml:"store"`

	// Capture tees the raw frame stream into a replayable archive.
	Capture bool `toml:"capture" json:"capture" yaml:"capture"`

	PreRunner  *Hook `toml:"pre-runner,omitempty" json:"pre-runner,omitempty" yaml:"pre-runner,omitempty"`
	PostRunner *Hook `toml:"post-runner,omitempty" json:"post-runner,omitempty" yaml:"post-runner,omitempty"`

	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Version:    Version,
		GDB:        "gdb",
		RTTPort:    rtt.DefaultPort,
		RTTTimeout: Duration(rtt.DefaultTimeout),
		FrameMax:   frame.DefaultMaxFrameSize,
		DataDir:    DefaultDataDir,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigPath returns the first existing config file in the search order:
// ./runner.toml, <data-dir>/runner.toml, then the user config directory.
// An empty string means none exists.
func ConfigPath() string {
	candidates := []string{
		"runner.toml",
		filepath.Join(DefaultDataDir, "runner.toml"),
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "embedded-runner", "runner.toml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads the configuration at path, falling back to the search order
// when path is empty and to defaults when nothing exists. Environment
// overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
		if path == "" {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: decode TOML: %w", err)
		}
	}

	if cfg.Version == 0 {
		cfg.Version = Version
	}
	if cfg.Version > Version {
		return nil, fmt.Errorf("%w: config version %d, runner supports %d",
			ErrVersionTooNew, cfg.Version, Version)
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// LoadOrCreate loads the configuration at path, writing a default config
// file first when none exists. With an empty path the search order is
// consulted and, when nothing is found, the default file is created as
// ./runner.toml. The bool reports whether a file was created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		if existing := ConfigPath(); existing != "" {
			cfg, err := Load(existing)
			return cfg, false, err
		}
		path = "runner.toml"
	}

	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("config: stat %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := Save(cfg, path); err != nil {
		return nil, false, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, true, nil
}

// Save writes the configuration to path, encoded by extension the same way
// Load decodes it.
func Save(cfg *Config, path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides applies EMBEDDED_RUNNER_* environment variables on
// top of the loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("EMBEDDED_RUNNER_GDB"); v != "" {
		c.GDB = v
	}
	if v := os.Getenv("EMBEDDED_RUNNER_OPENOCD_CFG"); v != "" {
		c.OpenOCDCfg = v
	}
	if v := os.Getenv("EMBEDDED_RUNNER_RTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.RTTPort = port
		}
	}
	if v := os.Getenv("EMBEDDED_RUNNER_RTT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RTTTimeout = Duration(d)
		}
	}
	if v := os.Getenv("EMBEDDED_RUNNER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("EMBEDDED_RUNNER_STORE"); v != "" {
		c.Store = v
	}
	if v := os.Getenv("EMBEDDED_RUNNER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("EMBEDDED_RUNNER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// StorePath resolves the run archive path.
func (c *Config) StorePath() string {
	if c.Store != "" {
		return c.Store
	}
	return filepath.Join(c.DataDir, "runs.db")
}

// GDBLogPath resolves the debug server log path.
func (c *Config) GDBLogPath() string {
	if c.GDBLogfile != "" {
		return c.GDBLogfile
	}
	return filepath.Join(c.DataDir, "gdb.log")
}

// EnsureDirectories creates the data directory if needed.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("config: create data dir: %w", err)
	}
	return nil
}

// Validate checks fields every subcommand depends on.
func (c *Config) Validate() error {
	if c.RTTPort < 1 || c.RTTPort > 65535 {
		return fmt.Errorf("config: rtt-port %d out of range", c.RTTPort)
	}
	if c.RTTTimeout <= 0 {
		return fmt.Errorf("config: rtt-timeout must be positive, got %s", c.RTTTimeout.Std())
	}
	if c.FrameMax < 16 {
		return fmt.Errorf("config: frame-max %d too small", c.FrameMax)
	}
	if c.DataDir == "" {
		return errors.New("config: data-dir must not be empty")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	if c.PreRunner != nil && c.PreRunner.Name == "" {
		return errors.New("config: pre-runner needs a command name")
	}
	if c.PostRunner != nil && c.PostRunner.Name == "" {
		return errors.New("config: post-runner needs a command name")
	}
	return nil
}

// ValidateForRun additionally checks fields only the run subcommand needs.
func (c *Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.GDB == "" {
		return errors.New("config: gdb executable must be set")
	}
	if c.OpenOCDCfg == "" {
		return errors.New("config: openocd-cfg is required to run")
	}
	return nil
}
