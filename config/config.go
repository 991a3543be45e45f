package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/migadu/protonfusion/consts"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// SnapshotsConfig controls where run directories are stored.
type SnapshotsConfig struct {
	Dir             string `toml:"dir"`              // Snapshot root directory
	ScriptExtension string `toml:"script_extension"` // Extension of the compiled script file (default: "sieve")
}

// SieveConfig holds the script compiler settings.
type SieveConfig struct {
	// Markers delimiting the managed section inside a foreign script. They are
	// matched as whole lines, so changing them orphans previously uploaded
	// sections.
	SectionBegin string   `toml:"section_begin"`
	SectionEnd   string   `toml:"section_end"`
	FilterName   string   `toml:"filter_name"` // Name of the remote script that carries the managed section
	Extensions   []string `toml:"extensions"`  // Extensions enabled when validating with go-sieve
	Validate     bool     `toml:"validate"`    // Validate rendered and merged scripts with go-sieve
}

// SyncConfig holds retry settings used when applying operations to the remote system.
type SyncConfig struct {
	MaxRetries      int    `toml:"max_retries"`
	InitialInterval string `toml:"initial_interval"`
	MaxInterval     string `toml:"max_interval"`
}

// GetInitialInterval parses the first retry delay
func (s *SyncConfig) GetInitialInterval() (time.Duration, error) {
	if s.InitialInterval == "" {
		return 500 * time.Millisecond, nil
	}
	return time.ParseDuration(s.InitialInterval)
}

// GetMaxInterval parses the retry delay ceiling
func (s *SyncConfig) GetMaxInterval() (time.Duration, error) {
	if s.MaxInterval == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(s.MaxInterval)
}

// MetricsConfig holds metrics export configuration.
type MetricsConfig struct {
	Textfile string `toml:"textfile"` // Prometheus textfile-collector output; empty disables export
}

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig   `toml:"logging"`
	Snapshots SnapshotsConfig `toml:"snapshots"`
	Sieve     SieveConfig     `toml:"sieve"`
	Sync      SyncConfig      `toml:"sync"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Snapshots: SnapshotsConfig{
			Dir:             "snapshots",
			ScriptExtension: "sieve",
		},
		Sieve: SieveConfig{
			SectionBegin: "# BEGIN PROTONFUSION MANAGED SECTION - DO NOT EDIT",
			SectionEnd:   "# END PROTONFUSION MANAGED SECTION",
			FilterName:   "ProtonFusion Consolidated",
			Extensions:   []string{"fileinto", "imap4flags"},
			Validate:     true,
		},
		Sync: SyncConfig{
			MaxRetries:      2,
			InitialInterval: "500ms",
			MaxInterval:     "10s",
		},
	}
}

// ApplyEnv applies environment overrides on top of file configuration.
func (c *Config) ApplyEnv() {
	if dir := strings.TrimSpace(os.Getenv(consts.DataDirEnv)); dir != "" {
		c.Snapshots.Dir = dir
	}
}

// Validate checks the configuration for values the rest of the program cannot work with.
func (c *Config) Validate() error {
	if c.Snapshots.Dir == "" {
		return fmt.Errorf("%w: snapshots.dir must not be empty", consts.ErrInvalidConfig)
	}
	if strings.ContainsAny(c.Snapshots.ScriptExtension, "/\\ ") || c.Snapshots.ScriptExtension == "" {
		return fmt.Errorf("%w: snapshots.script_extension %q is not a valid file extension", consts.ErrInvalidConfig, c.Snapshots.ScriptExtension)
	}
	if c.Sieve.SectionBegin == "" || c.Sieve.SectionEnd == "" {
		return fmt.Errorf("%w: sieve.section_begin and sieve.section_end are required", consts.ErrInvalidConfig)
	}
	if c.Sieve.SectionBegin == c.Sieve.SectionEnd {
		return fmt.Errorf("%w: sieve.section_begin and sieve.section_end must differ", consts.ErrInvalidConfig)
	}
	for _, marker := range []string{c.Sieve.SectionBegin, c.Sieve.SectionEnd} {
		if strings.ContainsAny(marker, "\r\n") {
			return fmt.Errorf("%w: sieve section markers must be single lines", consts.ErrInvalidConfig)
		}
		if !strings.HasPrefix(marker, "#") {
			return fmt.Errorf("%w: sieve section marker %q must be a '#' comment", consts.ErrInvalidConfig, marker)
		}
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("%w: sync.max_retries must be >= 0", consts.ErrInvalidConfig)
	}
	if _, err := c.Sync.GetInitialInterval(); err != nil {
		return fmt.Errorf("%w: sync.initial_interval: %v", consts.ErrInvalidConfig, err)
	}
	if _, err := c.Sync.GetMaxInterval(); err != nil {
		return fmt.Errorf("%w: sync.max_interval: %v", consts.ErrInvalidConfig, err)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: logging.format must be 'console' or 'json'", consts.ErrInvalidConfig)
	}
	return nil
}

// LoadConfigFromFile decodes a TOML file into cfg. Unknown keys are reported
// but do not fail the load.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return enhanceConfigError(err)
	}

	if len(metadata.Undecoded()) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range metadata.Undecoded() {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

func enhanceConfigError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "has already been defined") {
		return fmt.Errorf("%w\n\nHINT: You have a duplicate configuration key in your TOML file.\n"+
			"Please remove or comment out the duplicate entry.", err)
	}

	if strings.Contains(errMsg, "expected value but found \"f\"") ||
		strings.Contains(errMsg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: Invalid boolean value in your TOML configuration file.\n"+
			"In TOML, boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}

	return fmt.Errorf("failed to parse configuration: %w", err)
}

// trimStringFields recursively trims whitespace from all string fields.
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))

	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			elem := v.Index(i)
			if elem.Kind() == reflect.String {
				elem.SetString(strings.TrimSpace(elem.String()))
			} else {
				trimStringFields(elem)
			}
		}

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			field := v.Field(i)
			if field.CanSet() {
				trimStringFields(field)
			}
		}

	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
