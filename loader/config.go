package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "petalscript.yaml"
	homeConfigName    = "config.yaml"
	homeConfigDir     = ".petalscript"

	// ConfigEnv names a config file when --config is not given.
	ConfigEnv = "PETALSCRIPT_CONFIG"

	// HistoryPathEnv overrides history.path from the config file.
	HistoryPathEnv = "PETALSCRIPT_HISTORY_PATH"
)

// Config is the optional petalscript.yaml file.
type Config struct {
	Timeout   time.Duration   `yaml:"timeout"`
	NoColor   bool            `yaml:"no_color"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// HistoryConfig controls the sqlite run history.
type HistoryConfig struct {
	// Path of the database. Empty disables history.
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
	MaxRuns   int           `yaml:"max_runs"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	// OTLPEndpoint is host:port of an OTLP/HTTP collector. Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() Config {
	return Config{
		History: HistoryConfig{
			Retention: 30 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Insecure: true,
		},
	}
}

// DiscoverConfigPath resolves the config location with first-match semantics:
// the explicit path, $PETALSCRIPT_CONFIG, ./petalscript.yaml, then
// ~/.petalscript/config.yaml. found is false when no file exists.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	if strings.TrimSpace(explicitPath) == "" {
		explicitPath = os.Getenv(ConfigEnv)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath. It does
// not consult the environment.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	explicit := strings.TrimSpace(explicitPath) != ""
	if explicit {
		candidates = append(candidates, filepath.Clean(expandHome(strings.TrimSpace(explicitPath), homeDir)))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads the YAML config at path on top of DefaultConfig. Unknown
// keys are rejected. Relative history paths resolve against the config
// file's directory and ~ expands to the home directory. A set
// $PETALSCRIPT_HISTORY_PATH replaces history.path.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := decodeConfig(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}

	homeDir, _ := os.UserHomeDir()
	if cfg.History.Path != "" {
		cfg.History.Path = resolveConfigRelative(filepath.Dir(path), expandHome(os.ExpandEnv(cfg.History.Path), homeDir))
	}
	cfg.Telemetry.OTLPEndpoint = strings.TrimSpace(os.ExpandEnv(cfg.Telemetry.OTLPEndpoint))
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv applies environment overrides to cfg.
func (c *Config) ApplyEnv() {
	if p, ok := os.LookupEnv(HistoryPathEnv); ok {
		homeDir, _ := os.UserHomeDir()
		c.History.Path = expandHome(strings.TrimSpace(p), homeDir)
	}
}

// Validate reports settings that can never work.
func (c Config) Validate() error {
	switch {
	case c.Timeout < 0:
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	case c.History.Retention < 0:
		return fmt.Errorf("history.retention must not be negative, got %s", c.History.Retention)
	case c.History.MaxRuns < 0:
		return fmt.Errorf("history.max_runs must not be negative, got %d", c.History.MaxRuns)
	}
	return nil
}

func decodeConfig(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func expandHome(p, homeDir string) string {
	if homeDir == "" {
		return p
	}
	if p == "~" {
		return homeDir
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir, p[2:])
	}
	return p
}

func resolveConfigRelative(baseDir, p string) string {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
