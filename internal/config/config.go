package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state and log directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Pipette describes the instrument used for bulk buffer transfers.
type Pipette struct {
	Capacity float64 `toml:"capacity"`
	// Headroom is tip volume kept free for the air gap; chunks never exceed
	// Capacity - Headroom.
	Headroom float64 `toml:"headroom"`
	AirGap   float64 `toml:"air_gap"`
}

// Allocator contains the source-vessel rotation policy.
type Allocator struct {
	// DeadVolumeFraction is the unusable share of each vessel's nominal volume.
	DeadVolumeFraction float64 `toml:"dead_volume_fraction"`
	// DeadVolume is an absolute dead volume in µL; when set it wins over the fraction.
	DeadVolume float64 `toml:"dead_volume"`
	BlowOut    bool    `toml:"blow_out"`
}

// Magbeads contains defaults for magnetic bead handling steps.
type Magbeads struct {
	SupernatantChunk float64 `toml:"supernatant_chunk"`
	BeadFlowRate     float64 `toml:"bead_flow_rate"`
	MixRepetitions   int     `toml:"mix_repetitions"`
	EngageHeight     float64 `toml:"engage_height"`
	SettleSeconds    int     `toml:"settle_seconds"`
}

// Rotation configures where the primer-rotation record is persisted.
type Rotation struct {
	// Backend is "sqlite" (state database) or "file" (legacy TSV record).
	Backend    string `toml:"backend"`
	RecordPath string `toml:"record_path"`
	Positions  int    `toml:"positions"`
}

// Config encapsulates all configuration values for pipettor.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Logging   Logging   `toml:"logging"`
	Pipette   Pipette   `toml:"pipette"`
	Allocator Allocator `toml:"allocator"`
	Magbeads  Magbeads  `toml:"magbeads"`
	Rotation  Rotation  `toml:"rotation"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/pipettor/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. The boolean reports whether a file was found.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if os.IsNotExist(err) {
				return "", false, fmt.Errorf("config file %s does not exist", expanded)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %s is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	projectPath, err := filepath.Abs("pipettor.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the run-history database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "pipettor.db")
}

// DeadVolume resolves the depletion margin for a vessel of the given nominal volume.
func (c *Config) DeadVolume(nominal float64) float64 {
	if c.Allocator.DeadVolume > 0 {
		return c.Allocator.DeadVolume
	}
	return c.Allocator.DeadVolumeFraction * nominal
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
