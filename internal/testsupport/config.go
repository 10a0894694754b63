package testsupport

import (
	"path/filepath"
	"testing"

	"pipettor/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Rotation.RecordPath = filepath.Join(base, ".i5_record.txt")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithRotationBackend selects the rotation record backend.
func WithRotationBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Rotation.Backend = backend
	}
}

// WithDeadVolume sets an absolute dead volume for source vessels.
func WithDeadVolume(volume float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Allocator.DeadVolume = volume
	}
}
