package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePipette(); err != nil {
		return err
	}
	if err := c.validateAllocator(); err != nil {
		return err
	}
	if err := c.validateMagbeads(); err != nil {
		return err
	}
	return c.validateRotation()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validatePipette() error {
	if !finite(c.Pipette.Capacity, c.Pipette.Headroom, c.Pipette.AirGap) {
		return errors.New("pipette: capacity, headroom and air_gap must be finite numbers")
	}
	if c.Pipette.Capacity <= 0 {
		return errors.New("pipette.capacity must be positive")
	}
	if c.Pipette.Headroom < 0 || c.Pipette.Headroom >= c.Pipette.Capacity {
		return errors.New("pipette.headroom must be between 0 and pipette.capacity")
	}
	if c.Pipette.AirGap < 0 || c.Pipette.AirGap > c.Pipette.Headroom {
		return errors.New("pipette.air_gap must be between 0 and pipette.headroom")
	}
	return nil
}

func (c *Config) validateAllocator() error {
	if !finite(c.Allocator.DeadVolumeFraction, c.Allocator.DeadVolume) {
		return errors.New("allocator: dead volume settings must be finite numbers")
	}
	if c.Allocator.DeadVolumeFraction < 0 || c.Allocator.DeadVolumeFraction >= 1 {
		return errors.New("allocator.dead_volume_fraction must be in [0, 1)")
	}
	if c.Allocator.DeadVolume < 0 {
		return errors.New("allocator.dead_volume must not be negative")
	}
	return nil
}

func (c *Config) validateMagbeads() error {
	if !finite(c.Magbeads.SupernatantChunk, c.Magbeads.BeadFlowRate, c.Magbeads.EngageHeight) {
		return errors.New("magbeads: chunk, flow rate and engage height must be finite numbers")
	}
	if c.Magbeads.SupernatantChunk <= 0 || c.Magbeads.SupernatantChunk > c.Pipette.Capacity-c.Pipette.AirGap {
		return errors.New("magbeads.supernatant_chunk must be positive and leave room for the air gap")
	}
	if c.Magbeads.BeadFlowRate <= 0 {
		return errors.New("magbeads.bead_flow_rate must be positive")
	}
	if c.Magbeads.MixRepetitions < 0 {
		return errors.New("magbeads.mix_repetitions must not be negative")
	}
	if c.Magbeads.SettleSeconds < 0 {
		return errors.New("magbeads.settle_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateRotation() error {
	switch c.Rotation.Backend {
	case RotationBackendSQLite, RotationBackendFile:
	default:
		return fmt.Errorf("rotation.backend: unsupported value %q (use sqlite or file)", c.Rotation.Backend)
	}
	if c.Rotation.Positions < 1 {
		return errors.New("rotation.positions must be at least 1")
	}
	return nil
}

// finite rejects NaN and infinities, which slip past ordered comparisons.
func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
