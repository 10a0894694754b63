package preflight

import (
	"context"

	"pipettor/internal/config"
	"pipettor/internal/protocol"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every check that applies to running def on an instrument
// of the given capacity. A nil def checks only the environment.
func RunAll(ctx context.Context, cfg *config.Config, def *protocol.Definition, capacity float64) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if def == nil {
		return results
	}

	if def.UsesRotation() && cfg.Rotation.Backend == config.RotationBackendFile {
		results = append(results, CheckRotationRecord(ctx, cfg.Rotation.RecordPath))
	}
	results = append(results, CheckProtocol(cfg, def, capacity))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
