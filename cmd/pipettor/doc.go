// Package main hosts the pipettor CLI entrypoint and command graph.
//
// The Cobra command tree loads protocol files and runs them against the
// simulated deck, prints allocation plans, and exposes the run history,
// the primer rotation record and configuration scaffolding. Configuration
// and logging are resolved once per invocation in commandContext so
// subcommands only deal with presentation.
package main
