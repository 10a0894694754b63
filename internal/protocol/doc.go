// Package protocol loads declarative liquid-handling protocols and runs
// them step by step against a set of devices.
//
// A protocol file (TOML or YAML, chosen by extension) names the working
// plate and its columns, the reagents and the vessels holding them, and an
// ordered list of steps. Reagent steps draw through the source-vessel
// allocator; the runner carries each reagent's allocator state from one
// step to the next, so a later wash continues from whatever vessel the
// previous one left off at.
package protocol
