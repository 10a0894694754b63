// Package simulator implements the device interfaces in memory.
//
// A Deck owns a shared command log plus per-well liquid bookkeeping, and
// hands out Pipette and Magnet instruments bound to it. Wells seeded with
// Fill are tracked strictly: aspirating more than they hold is a device
// fault, which is how tests and dry runs catch reagent shortfalls before a
// real run. Delays and pauses are recorded instead of waited on.
package simulator
