// Package allocator distributes a reagent held in a queue of source vessels
// into a sequence of destination wells.
//
// Each destination receives the same volume, split into equal sub-transfers
// small enough to leave headroom for an air gap in the tip. Vessels are
// drained strictly in queue order: before every sub-transfer the allocator
// checks whether the head vessel would drop to its dead volume and, if so,
// rotates to the next one and resets the remaining-volume counter. Rotation
// is lazy, so a vessel is never popped after the final sub-transfer.
//
// Distribute returns the updated State (remaining volume and queue) so a
// later call can keep drawing from the same vessels. Running out of vessels
// is always a hard error, and it is detected while planning, before any
// liquid moves.
package allocator
