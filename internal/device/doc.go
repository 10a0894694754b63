// Package device defines the liquid-handling hardware surface the rest of
// pipettor drives: a pipette, a magnetic module, and the run controller that
// owns delays, operator pauses, and run comments.
//
// Implementations live elsewhere (internal/simulator for dry runs and tests).
// Every method that moves liquid or hardware is a physical, irreversible
// action; callers must propagate errors rather than retry them.
package device
