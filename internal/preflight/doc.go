// Package preflight provides readiness checks run before a protocol
// touches any liquid.
//
// These checks run in two contexts:
//   - "pipettor run" calls RunAll and refuses to start when a check fails,
//     so a run never stops halfway because a reagent was under-provisioned.
//   - "pipettor config validate" uses CheckDirectoryAccess on its own to
//     report whether the configured directories are usable.
package preflight
