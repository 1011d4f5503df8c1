// Package dispatch runs one job file end to end: claim, metadata update,
// prompt assembly, worker invocation, and placement in Done or Failed.
//
// Lifecycle of a single attempt:
//
//	Jobs/x.md --claim--> Processing/x.md --worker--> Done/x.md | Failed/x.md
//
// The claim is an atomic rename. Losing the race (the file is gone) or
// finding a same-named file already in Processing is a skip, not an error.
//
// Before the worker runs, the claimed file is rewritten with the incremented
// iteration, status "processing", a fresh last_run timestamp and a working
// marker callout so the file shows progress when opened in an editor. When
// the worker returns, the marker is replaced by a run record quoting either
// the worker output or a diagnostic, and the file is moved out of Processing
// under a name that never overwrites an existing file.
//
// Worker outcomes:
//   - Succeeded   → status done, Done/
//   - ToolMissing → status failed, Failed/
//   - TimedOut    → status failed, Failed/ (SIGTERM → grace → SIGKILL)
//   - NonZeroExit → status failed, Failed/, stderr quoted in the record
//
// Errors returned by Process are filesystem errors only. Worker failures
// are recorded in the job file.
package dispatch
