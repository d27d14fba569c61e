// Package fault implements the error isolation boundary between worker-side
// logic (scripts, callbacks) and the rest of the process.
//
// Errors are classified into a closed taxonomy (see [Kind]). Recoverable
// conditions are absorbed at the boundary nearest their origin, logged, and
// execution continues. Script faults additionally increment a monotonic
// exception counter, exposed for telemetry. Missing dependencies detected at
// construction time are fatal, see [Require].
package fault
