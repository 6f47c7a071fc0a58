// Package dispatch runs tasks against external worker processes with a fixed
// concurrency ceiling.
//
// Submissions never block: tasks wait in an arrival-ordered pending list and
// are admitted whenever a worker slot is free. Each admitted task gets exactly
// one worker invocation and exactly one Outcome, delivered on its Future.
//
// Outcome mapping:
//   - exit 0, stdout decodes as a JSON array → succeeded (bounded records)
//   - exit 0, empty stdout → succeeded with an empty value
//   - exit 0, stdout does not decode → degraded (raw stdout as the value)
//   - non-zero exit → failed (stderr verbatim)
//   - start/wait failure → failed
//   - timeout → timed_out (only when the executor enforces one)
//
// There is no retry, deduplication or cancellation of running invocations.
// Lifecycle transitions are mirrored to an optional Recorder, events hub and
// metrics collector; failures there are logged and never change an Outcome.
package dispatch
