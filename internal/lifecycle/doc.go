// Package lifecycle coordinates blue/green switching of supervised model
// worker processes. It is structured into small files by concern:
//
//   - types.go: slot ids, health, lifecycle states, WorkerHandle, SlotPair.
//   - config.go: Config and package defaults.
//   - errors.go: error types and Is* helpers for HTTP status mapping.
//   - queue.go: per-model FIFO hold queue for requests with no active slot.
//   - controller.go: the per-model state machine (promote, drain, fail).
//   - registry.go: process-wide name -> (pair, controller) mapping.
//   - router.go: request forwarding and queue release handling.
//   - manager.go: the facade the HTTP layer talks to.
//   - events.go: lifecycle event publishing.
//
// External packages should treat this package as the orchestration layer
// and use the Manager's public methods only. Internal types are subject to
// change.
package lifecycle
