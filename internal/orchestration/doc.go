// Package orchestration keeps the backend in sync with the client session.
//
// Lifecycle handles start/heartbeat/end/validate for the session record and
// owns the keep-alive timer (none → starting → active → ended). Instances
// handles workflow-instance deduplication and read-only aggregation, biased
// toward availability: a failed dedup lookup reports "no existing instance"
// rather than blocking the user.
package orchestration
