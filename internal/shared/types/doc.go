// Package types defines the session/thread tree model and the wire payloads
// shared across the session store, orchestration services, and API client.
//
// The tree is three levels deep:
//   - Session: one per authenticated user, rooted at an immutable main thread
//   - SubThread: one per workflow execution under the main thread
//   - ItemThread: one per identified item within a workflow's results
//
// Wire payloads use snake_case throughout; NormalizeKeys converts stray
// camelCase keys at the decode boundary.
package types
