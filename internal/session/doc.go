// Package session owns the session/thread tree: one current session per
// process, workflow sub-threads beneath its immutable main thread, and item
// threads beneath those.
//
// Identifier derivation is deterministic (see internal/shared/id), so two
// interleaved asynchronous call chains that derive the same logical id
// converge on the same result instead of conflicting. Correctness never
// relies on callers holding locks.
//
// The store publishes every mutation synchronously to subscribers, which is
// how view bindings and the heartbeat owner observe lifecycle changes —
// there is no polling.
//
// Durability goes through a dual-tier persistence manager: periodic
// auto-save plus a final flush on Close, with end-of-session either
// persisting (session marked saved) or clearing both tiers.
package session
