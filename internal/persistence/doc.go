// Package persistence provides a generic dual-tier durable store for a
// single logical screen state.
//
// The primary tier is a keyed record store holding the full state object
// under an explicit id field. The backup tier is a flat key-value store
// holding a JSON-serialized, optionally reduced, copy stamped with the same
// save timestamp. Replication between tiers is best-effort: either write may
// fail independently and the failure is absorbed.
//
// Recovery always prefers the primary tier; the backup serves only when the
// primary is empty or unreadable. An OnLoad hook revives decoded state
// (serialized timestamps and the like) before it reaches the caller.
//
// Lifecycle:
//
//	mgr := persistence.NewManager(primary, backup, opts, log, metrics)
//	mgr.Start()        // recurring auto-save, default 30s
//	defer mgr.Close()  // stop timer + final best-effort flush
package persistence
