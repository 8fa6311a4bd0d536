package session

import "github.com/instrulink/sessionkit/internal/shared/types"

// EventKind labels a store mutation.
type EventKind string

const (
	EventSessionCreated   EventKind = "session_created"
	EventSessionRestored  EventKind = "session_restored"
	EventSessionEnded     EventKind = "session_ended"
	EventSubThreadCreated EventKind = "sub_thread_created"
	EventSubThreadClosed  EventKind = "sub_thread_closed"
	EventItemThreadAdded  EventKind = "item_thread_added"
	EventActiveChanged    EventKind = "active_changed"
	EventWindowsChanged   EventKind = "windows_changed"
	EventStatusChanged    EventKind = "status_changed"
)

// Event describes one store mutation. Session carries a snapshot of the
// tree after the mutation (nil once a session has ended); listeners may
// keep it without worrying about aliasing the live tree.
type Event struct {
	Kind      EventKind
	SessionID string
	ThreadID  string
	Session   *types.Session
}
