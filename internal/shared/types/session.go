package types

import "time"

// WorkflowType identifies a backend workflow family.
type WorkflowType string

const (
	WorkflowInstrumentIdentifier WorkflowType = "instrument_identifier"
	WorkflowSolution             WorkflowType = "solution"
	WorkflowProductSearch        WorkflowType = "product_search"
	WorkflowGroundedChat         WorkflowType = "grounded_chat"
)

// Valid reports whether the workflow type is one the backend knows.
func (w WorkflowType) Valid() bool {
	switch w {
	case WorkflowInstrumentIdentifier, WorkflowSolution, WorkflowProductSearch, WorkflowGroundedChat:
		return true
	}
	return false
}

// ThreadStatus tracks a sub-thread through its lifecycle.
type ThreadStatus string

const (
	StatusCreated   ThreadStatus = "created"
	StatusRunning   ThreadStatus = "running"
	StatusCompleted ThreadStatus = "completed"
	StatusError     ThreadStatus = "error"
	StatusCancelled ThreadStatus = "cancelled"
)

// Terminal reports whether the status is a final one.
func (s ThreadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// ItemType classifies an identified item within workflow results.
type ItemType string

const (
	ItemInstrument ItemType = "instrument"
	ItemAccessory  ItemType = "accessory"
)

// ItemThread scopes one identified item within a workflow's results.
type ItemThread struct {
	ID              string   `json:"item_thread_id"`
	ItemNumber      int      `json:"item_number"`
	ItemName        string   `json:"item_name"`
	ItemType        ItemType `json:"item_type"`
	ParentSubThread string   `json:"parent_sub_thread_id"`
}

// SubThread scopes one workflow execution under the main thread.
type SubThread struct {
	ID               string              `json:"sub_thread_id"`
	WorkflowType     WorkflowType        `json:"workflow_type"`
	ParentWorkflowID *string             `json:"parent_workflow_id,omitempty"`
	Status           ThreadStatus        `json:"status"`
	ItemThreads      map[int]*ItemThread `json:"item_threads"`
	CreatedAt        time.Time           `json:"created_at"`
}

// Session is the root of the thread tree for one authenticated user.
// MainThreadID never changes for the lifetime of the session.
type Session struct {
	ID                string                `json:"session_id"`
	UserID            string                `json:"user_id"`
	MainThreadID      string                `json:"main_thread_id"`
	Zone              string                `json:"zone,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	LastActivity      time.Time             `json:"last_activity"`
	ActiveSubThreadID *string               `json:"active_sub_thread_id,omitempty"`
	WindowCount       int                   `json:"window_count"`
	SubThreads        map[string]*SubThread `json:"sub_threads"`
}

// SessionMetadata contains summary information for listing and debugging.
type SessionMetadata struct {
	UserID            string `json:"user_id"`
	MainThreadID      string `json:"main_thread_id"`
	SubThreadCount    int    `json:"sub_thread_count"`
	ActiveWindowCount int    `json:"active_window_count"`
}

// ToMetadata extracts metadata from a session.
func (s *Session) ToMetadata() SessionMetadata {
	return SessionMetadata{
		UserID:            s.UserID,
		MainThreadID:      s.MainThreadID,
		SubThreadCount:    len(s.SubThreads),
		ActiveWindowCount: s.WindowCount,
	}
}

// Clone returns a deep copy of the session. Persistence snapshots and
// subscriber notifications hand out copies so callers never alias the
// store-owned tree.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.ActiveSubThreadID != nil {
		active := *s.ActiveSubThreadID
		out.ActiveSubThreadID = &active
	}
	out.SubThreads = make(map[string]*SubThread, len(s.SubThreads))
	for id, sub := range s.SubThreads {
		cp := *sub
		if sub.ParentWorkflowID != nil {
			parent := *sub.ParentWorkflowID
			cp.ParentWorkflowID = &parent
		}
		cp.ItemThreads = make(map[int]*ItemThread, len(sub.ItemThreads))
		for n, item := range sub.ItemThreads {
			ic := *item
			cp.ItemThreads[n] = &ic
		}
		out.SubThreads[id] = &cp
	}
	return &out
}

// ThreadContext is the identifier set attached to outbound requests.
// A zero value means no session is current; tagging is skipped, the
// request still goes out.
type ThreadContext struct {
	SessionID        string `json:"session_id"`
	MainThreadID     string `json:"main_thread_id"`
	WorkflowThreadID string `json:"workflow_thread_id,omitempty"`
	Zone             string `json:"zone,omitempty"`
}

// Empty reports whether there is no session context to attach.
func (c ThreadContext) Empty() bool {
	return c.SessionID == "" && c.MainThreadID == ""
}

// SessionStats contains session store statistics.
type SessionStats struct {
	SubThreads   int        `json:"sub_threads"`
	ItemThreads  int        `json:"item_threads"`
	LastSaved    *time.Time `json:"last_saved,omitempty"`
	LastRestored *time.Time `json:"last_restored,omitempty"`
}
