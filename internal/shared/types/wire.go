package types

import "time"

// Wire payloads for the session and instance endpoints. Field names follow
// the backend's snake_case convention; anything arriving camelCase is
// normalized before decoding (see normalize.go).

// StartSessionRequest opens a backend session record.
type StartSessionRequest struct {
	UserID       string            `json:"user_id"`
	MainThreadID string            `json:"main_thread_id"`
	SessionID    string            `json:"session_id"`
	IsSaved      bool              `json:"is_saved,omitempty"`
	Zone         string            `json:"zone,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// StartSessionResponse acknowledges session creation.
type StartSessionResponse struct {
	SessionID    string    `json:"session_id"`
	MainThreadID string    `json:"main_thread_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// HeartbeatRequest proves client liveness for a main thread.
type HeartbeatRequest struct {
	MainThreadID string            `json:"main_thread_id"`
	SessionID    string            `json:"session_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// EndSessionRequest terminates a backend session record.
type EndSessionRequest struct {
	MainThreadID string `json:"main_thread_id"`
	SessionID    string `json:"session_id,omitempty"`
	IsSaved      bool   `json:"is_saved,omitempty"`
}

// Validation reasons reported by the backend.
const (
	ReasonNotFound = "Session not found"
	ReasonExpired  = "Session expired"
)

// ValidationResult is the typed outcome of a session validation call.
// Semantic failures (not found, expired) arrive here with a reason;
// transport failures surface as ordinary errors so callers can retry.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// NotFound reports whether the session id was unknown to the backend.
func (v ValidationResult) NotFound() bool { return !v.Valid && v.Reason == ReasonNotFound }

// Expired reports whether the session was known but stale.
func (v ValidationResult) Expired() bool { return !v.Valid && v.Reason == ReasonExpired }

// TriggerSource tells the dedup endpoint what initiated a launch attempt.
type TriggerSource string

const (
	TriggerUserAction TriggerSource = "user_action"
	TriggerAutoRetry  TriggerSource = "auto_retry"
	TriggerRestore    TriggerSource = "restore"
)

// InstanceQuery identifies a logically unique workflow trigger.
type InstanceQuery struct {
	SessionID        string        `json:"session_id"`
	WorkflowType     WorkflowType  `json:"workflow_type"`
	ParentWorkflowID string        `json:"parent_workflow_id,omitempty"`
	TriggerSource    TriggerSource `json:"trigger_source"`
}

// WorkflowInstance is a backend-owned workflow execution record. This layer
// only observes its status.
type WorkflowInstance struct {
	InstanceID       string        `json:"instance_id"`
	SessionID        string        `json:"session_id"`
	WorkflowType     WorkflowType  `json:"workflow_type"`
	ParentWorkflowID string        `json:"parent_workflow_id,omitempty"`
	Status           ThreadStatus  `json:"status"`
	TriggerSource    TriggerSource `json:"trigger_source,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// DedupResult is the availability-biased answer to a dedup lookup.
// Lookup failures collapse to {Exists: false} so a duplicate instance is
// preferred over a blocked user action.
type DedupResult struct {
	Exists   bool              `json:"exists"`
	Instance *WorkflowInstance `json:"instance"`
}

// InstanceSummary aggregates instances for one session.
type InstanceSummary struct {
	SessionID string               `json:"session_id"`
	Total     int                  `json:"total"`
	ByType    map[WorkflowType]int `json:"by_type"`
	ByStatus  map[ThreadStatus]int `json:"by_status"`
}

// InstanceStats is the backend-wide aggregate view.
type InstanceStats struct {
	TotalInstances  int                  `json:"total_instances"`
	ActiveInstances int                  `json:"active_instances"`
	ByType          map[WorkflowType]int `json:"by_type"`
}

// WorkflowItem is one identified item in a workflow response, registered as
// an item thread under the sub-thread that produced it.
type WorkflowItem struct {
	ItemNumber int      `json:"item_number"`
	ItemName   string   `json:"item_name"`
	ItemType   ItemType `json:"item_type"`
}

// WorkflowRunResponse is the common envelope of workflow launch endpoints.
type WorkflowRunResponse struct {
	InstanceID string         `json:"instance_id"`
	Status     ThreadStatus   `json:"status"`
	Items      []WorkflowItem `json:"items,omitempty"`
}
