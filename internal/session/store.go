package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/instrulink/sessionkit/internal/infrastructure/monitoring"
	"github.com/instrulink/sessionkit/internal/logging"
	"github.com/instrulink/sessionkit/internal/persistence"
	"github.com/instrulink/sessionkit/internal/shared/id"
	"github.com/instrulink/sessionkit/internal/shared/types"
)

// Namespace and keys owned by the session store. No other feature may use
// this namespace.
const (
	Namespace  = "session"
	primaryKey = "current-session"
	backupKey  = "session-backup"
)

// persistedState is what the store durably saves: the tree plus the
// derivation counter and the saved flag, so a restored session keeps
// deriving unique ids where it left off.
type persistedState struct {
	Session *types.Session `json:"session"`
	Counter uint64         `json:"counter"`
	Saved   bool           `json:"saved"`
}

// Store owns the session/thread tree. It is the single owner of the
// process-wide current session; all mutation goes through its operations.
//
// Mutators return a nil/false sentinel instead of an error when no session
// is current. That is an expected, recoverable condition (a helper ran
// before login or after logout), never a reason to panic.
type Store struct {
	mu       sync.RWMutex
	current  *types.Session
	counter  uint64
	saved    bool
	lastSave *time.Time
	lastRest *time.Time

	persist *persistence.Manager[persistedState]
	log     *logging.Logger
	metrics *monitoring.Metrics

	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int
}

// Options configures a Store.
type Options struct {
	AutoSave         bool
	AutoSaveInterval time.Duration
}

// NewStore creates a session store persisting through the given tiers.
// Either tier may be nil only in tests that never touch persistence.
func NewStore(primary persistence.RecordStore, backup persistence.KVStore, opts Options, log *logging.Logger, metrics *monitoring.Metrics) *Store {
	if log == nil {
		log = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewNop()
	}
	s := &Store{
		log:         log.Named("session"),
		metrics:     metrics,
		subscribers: make(map[int]func(Event)),
	}
	s.persist = persistence.NewManager(primary, backup, persistence.Options[persistedState]{
		Namespace:          Namespace,
		PrimaryKey:         primaryKey,
		BackupKey:          backupKey,
		Source:             s.snapshotState,
		TransformForBackup: reduceForBackup,
		OnLoad:             reviveState,
		AutoSave:           opts.AutoSave,
		AutoSaveInterval:   opts.AutoSaveInterval,
	}, log, metrics)
	return s
}

// Start launches the auto-save timer.
func (s *Store) Start() { s.persist.Start() }

// Close stops the auto-save timer. With a live session it performs the
// final flush; with none it stops without writing, so a tree persisted (or
// cleared) at end-of-session is not clobbered by an empty parting snapshot.
func (s *Store) Close() {
	s.mu.RLock()
	live := s.current != nil
	s.mu.RUnlock()
	if live {
		s.persist.Close()
		return
	}
	s.persist.Stop()
}

// Subscribe registers a listener invoked synchronously on every mutation.
// Returns an unsubscribe func.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	subID := s.nextSubID
	s.nextSubID++
	s.subscribers[subID] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, subID)
	}
}

func (s *Store) notify(evt Event) {
	s.subMu.Lock()
	listeners := make([]func(Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		listeners = append(listeners, fn)
	}
	s.subMu.Unlock()
	for _, fn := range listeners {
		fn(evt)
	}
}

// CreateSession generates a session and installs it as current. A session
// already current is replaced: the new login wins and subscribers see the
// old tree end first. GetOrCreateSession is the non-destructive entry.
func (s *Store) CreateSession(userID, zone string) *types.Session {
	s.mu.Lock()
	replaced := s.current
	now := time.Now().UTC()
	sess := &types.Session{
		ID:           id.NewSessionID().String(),
		UserID:       userID,
		MainThreadID: id.NewMainThreadID().String(),
		Zone:         zone,
		CreatedAt:    now,
		LastActivity: now,
		WindowCount:  1,
		SubThreads:   make(map[string]*types.SubThread),
	}
	s.current = sess
	s.counter = 0
	s.saved = false
	s.metrics.SessionsActive.Set(1)
	s.metrics.SubThreads.Set(0)
	snapshot := sess.Clone()
	s.mu.Unlock()

	if replaced != nil {
		s.log.Warn("replacing current session",
			zap.String("old_session_id", replaced.ID),
			zap.String("new_session_id", sess.ID))
		s.notify(Event{Kind: EventSessionEnded, SessionID: replaced.ID})
	}
	s.persist.SaveState()
	s.notify(Event{Kind: EventSessionCreated, SessionID: sess.ID, Session: snapshot})
	return snapshot
}

// GetOrCreateSession returns the current session when it belongs to userID,
// otherwise creates a fresh one. Used at auth-restore time.
func (s *Store) GetOrCreateSession(userID string) *types.Session {
	s.mu.RLock()
	if s.current != nil && s.current.UserID == userID {
		snapshot := s.current.Clone()
		s.mu.RUnlock()
		return snapshot
	}
	s.mu.RUnlock()
	return s.CreateSession(userID, "")
}

// GetCurrentSession returns a snapshot of the current session, or nil.
func (s *Store) GetCurrentSession() *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// RestoreSession reconstructs the session from durable storage. Returns nil
// when nothing usable is persisted or the persisted tree belongs to a
// different session id.
func (s *Store) RestoreSession(sessionID string) *types.Session {
	state, ok := s.persist.LoadState()
	if !ok || state.Session == nil || state.Session.ID != sessionID {
		return nil
	}

	s.mu.Lock()
	s.current = state.Session
	s.counter = state.Counter
	s.saved = state.Saved
	now := time.Now().UTC()
	s.lastRest = &now
	s.metrics.SessionsActive.Set(1)
	s.metrics.SubThreads.Set(float64(len(state.Session.SubThreads)))
	snapshot := s.current.Clone()
	s.mu.Unlock()

	s.notify(Event{Kind: EventSessionRestored, SessionID: snapshot.ID, Session: snapshot})
	return snapshot
}

// PeekPersisted returns the persisted session tree without installing it,
// or nil when nothing usable is persisted. Restore flows read the candidate
// session id from here before deciding to RestoreSession.
func (s *Store) PeekPersisted() *types.Session {
	state, ok := s.persist.LoadState()
	if !ok || state.Session == nil {
		return nil
	}
	return state.Session
}

// ClearPersisted wipes both storage tiers without touching the in-memory
// session.
func (s *Store) ClearPersisted() { s.persist.ClearState() }

// EndSession tears the session down. A session marked saved is flushed to
// durable storage first; otherwise all persisted state is cleared. The
// heartbeat owner subscribes to the resulting event and stops itself.
func (s *Store) EndSession() bool {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return false
	}
	sessionID := s.current.ID
	saved := s.saved
	s.mu.Unlock()

	if saved {
		s.persist.SaveState()
		now := time.Now().UTC()
		s.mu.Lock()
		s.lastSave = &now
		s.mu.Unlock()
	} else {
		s.persist.ClearState()
	}

	s.mu.Lock()
	s.current = nil
	s.counter = 0
	s.saved = false
	s.metrics.SessionsActive.Set(0)
	s.metrics.SubThreads.Set(0)
	s.mu.Unlock()

	s.notify(Event{Kind: EventSessionEnded, SessionID: sessionID})
	return true
}

// MarkSaved flags the session for persistence at end-of-session.
func (s *Store) MarkSaved() {
	s.mu.Lock()
	s.saved = true
	s.mu.Unlock()
}

// CreateSubThread derives a sub-thread for one workflow execution. Nil when
// no session is current or the workflow type is unknown.
func (s *Store) CreateSubThread(workflowType types.WorkflowType) *types.SubThread {
	if !workflowType.Valid() {
		s.log.Warn("rejected unknown workflow type", zap.String("workflow_type", string(workflowType)))
		return nil
	}
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		s.log.Debug("createSubThread without active session")
		return nil
	}
	s.counter++
	subID := id.DeriveSubThread(id.MainThreadID(s.current.MainThreadID), string(workflowType), s.counter)
	sub := s.installSubThreadLocked(subID.String(), workflowType, nil)
	sessionID := s.current.ID
	snapshot := s.current.Clone()
	s.mu.Unlock()

	s.notify(Event{Kind: EventSubThreadCreated, SessionID: sessionID, ThreadID: sub.ID, Session: snapshot})
	return snapshot.SubThreads[sub.ID]
}

// CreateProductSearchSubThread derives a product_search sub-thread scoped by
// the parent workflow's sub-thread and the item number, so repeated searches
// for the same item each get a fresh thread nested under the right parent.
// Nil when no session is current or the parent is unknown.
func (s *Store) CreateProductSearchSubThread(parentWorkflowID string, itemNumber int) *types.SubThread {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		s.log.Debug("createProductSearchSubThread without active session")
		return nil
	}
	if _, ok := s.current.SubThreads[parentWorkflowID]; !ok {
		s.mu.Unlock()
		s.log.Warn("unknown parent workflow thread", zap.String("parent_workflow_id", parentWorkflowID))
		return nil
	}
	s.counter++
	subID := id.DeriveScopedSubThread(id.SubThreadID(parentWorkflowID), itemNumber, s.counter)
	parent := parentWorkflowID
	sub := s.installSubThreadLocked(subID.String(), types.WorkflowProductSearch, &parent)
	sessionID := s.current.ID
	snapshot := s.current.Clone()
	s.mu.Unlock()

	s.notify(Event{Kind: EventSubThreadCreated, SessionID: sessionID, ThreadID: sub.ID, Session: snapshot})
	return snapshot.SubThreads[sub.ID]
}

func (s *Store) installSubThreadLocked(subID string, workflowType types.WorkflowType, parent *string) *types.SubThread {
	sub := &types.SubThread{
		ID:               subID,
		WorkflowType:     workflowType,
		ParentWorkflowID: parent,
		Status:           types.StatusCreated,
		ItemThreads:      make(map[int]*types.ItemThread),
		CreatedAt:        time.Now().UTC(),
	}
	s.current.SubThreads[subID] = sub
	s.current.LastActivity = sub.CreatedAt
	s.metrics.SubThreads.Set(float64(len(s.current.SubThreads)))
	return sub
}

// AddItemThreadToSubThread registers an identified item under a sub-thread.
// The id derivation is idempotent: repeat calls with the same arguments
// return the same id and overwrite metadata only. Empty string when no
// session is current or the sub-thread is unknown.
func (s *Store) AddItemThreadToSubThread(subThreadID string, itemNumber int, itemName string, itemType types.ItemType) string {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		s.log.Debug("addItemThread without active session")
		return ""
	}
	sub, ok := s.current.SubThreads[subThreadID]
	if !ok {
		s.mu.Unlock()
		s.log.Warn("addItemThread to unknown sub-thread", zap.String("sub_thread_id", subThreadID))
		return ""
	}
	itemID := id.DeriveItemThread(id.SubThreadID(subThreadID), itemNumber).String()
	sub.ItemThreads[itemNumber] = &types.ItemThread{
		ID:              itemID,
		ItemNumber:      itemNumber,
		ItemName:        itemName,
		ItemType:        itemType,
		ParentSubThread: subThreadID,
	}
	s.current.LastActivity = time.Now().UTC()
	sessionID := s.current.ID
	snapshot := s.current.Clone()
	s.mu.Unlock()

	s.notify(Event{Kind: EventItemThreadAdded, SessionID: sessionID, ThreadID: itemID, Session: snapshot})
	return itemID
}

// SetActiveSubThread marks the sub-thread all subsequent outbound calls are
// tagged with. False when the id is unknown.
func (s *Store) SetActiveSubThread(subThreadID string) bool {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.current.SubThreads[subThreadID]; !ok {
		s.mu.Unlock()
		s.log.Warn("setActiveSubThread on unknown sub-thread", zap.String("sub_thread_id", subThreadID))
		return false
	}
	active := subThreadID
	s.current.ActiveSubThreadID = &active
	s.current.LastActivity = time.Now().UTC()
	sessionID := s.current.ID
	snapshot := s.current.Clone()
	s.mu.Unlock()

	s.notify(Event{Kind: EventActiveChanged, SessionID: sessionID, ThreadID: subThreadID, Session: snapshot})
	return true
}

// SetSubThreadStatus transitions a sub-thread's lifecycle status. False when
// the id is unknown or the thread is already terminal.
func (s *Store) SetSubThreadStatus(subThreadID string, status types.ThreadStatus) bool {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return false
	}
	sub, ok := s.current.SubThreads[subThreadID]
	if !ok || sub.Status.Terminal() {
		s.mu.Unlock()
		return false
	}
	sub.Status = status
	s.current.LastActivity = time.Now().UTC()
	sessionID := s.current.ID
	snapshot := s.current.Clone()
	s.mu.Unlock()

	kind := EventStatusChanged
	if status.Terminal() {
		kind = EventSubThreadClosed
	}
	s.notify(Event{Kind: kind, SessionID: sessionID, ThreadID: subThreadID, Session: snapshot})
	return true
}

// CloseSubThread marks a sub-thread completed. The entry is retained, not
// deleted, until session end: closed threads stay readable for history.
func (s *Store) CloseSubThread(subThreadID string) bool {
	return s.SetSubThreadStatus(subThreadID, types.StatusCompleted)
}

// GetSubThread returns a snapshot of one sub-thread, or nil.
func (s *Store) GetSubThread(subThreadID string) *types.SubThread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	if _, ok := s.current.SubThreads[subThreadID]; !ok {
		return nil
	}
	return s.current.Clone().SubThreads[subThreadID]
}

// GetItemThreadsInSubThread returns the item threads registered under a
// sub-thread, keyed by item number. Nil when the sub-thread is unknown.
func (s *Store) GetItemThreadsInSubThread(subThreadID string) map[int]*types.ItemThread {
	sub := s.GetSubThread(subThreadID)
	if sub == nil {
		return nil
	}
	return sub.ItemThreads
}

// RegisterWindow counts an additional browser context against the session.
// Returns the new count, 0 when no session is current.
func (s *Store) RegisterWindow() int {
	return s.adjustWindows(1)
}

// ReleaseWindow releases one browser context. The count never goes below
// zero. Returns the new count, 0 when no session is current.
func (s *Store) ReleaseWindow() int {
	return s.adjustWindows(-1)
}

func (s *Store) adjustWindows(delta int) int {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return 0
	}
	s.current.WindowCount += delta
	if s.current.WindowCount < 0 {
		s.current.WindowCount = 0
	}
	count := s.current.WindowCount
	sessionID := s.current.ID
	snapshot := s.current.Clone()
	s.mu.Unlock()

	s.notify(Event{Kind: EventWindowsChanged, SessionID: sessionID, Session: snapshot})
	return count
}

// ThreadContext reads the identifier set for outbound tagging. Zero value
// when no session is current.
func (s *Store) ThreadContext() types.ThreadContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return types.ThreadContext{}
	}
	ctx := types.ThreadContext{
		SessionID:    s.current.ID,
		MainThreadID: s.current.MainThreadID,
		Zone:         s.current.Zone,
	}
	if s.current.ActiveSubThreadID != nil {
		ctx.WorkflowThreadID = *s.current.ActiveSubThreadID
	}
	return ctx
}

// Metadata returns the denormalized session summary, zero value when no
// session is current.
func (s *Store) Metadata() types.SessionMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return types.SessionMetadata{}
	}
	return s.current.ToMetadata()
}

// Stats returns session store statistics.
func (s *Store) Stats() types.SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := types.SessionStats{
		LastSaved:    s.lastSave,
		LastRestored: s.lastRest,
	}
	if s.current != nil {
		stats.SubThreads = len(s.current.SubThreads)
		for _, sub := range s.current.SubThreads {
			stats.ItemThreads += len(sub.ItemThreads)
		}
	}
	return stats
}

// SaveNow forces an immediate persistence flush.
func (s *Store) SaveNow() {
	s.persist.SaveState()
	now := time.Now().UTC()
	s.mu.Lock()
	s.lastSave = &now
	s.mu.Unlock()
}

func (s *Store) snapshotState() persistedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return persistedState{
		Session: s.current.Clone(),
		Counter: s.counter,
		Saved:   s.saved,
	}
}

// reduceForBackup strips item-thread detail from the backup copy. The
// backup tier is a degraded fallback; losing item names on a
// backup-only restore is acceptable, losing the tree is not.
func reduceForBackup(state persistedState) interface{} {
	if state.Session == nil {
		return state
	}
	reduced := state.Session.Clone()
	for _, sub := range reduced.SubThreads {
		sub.ItemThreads = make(map[int]*types.ItemThread)
	}
	return persistedState{Session: reduced, Counter: state.Counter, Saved: state.Saved}
}

// reviveState normalizes a freshly decoded tree: UTC timestamps and non-nil
// maps, so restored sessions behave like freshly built ones.
func reviveState(state *persistedState) {
	if state.Session == nil {
		return
	}
	sess := state.Session
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.LastActivity = sess.LastActivity.UTC()
	if sess.SubThreads == nil {
		sess.SubThreads = make(map[string]*types.SubThread)
	}
	for _, sub := range sess.SubThreads {
		sub.CreatedAt = sub.CreatedAt.UTC()
		if sub.ItemThreads == nil {
			sub.ItemThreads = make(map[int]*types.ItemThread)
		}
	}
}
