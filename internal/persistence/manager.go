package persistence

import (
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/instrulink/sessionkit/internal/infrastructure/monitoring"
	"github.com/instrulink/sessionkit/internal/logging"
)

// SavedAtKey is the timestamp field stamped onto every persisted blob.
const SavedAtKey = "_savedAt"

// DefaultAutoSaveInterval is the recurring flush period when auto-save is on.
const DefaultAutoSaveInterval = 30 * time.Second

// Options parameterizes a Manager for one logical screen state.
type Options[T any] struct {
	// Namespace scopes storage keys; no two features share one.
	Namespace string
	// PrimaryKey is the record id in the primary tier.
	PrimaryKey string
	// BackupKey is the entry key in the backup tier.
	BackupKey string
	// Source snapshots the caller's live state at flush time.
	Source func() T
	// TransformForBackup optionally reduces the payload written to the
	// backup tier. Nil means the full state is replicated.
	TransformForBackup func(T) interface{}
	// OnLoad revives a decoded state (e.g. normalizes restored timestamps)
	// before it is returned to the caller.
	OnLoad func(*T)
	// AutoSave enables the recurring flush timer.
	AutoSave         bool
	AutoSaveInterval time.Duration
}

// Manager is a dual-tier durable store for a single logical screen state.
//
// Writes are whole-object overwrites of the current snapshot, so the
// auto-save timer and the teardown flush race harmlessly: whichever runs
// last wins and there is no partial-write state to corrupt. The two tiers
// are best-effort eventually-consistent replicas with no transactional
// guarantee between them; loads always prefer the primary tier and treat
// the backup strictly as degraded fallback.
//
// Storage failures never propagate. Worst case is silent loss of
// durability, never a crashed host.
type Manager[T any] struct {
	opts    Options[T]
	primary RecordStore
	backup  KVStore
	log     *logging.Logger
	metrics *monitoring.Metrics

	stop     chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

// NewManager creates a persistence manager over the given tiers. A nil tier
// is replaced by a discard store, so callers without durability (some tests,
// ephemeral sessions) still get a working manager.
func NewManager[T any](primary RecordStore, backup KVStore, opts Options[T], log *logging.Logger, metrics *monitoring.Metrics) *Manager[T] {
	if primary == nil {
		primary = discardRecordStore{}
	}
	if backup == nil {
		backup = discardKVStore{}
	}
	if log == nil {
		log = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewNop()
	}
	if opts.AutoSaveInterval <= 0 {
		opts.AutoSaveInterval = DefaultAutoSaveInterval
	}
	return &Manager[T]{
		opts:    opts,
		primary: primary,
		backup:  backup,
		log:     &logging.Logger{Logger: log.Named("persistence").With(zap.String("namespace", opts.Namespace))},
		metrics: metrics,
		stop:    make(chan struct{}),
	}
}

// SaveState flushes the current snapshot to both tiers. Each tier fails
// independently; failures are logged and absorbed.
func (m *Manager[T]) SaveState() {
	state := m.opts.Source()
	savedAt := time.Now().UTC().Format(time.RFC3339Nano)

	ok := true
	if blob, err := m.encodePrimary(state, savedAt); err != nil {
		ok = false
		m.log.Warn("failed to encode primary state", zap.Error(err))
	} else if err := m.primary.Put(m.opts.PrimaryKey, blob); err != nil {
		ok = false
		m.log.Warn("primary store write failed", zap.Error(err))
	}

	if blob, err := m.encodeBackup(state, savedAt); err != nil {
		ok = false
		m.log.Warn("failed to encode backup state", zap.Error(err))
	} else if err := m.backup.Set(m.opts.BackupKey, blob); err != nil {
		ok = false
		m.log.Warn("backup store write failed", zap.Error(err))
	}

	if ok {
		m.metrics.StateSaves.Inc()
	} else {
		m.metrics.StateSaveFailures.Inc()
	}
}

// LoadState reads back the persisted state, primary tier first. A present
// primary entry wins even if the backup is newer; the backup serves only
// when the primary is empty or unreadable (e.g. one store was selectively
// cleared). Returns false when neither tier has anything usable.
func (m *Manager[T]) LoadState() (T, bool) {
	var zero T

	if raw, err := m.primary.Get(m.opts.PrimaryKey); err == nil {
		state, decErr := m.decode(raw)
		if decErr == nil {
			m.metrics.StateLoads.Inc()
			return state, true
		}
		m.log.Warn("primary state unreadable, trying backup", zap.Error(decErr))
	} else if !errors.Is(err, ErrNotFound) {
		m.log.Warn("primary store read failed, trying backup", zap.Error(err))
	}

	raw, err := m.backup.Get(m.opts.BackupKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.log.Warn("backup store read failed", zap.Error(err))
		}
		return zero, false
	}
	state, err := m.decode(raw)
	if err != nil {
		m.log.Warn("backup state unreadable", zap.Error(err))
		return zero, false
	}
	m.metrics.StateLoads.Inc()
	m.metrics.BackupFallbacks.Inc()
	return state, true
}

// SavedAt returns the persisted save timestamp from the freshest readable
// tier, or zero time when nothing is persisted. The tiers can diverge when
// one write failed, so both stamps are read and the later one wins.
func (m *Manager[T]) SavedAt() time.Time {
	var newest time.Time
	for _, read := range []func() ([]byte, error){
		func() ([]byte, error) { return m.primary.Get(m.opts.PrimaryKey) },
		func() ([]byte, error) { return m.backup.Get(m.opts.BackupKey) },
	} {
		raw, err := read()
		if err != nil {
			continue
		}
		var envelope map[string]interface{}
		if err := sonic.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		stamp, ok := envelope[SavedAtKey].(string)
		if !ok {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, stamp); err == nil && t.After(newest) {
			newest = t
		}
	}
	return newest
}

// ClearState deletes the entry from both tiers.
func (m *Manager[T]) ClearState() {
	if err := m.primary.Delete(m.opts.PrimaryKey); err != nil {
		m.log.Warn("primary store delete failed", zap.Error(err))
	}
	if err := m.backup.Delete(m.opts.BackupKey); err != nil {
		m.log.Warn("backup store delete failed", zap.Error(err))
	}
}

// Start launches the auto-save timer when enabled. Idempotent.
func (m *Manager[T]) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || !m.opts.AutoSave {
		return
	}
	m.started = true

	go func() {
		ticker := time.NewTicker(m.opts.AutoSaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.SaveState()
			case <-m.stop:
				return
			}
		}
	}()
	m.log.Debug("auto-save started", zap.Duration("interval", m.opts.AutoSaveInterval))
}

// Close stops the auto-save timer and performs one final best-effort flush
// with the latest live value. This is the teardown analog of a page-unload
// handler; its failure simply means nothing is recovered on next load.
func (m *Manager[T]) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.SaveState()
	})
}

// Stop halts the auto-save timer without the final flush. For teardown
// after the state has already been flushed or deliberately cleared — a
// parting snapshot would clobber what is on disk.
func (m *Manager[T]) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

func (m *Manager[T]) encodePrimary(state T, savedAt string) ([]byte, error) {
	envelope, err := toEnvelope(state)
	if err != nil {
		return nil, err
	}
	envelope["id"] = m.opts.PrimaryKey
	envelope[SavedAtKey] = savedAt
	return sonic.Marshal(envelope)
}

func (m *Manager[T]) encodeBackup(state T, savedAt string) ([]byte, error) {
	var payload interface{} = state
	if m.opts.TransformForBackup != nil {
		payload = m.opts.TransformForBackup(state)
	}
	envelope, err := toEnvelope(payload)
	if err != nil {
		return nil, err
	}
	envelope[SavedAtKey] = savedAt
	return sonic.Marshal(envelope)
}

func (m *Manager[T]) decode(raw []byte) (T, error) {
	var zero T
	var envelope map[string]interface{}
	if err := sonic.Unmarshal(raw, &envelope); err != nil {
		return zero, err
	}
	delete(envelope, "id")
	delete(envelope, SavedAtKey)

	data, err := sonic.Marshal(envelope)
	if err != nil {
		return zero, err
	}
	var state T
	if err := sonic.Unmarshal(data, &state); err != nil {
		return zero, err
	}
	if m.opts.OnLoad != nil {
		m.opts.OnLoad(&state)
	}
	return state, nil
}

func toEnvelope(state interface{}) (map[string]interface{}, error) {
	data, err := sonic.Marshal(state)
	if err != nil {
		return nil, err
	}
	var envelope map[string]interface{}
	if err := sonic.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return envelope, nil
}
