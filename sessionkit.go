// Package sessionkit is a client-resident session and workflow-thread
// orchestration layer. It keeps a tree of identifiers (session → workflow
// sub-thread → item thread) consistent with the backend's checkpoint store,
// survives restarts through dual-tier durable persistence, keeps the
// backend informed of liveness via heartbeats, and deduplicates workflow
// launches best-effort.
package sessionkit

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/instrulink/sessionkit/internal/apiclient"
	"github.com/instrulink/sessionkit/internal/httpclient"
	"github.com/instrulink/sessionkit/internal/infrastructure/config"
	"github.com/instrulink/sessionkit/internal/infrastructure/monitoring"
	"github.com/instrulink/sessionkit/internal/logging"
	"github.com/instrulink/sessionkit/internal/orchestration"
	"github.com/instrulink/sessionkit/internal/persistence"
	"github.com/instrulink/sessionkit/internal/session"
	"github.com/instrulink/sessionkit/internal/shared/paths"
	"github.com/instrulink/sessionkit/internal/shared/types"
)

// Kit wires the session layer together: one store, one lifecycle service,
// one instance service, one thread-aware API client. Construct one per
// process; tests construct isolated instances.
type Kit struct {
	Config    *config.Config
	Log       *logging.Logger
	Metrics   *monitoring.Metrics
	Store     *session.Store
	Lifecycle *orchestration.Lifecycle
	Instances *orchestration.Instances
	API       *apiclient.Client

	unsubscribe func()
}

// New builds a Kit from configuration. Pass a prometheus.Registerer to
// export metrics, or nil to keep them unregistered.
func New(cfg *config.Config, log *logging.Logger, reg prometheus.Registerer) (*Kit, error) {
	return newKit(cfg, log, reg, afero.NewOsFs())
}

// NewWithFs is New with an explicit filesystem for durable storage.
// Tests pass afero.NewMemMapFs().
func NewWithFs(cfg *config.Config, log *logging.Logger, reg prometheus.Registerer, fs afero.Fs) (*Kit, error) {
	return newKit(cfg, log, reg, fs)
}

func newKit(cfg *config.Config, log *logging.Logger, reg prometheus.Registerer, fs afero.Fs) (*Kit, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NewDefault()
	}
	metrics := monitoring.New(reg)

	stateDir := paths.ResolveStateDir(cfg.Persistence.StateDir)
	primary, err := persistence.NewFileRecordStore(fs, stateDir, session.Namespace)
	if err != nil {
		return nil, err
	}
	backup, err := persistence.NewFileKVStore(fs, stateDir, session.Namespace)
	if err != nil {
		return nil, err
	}

	store := session.NewStore(primary, backup, session.Options{
		AutoSave:         cfg.Persistence.AutoSave,
		AutoSaveInterval: cfg.Persistence.AutoSaveInterval,
	}, log, metrics)

	client := httpclient.New(cfg.API)
	lifecycle := orchestration.NewLifecycle(client, cfg.Session.HeartbeatInterval, log, metrics)
	lifecycle.SetMetadataSource(func() map[string]string {
		md := store.Metadata()
		return map[string]string{
			"active_window_count": strconv.Itoa(md.ActiveWindowCount),
			"sub_thread_count":    strconv.Itoa(md.SubThreadCount),
		}
	})
	instances := orchestration.NewInstances(client, log, metrics)
	api := apiclient.New(client, store, instances, log)

	// The tree ending (logout, replacement login) must always take the
	// heartbeat down with it.
	unsubscribe := store.Subscribe(func(evt session.Event) {
		if evt.Kind == session.EventSessionEnded {
			lifecycle.StopHeartbeat()
		}
	})

	store.Start()
	return &Kit{
		Config:      cfg,
		Log:         log,
		Metrics:     metrics,
		Store:       store,
		Lifecycle:   lifecycle,
		Instances:   instances,
		API:         api,
		unsubscribe: unsubscribe,
	}, nil
}

// Login creates the local session tree and registers it with the backend.
// On backend failure the local tree is torn down again and the error
// returned — nothing stays half-started.
func (k *Kit) Login(ctx context.Context, userID string) (*types.Session, error) {
	sess := k.Store.CreateSession(userID, k.Config.Session.Zone)
	_, err := k.Lifecycle.StartSession(ctx, types.StartSessionRequest{
		UserID:       userID,
		MainThreadID: sess.MainThreadID,
		SessionID:    sess.ID,
		Zone:         sess.Zone,
	})
	if err != nil {
		k.Store.EndSession()
		return nil, err
	}
	return sess, nil
}

// Resume restores a persisted session and validates it with the backend.
// Outcomes: (session, valid) — reconnected, heartbeat running; (nil,
// invalid result) — backend rejected it, local state cleared, caller starts
// fresh; error — transport failure, nothing decided, caller may retry.
func (k *Kit) Resume(ctx context.Context, sessionID string) (*types.Session, types.ValidationResult, error) {
	sess := k.Store.RestoreSession(sessionID)
	if sess == nil {
		return nil, types.ValidationResult{Valid: false, Reason: types.ReasonNotFound}, nil
	}
	// A tree idle past the expiry threshold is expired locally; the backend
	// would only confirm it.
	if exp := k.Config.Session.ExpiryThreshold; exp > 0 && time.Since(sess.LastActivity) > exp {
		k.Store.EndSession()
		k.Store.ClearPersisted()
		return nil, types.ValidationResult{Valid: false, Reason: types.ReasonExpired}, nil
	}
	result, err := k.Lifecycle.ValidateSession(ctx, sess.MainThreadID)
	if err != nil {
		return nil, types.ValidationResult{}, err
	}
	if !result.Valid {
		// A rejected session can never validate again; drop it even if it
		// was marked saved.
		k.Store.EndSession()
		k.Store.ClearPersisted()
		return nil, result, nil
	}
	k.Lifecycle.Adopt(sess.ID, sess.MainThreadID)
	return sess, result, nil
}

// Logout ends the backend session (heartbeat stopped first) and tears down
// the local tree. The local teardown happens even when the backend call
// fails; the error is still reported.
func (k *Kit) Logout(ctx context.Context) error {
	err := k.Lifecycle.EndSession(ctx)
	k.Store.EndSession()
	return err
}

// Close releases timers and subscriptions and performs the final
// persistence flush.
func (k *Kit) Close() {
	if k.unsubscribe != nil {
		k.unsubscribe()
		k.unsubscribe = nil
	}
	k.Lifecycle.StopHeartbeat()
	k.Store.Close()
}
