package orchestration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/instrulink/sessionkit/internal/httpclient"
	"github.com/instrulink/sessionkit/internal/infrastructure/monitoring"
	"github.com/instrulink/sessionkit/internal/logging"
	"github.com/instrulink/sessionkit/internal/shared/types"
)

// Session endpoint paths.
const (
	pathSessionStart     = "/api/session/start"
	pathSessionHeartbeat = "/api/session/heartbeat"
	pathSessionEnd       = "/api/session/end"
	pathSessionValidate  = "/api/session/validate"
)

// DefaultHeartbeatInterval is the keep-alive period when none is configured.
const DefaultHeartbeatInterval = 5 * time.Minute

// ErrNoThread reports a lifecycle call without a main thread id. This is a
// local precondition failure; nothing goes over the network.
var ErrNoThread = errors.New("orchestration: no main thread id")

// State is the lifecycle service's position in none → starting → active →
// ended.
type State int

const (
	StateNone State = iota
	StateStarting
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Lifecycle syncs the session's lifecycle with the backend: start,
// heartbeat, end, validate. It tracks the main thread id it is keeping
// alive; the session tree itself lives elsewhere.
type Lifecycle struct {
	http     *httpclient.Client
	interval time.Duration
	log      *logging.Logger
	metrics  *monitoring.Metrics

	mu           sync.Mutex
	state        State
	mainThreadID string
	sessionID    string
	hbStop       chan struct{}

	// metadataSource, when set, enriches heartbeats (window counts etc).
	metadataSource func() map[string]string
}

// NewLifecycle creates a session lifecycle service.
func NewLifecycle(client *httpclient.Client, interval time.Duration, log *logging.Logger, metrics *monitoring.Metrics) *Lifecycle {
	if log == nil {
		log = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewNop()
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Lifecycle{
		http:     client,
		interval: interval,
		log:      log.Named("lifecycle"),
		metrics:  metrics,
	}
}

// SetMetadataSource registers a provider of heartbeat metadata.
func (l *Lifecycle) SetMetadataSource(fn func() map[string]string) {
	l.mu.Lock()
	l.metadataSource = fn
	l.mu.Unlock()
}

// StartSession registers the session with the backend, adopts the returned
// thread id, and starts the heartbeat. On failure nothing is mutated and
// the state stays none.
func (l *Lifecycle) StartSession(ctx context.Context, req types.StartSessionRequest) (*types.StartSessionResponse, error) {
	l.mu.Lock()
	prev := l.state
	l.state = StateStarting
	l.mu.Unlock()

	resp, err := l.postSessionStart(ctx, req)
	if err != nil {
		l.mu.Lock()
		l.state = prev
		l.mu.Unlock()
		return nil, err
	}

	mainThreadID := resp.MainThreadID
	if mainThreadID == "" {
		mainThreadID = req.MainThreadID
	}

	l.mu.Lock()
	l.state = StateActive
	l.mainThreadID = mainThreadID
	l.sessionID = resp.SessionID
	l.mu.Unlock()

	l.StartHeartbeat()
	l.log.Info("session started",
		zap.String("session_id", resp.SessionID),
		zap.String("main_thread_id", mainThreadID))
	return resp, nil
}

func (l *Lifecycle) postSessionStart(ctx context.Context, req types.StartSessionRequest) (*types.StartSessionResponse, error) {
	r, err := l.http.Request(ctx)
	if err != nil {
		return nil, err
	}
	var out types.StartSessionResponse
	resp, err := r.SetBody(req).SetResult(&out).Post(pathSessionStart)
	if err != nil {
		return nil, fmt.Errorf("session start: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("session start: backend returned %s", resp.Status())
	}
	return &out, nil
}

// Heartbeat delivers one keep-alive for the supplied thread id, or the
// currently tracked one when empty. A missing id fails locally with
// ErrNoThread and is never sent.
func (l *Lifecycle) Heartbeat(ctx context.Context, threadID string) error {
	l.mu.Lock()
	if threadID == "" {
		threadID = l.mainThreadID
	}
	sessionID := l.sessionID
	metaFn := l.metadataSource
	l.mu.Unlock()

	if threadID == "" {
		return ErrNoThread
	}

	req := types.HeartbeatRequest{MainThreadID: threadID, SessionID: sessionID}
	if metaFn != nil {
		req.Metadata = metaFn()
	}

	r, err := l.http.Request(ctx)
	if err != nil {
		l.metrics.HeartbeatsFailed.Inc()
		return err
	}
	resp, err := r.SetBody(req).Post(pathSessionHeartbeat)
	if err != nil || resp.IsError() {
		l.metrics.HeartbeatsFailed.Inc()
		if err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		return fmt.Errorf("heartbeat: backend returned %s", resp.Status())
	}
	l.metrics.HeartbeatsSent.Inc()
	return nil
}

// ValidateSession asks the backend whether a prior session's thread id is
// still live. Semantic outcomes (valid / not found / expired) come back as
// a typed result; transport failures come back as an error so callers can
// retry instead of discarding a restorable session.
func (l *Lifecycle) ValidateSession(ctx context.Context, threadID string) (types.ValidationResult, error) {
	if threadID == "" {
		return types.ValidationResult{}, ErrNoThread
	}

	r, err := l.http.Request(ctx)
	if err != nil {
		return types.ValidationResult{}, err
	}
	var out types.ValidationResult
	resp, err := r.
		SetBody(map[string]string{"main_thread_id": threadID}).
		SetResult(&out).
		Post(pathSessionValidate)
	if err != nil {
		return types.ValidationResult{}, fmt.Errorf("validate session: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return types.ValidationResult{Valid: false, Reason: types.ReasonNotFound}, nil
	case resp.StatusCode() == http.StatusGone:
		return types.ValidationResult{Valid: false, Reason: types.ReasonExpired}, nil
	case resp.IsError():
		return types.ValidationResult{}, fmt.Errorf("validate session: backend returned %s", resp.Status())
	}
	return out, nil
}

// EndSession stops the heartbeat first — a racing heartbeat must not
// resurrect server-side liveness after local teardown — then posts
// termination. The locally tracked thread id is cleared only on backend
// acknowledgement.
func (l *Lifecycle) EndSession(ctx context.Context) error {
	l.StopHeartbeat()

	l.mu.Lock()
	threadID := l.mainThreadID
	sessionID := l.sessionID
	l.mu.Unlock()

	if threadID == "" {
		return ErrNoThread
	}

	r, err := l.http.Request(ctx)
	if err != nil {
		return err
	}
	resp, err := r.
		SetBody(types.EndSessionRequest{MainThreadID: threadID, SessionID: sessionID}).
		Post(pathSessionEnd)
	if err != nil {
		return fmt.Errorf("session end: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("session end: backend returned %s", resp.Status())
	}

	l.mu.Lock()
	l.mainThreadID = ""
	l.sessionID = ""
	l.state = StateEnded
	l.mu.Unlock()
	l.log.Info("session ended", zap.String("main_thread_id", threadID))
	return nil
}

// Adopt takes over liveness for an already-validated session — the restore
// path, where no start call is needed — and begins heartbeating.
func (l *Lifecycle) Adopt(sessionID, mainThreadID string) {
	l.mu.Lock()
	l.state = StateActive
	l.sessionID = sessionID
	l.mainThreadID = mainThreadID
	l.mu.Unlock()
	l.StartHeartbeat()
}

// StartHeartbeat launches the keep-alive timer. Idempotent: a second call
// while running is a logged no-op, so exactly one timer ever exists.
func (l *Lifecycle) StartHeartbeat() {
	l.mu.Lock()
	if l.hbStop != nil {
		l.mu.Unlock()
		l.log.Debug("heartbeat already running")
		return
	}
	stop := make(chan struct{})
	l.hbStop = stop
	interval := l.interval
	l.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// A failed heartbeat is invisible; the next tick retries.
				if err := l.Heartbeat(context.Background(), ""); err != nil {
					l.log.Warn("heartbeat failed", zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()
	l.log.Debug("heartbeat started", zap.Duration("interval", interval))
}

// StopHeartbeat cancels the keep-alive timer. Safe when not running.
func (l *Lifecycle) StopHeartbeat() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hbStop == nil {
		return
	}
	close(l.hbStop)
	l.hbStop = nil
}

// HeartbeatRunning reports whether the keep-alive timer is active.
func (l *Lifecycle) HeartbeatRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hbStop != nil
}

// IsSessionActive reports whether a backend session is being kept alive.
func (l *Lifecycle) IsSessionActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateActive && l.mainThreadID != ""
}

// CurrentMainThreadID returns the tracked main thread id, empty when none.
func (l *Lifecycle) CurrentMainThreadID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mainThreadID
}

// CurrentState returns the lifecycle state.
func (l *Lifecycle) CurrentState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
