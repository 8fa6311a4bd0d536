package sessionkit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instrulink/sessionkit/internal/infrastructure/config"
	"github.com/instrulink/sessionkit/internal/shared/types"
)

// fakeBackend answers the session endpoints and records what it saw.
type fakeBackend struct {
	srv *httptest.Server

	startCalls    atomic.Int32
	endCalls      atomic.Int32
	validateCalls atomic.Int32
	failStart     atomic.Bool
	validation    atomic.Int32 // http status answered on validate
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.validation.Store(http.StatusOK)
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/session/start":
			b.startCalls.Add(1)
			if b.failStart.Load() {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			var req types.StartSessionRequest
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(types.StartSessionResponse{
				SessionID:    req.SessionID,
				MainThreadID: req.MainThreadID,
			})
		case "/api/session/end":
			b.endCalls.Add(1)
			w.WriteHeader(http.StatusOK)
		case "/api/session/validate":
			b.validateCalls.Add(1)
			code := int(b.validation.Load())
			if code != http.StatusOK {
				w.WriteHeader(code)
				return
			}
			json.NewEncoder(w).Encode(types.ValidationResult{Valid: true})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func newTestKit(t *testing.T, backend *fakeBackend, fs afero.Fs) *Kit {
	t.Helper()
	cfg := config.Default()
	cfg.API.BaseURL = backend.srv.URL
	cfg.API.Timeout = 2 * time.Second
	cfg.API.RetryMax = 0 // failure tests count backend calls
	cfg.Session.HeartbeatInterval = time.Hour
	cfg.Persistence.AutoSave = false
	cfg.Session.Zone = "emea"

	kit, err := NewWithFs(cfg, nil, nil, fs)
	require.NoError(t, err)
	t.Cleanup(kit.Close)
	return kit
}

func TestLoginStartsSessionAndHeartbeat(t *testing.T) {
	backend := newFakeBackend(t)
	kit := newTestKit(t, backend, afero.NewMemMapFs())

	sess, err := kit.Login(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, "emea", sess.Zone)

	assert.True(t, kit.Lifecycle.IsSessionActive())
	assert.True(t, kit.Lifecycle.HeartbeatRunning())
	assert.Equal(t, sess.MainThreadID, kit.Lifecycle.CurrentMainThreadID())
	assert.Equal(t, int32(1), backend.startCalls.Load())
}

func TestLoginRollsBackOnBackendFailure(t *testing.T) {
	backend := newFakeBackend(t)
	backend.failStart.Store(true)
	kit := newTestKit(t, backend, afero.NewMemMapFs())

	_, err := kit.Login(context.Background(), "user-1")
	require.Error(t, err)

	// Nothing stays half-started.
	assert.Nil(t, kit.Store.GetCurrentSession())
	assert.False(t, kit.Lifecycle.IsSessionActive())
	assert.False(t, kit.Lifecycle.HeartbeatRunning())
	assert.Nil(t, kit.Store.PeekPersisted())
}

func TestLogoutTearsDownBothSides(t *testing.T) {
	backend := newFakeBackend(t)
	kit := newTestKit(t, backend, afero.NewMemMapFs())

	_, err := kit.Login(context.Background(), "user-1")
	require.NoError(t, err)

	require.NoError(t, kit.Logout(context.Background()))
	assert.Nil(t, kit.Store.GetCurrentSession())
	assert.False(t, kit.Lifecycle.HeartbeatRunning())
	assert.Equal(t, int32(1), backend.endCalls.Load())
}

func TestReplacementLoginStopsOldHeartbeat(t *testing.T) {
	backend := newFakeBackend(t)
	kit := newTestKit(t, backend, afero.NewMemMapFs())

	first, err := kit.Login(context.Background(), "user-1")
	require.NoError(t, err)

	second, err := kit.Login(context.Background(), "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// The replacement owns the only heartbeat.
	assert.True(t, kit.Lifecycle.HeartbeatRunning())
	assert.Equal(t, second.MainThreadID, kit.Lifecycle.CurrentMainThreadID())
}

func TestResumeReconnectsPersistedSession(t *testing.T) {
	backend := newFakeBackend(t)
	fs := afero.NewMemMapFs()

	kit := newTestKit(t, backend, fs)
	sess, err := kit.Login(context.Background(), "user-1")
	require.NoError(t, err)
	sub := kit.Store.CreateSubThread(types.WorkflowSolution)
	require.NotNil(t, sub)
	kit.Store.MarkSaved()
	kit.Store.SaveNow()
	kit.Lifecycle.StopHeartbeat()

	// Fresh process over the same durable storage.
	restarted := newTestKit(t, backend, fs)
	restored, result, err := restarted.Resume(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.True(t, result.Valid)
	assert.Equal(t, sess.MainThreadID, restored.MainThreadID)
	assert.Contains(t, restored.SubThreads, sub.ID)
	assert.True(t, restarted.Lifecycle.HeartbeatRunning())
}

func TestResumeRejectedSessionClearsLocalState(t *testing.T) {
	backend := newFakeBackend(t)
	fs := afero.NewMemMapFs()

	kit := newTestKit(t, backend, fs)
	sess, err := kit.Login(context.Background(), "user-1")
	require.NoError(t, err)
	kit.Store.MarkSaved()
	kit.Store.SaveNow()

	backend.validation.Store(http.StatusGone)
	restarted := newTestKit(t, backend, fs)
	restored, result, err := restarted.Resume(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Nil(t, restored)
	assert.True(t, result.Expired())
	assert.Nil(t, restarted.Store.GetCurrentSession())
	assert.Nil(t, restarted.Store.PeekPersisted())
	assert.False(t, restarted.Lifecycle.HeartbeatRunning())
}

func TestResumeExpiresStaleTreeLocally(t *testing.T) {
	backend := newFakeBackend(t)
	fs := afero.NewMemMapFs()

	kit := newTestKit(t, backend, fs)
	sess, err := kit.Login(context.Background(), "user-1")
	require.NoError(t, err)
	kit.Store.MarkSaved()
	kit.Store.SaveNow()

	restarted := newTestKit(t, backend, fs)
	restarted.Config.Session.ExpiryThreshold = time.Nanosecond

	restored, result, err := restarted.Resume(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Nil(t, restored)
	assert.True(t, result.Expired())
	// Decided locally: the backend was never asked.
	assert.Equal(t, int32(0), backend.validateCalls.Load())
	assert.Nil(t, restarted.Store.PeekPersisted())
}

func TestResumeWithNothingPersisted(t *testing.T) {
	backend := newFakeBackend(t)
	kit := newTestKit(t, backend, afero.NewMemMapFs())

	restored, result, err := kit.Resume(context.Background(), "sess_unknown")
	require.NoError(t, err)
	assert.Nil(t, restored)
	assert.True(t, result.NotFound())
}

func TestResumeTransportFailureDecidesNothing(t *testing.T) {
	backend := newFakeBackend(t)
	fs := afero.NewMemMapFs()

	kit := newTestKit(t, backend, fs)
	sess, err := kit.Login(context.Background(), "user-1")
	require.NoError(t, err)
	kit.Store.MarkSaved()
	kit.Store.SaveNow()

	backend.validation.Store(http.StatusInternalServerError)
	restarted := newTestKit(t, backend, fs)
	_, _, err = restarted.Resume(context.Background(), sess.ID)
	require.Error(t, err)

	// The persisted tree survives for a retry.
	assert.NotNil(t, restarted.Store.PeekPersisted())
}
