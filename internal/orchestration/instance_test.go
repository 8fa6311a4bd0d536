package orchestration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instrulink/sessionkit/internal/shared/types"
)

func newTestInstances(baseURL string) *Instances {
	return NewInstances(newTestClient(baseURL), nil, nil)
}

func TestCheckExistingInstanceHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathInstanceCheck, r.URL.Path)
		var query types.InstanceQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		assert.Equal(t, types.WorkflowSolution, query.WorkflowType)

		w.Header().Set("Content-Type", "application/json")
		// camelCase, as the upstream workflow state emits it.
		w.Write([]byte(`{"exists": true, "instance": {"instanceId": "inst-1", "workflowType": "solution", "status": "running"}}`))
	}))
	defer srv.Close()

	instances := newTestInstances(srv.URL)
	result := instances.CheckExistingInstance(context.Background(), types.InstanceQuery{
		SessionID:     "sess-1",
		WorkflowType:  types.WorkflowSolution,
		TriggerSource: types.TriggerUserAction,
	})

	require.True(t, result.Exists)
	require.NotNil(t, result.Instance)
	assert.Equal(t, "inst-1", result.Instance.InstanceID)
	assert.Equal(t, types.StatusRunning, result.Instance.Status)
}

func TestCheckExistingInstanceDegradesOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	instances := newTestInstances(srv.URL)
	result := instances.CheckExistingInstance(context.Background(), types.InstanceQuery{
		SessionID:    "sess-1",
		WorkflowType: types.WorkflowSolution,
	})

	assert.False(t, result.Exists)
	assert.Nil(t, result.Instance)
}

func TestCheckExistingInstanceDegradesWhenUnreachable(t *testing.T) {
	instances := newTestInstances("http://127.0.0.1:1")
	result := instances.CheckExistingInstance(context.Background(), types.InstanceQuery{
		SessionID:    "sess-1",
		WorkflowType: types.WorkflowSolution,
	})
	assert.False(t, result.Exists)
}

func TestCheckExistingInstanceCachesResult(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"exists": false}`))
	}))
	defer srv.Close()

	instances := newTestInstances(srv.URL)
	query := types.InstanceQuery{SessionID: "sess-1", WorkflowType: types.WorkflowSolution, TriggerSource: types.TriggerUserAction}

	instances.CheckExistingInstance(context.Background(), query)
	instances.CheckExistingInstance(context.Background(), query)
	assert.Equal(t, int32(1), calls.Load())

	// A different trigger is a different key.
	other := query
	other.TriggerSource = types.TriggerAutoRetry
	instances.CheckExistingInstance(context.Background(), other)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDedupGateShortCircuitsAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	instances := newTestInstances(srv.URL)
	// Distinct queries so the cache never answers.
	for n := 0; n < 8; n++ {
		instances.CheckExistingInstance(context.Background(), types.InstanceQuery{
			SessionID:        "sess-1",
			WorkflowType:     types.WorkflowSolution,
			ParentWorkflowID: string(rune('a' + n)),
		})
	}
	// The gate opens after its failure threshold; later lookups skip the wire.
	assert.Equal(t, int32(5), calls.Load())
}

func TestGetInstanceNormalizesKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/instances/inst-9", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"instanceId": "inst-9", "sessionId": "sess-1", "workflowType": "instrument_identifier", "status": "completed"}`))
	}))
	defer srv.Close()

	instance, err := newTestInstances(srv.URL).GetInstance(context.Background(), "inst-9")
	require.NoError(t, err)
	assert.Equal(t, "inst-9", instance.InstanceID)
	assert.Equal(t, types.WorkflowInstrumentIdentifier, instance.WorkflowType)
	assert.Equal(t, types.StatusCompleted, instance.Status)
}

func TestGetInstanceSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathInstanceSummary, r.URL.Path)
		assert.Equal(t, "sess-1", r.URL.Query().Get("session_id"))
		assert.Equal(t, "solution", r.URL.Query().Get("workflow_type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sessionId": "sess-1", "total": 3, "byType": {"solution": 3}, "byStatus": {"running": 1, "completed": 2}}`))
	}))
	defer srv.Close()

	wt := types.WorkflowSolution
	summary, err := newTestInstances(srv.URL).GetInstanceSummary(context.Background(), "sess-1", &wt)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.ByType[types.WorkflowSolution])
	assert.Equal(t, 1, summary.ByStatus[types.StatusRunning])
}

func TestGetActiveInstances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathInstanceActive, r.URL.Path)
		assert.Equal(t, "sess-1", r.URL.Query().Get("session_id"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"instanceId": "a", "status": "running"}, {"instanceId": "b", "status": "created"}]`))
	}))
	defer srv.Close()

	active, err := newTestInstances(srv.URL).GetActiveInstances(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].InstanceID)
}

func TestGetStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathInstanceStats, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"totalInstances": 10, "activeInstances": 4, "byType": {"product_search": 6}}`))
	}))
	defer srv.Close()

	stats, err := newTestInstances(srv.URL).GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalInstances)
	assert.Equal(t, 4, stats.ActiveInstances)
	assert.Equal(t, 6, stats.ByType[types.WorkflowProductSearch])
}

func TestGetInstanceErrorPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	instances := newTestInstances(srv.URL)
	ctx := context.Background()

	_, err := instances.GetInstance(ctx, "missing")
	assert.Error(t, err)
	_, err = instances.GetInstanceSummary(ctx, "sess-1", nil)
	assert.Error(t, err)
	_, err = instances.GetActiveInstances(ctx, "sess-1")
	assert.Error(t, err)
	_, err = instances.GetStats(ctx)
	assert.Error(t, err)
}
