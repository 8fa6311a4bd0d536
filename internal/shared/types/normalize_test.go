package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"sessionId":        "session_id",
		"mainThreadId":     "main_thread_id",
		"workflow_type":    "workflow_type",
		"parentWorkflowId": "parent_workflow_id",
		"zone":             "zone",
		// Acronym runs collapse into one word instead of one letter each.
		"sessionID":    "session_id",
		"mainThreadID": "main_thread_id",
		"APIVersion":   "api_version",
		"baseURL":      "base_url",
		"HTMLBody":     "html_body",
		"ID":           "id",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}

func TestDecodeNormalizedAcronymKeys(t *testing.T) {
	raw := []byte(`{"instanceID": "inst-3", "sessionID": "sess-3", "workflowType": "solution"}`)

	var instance WorkflowInstance
	require.NoError(t, DecodeNormalized(raw, &instance))
	assert.Equal(t, "inst-3", instance.InstanceID)
	assert.Equal(t, "sess-3", instance.SessionID)
	assert.Equal(t, WorkflowSolution, instance.WorkflowType)
}

func TestDecodeNormalizedMixedKeys(t *testing.T) {
	// Instance endpoints pass through camelCase from upstream workflow
	// state; session endpoints emit snake_case. Both must decode.
	raw := []byte(`{
		"instanceId": "inst-1",
		"session_id": "sess-1",
		"workflowType": "product_search",
		"status": "running"
	}`)

	var instance WorkflowInstance
	require.NoError(t, DecodeNormalized(raw, &instance))
	assert.Equal(t, "inst-1", instance.InstanceID)
	assert.Equal(t, "sess-1", instance.SessionID)
	assert.Equal(t, WorkflowProductSearch, instance.WorkflowType)
	assert.Equal(t, StatusRunning, instance.Status)
}

func TestDecodeNormalizedNested(t *testing.T) {
	raw := []byte(`{"exists": true, "instance": {"instanceId": "inst-2", "workflowType": "solution"}}`)

	var result DedupResult
	require.NoError(t, DecodeNormalized(raw, &result))
	require.NotNil(t, result.Instance)
	assert.True(t, result.Exists)
	assert.Equal(t, "inst-2", result.Instance.InstanceID)
}

func TestSessionClone(t *testing.T) {
	active := "sub-1"
	sess := &Session{
		ID:                "sess-1",
		MainThreadID:      "main-1",
		ActiveSubThreadID: &active,
		SubThreads: map[string]*SubThread{
			"sub-1": {
				ID:           "sub-1",
				WorkflowType: WorkflowSolution,
				Status:       StatusCreated,
				ItemThreads: map[int]*ItemThread{
					1: {ID: "sub-1.item-1", ItemNumber: 1, ItemName: "Pressure Transmitter"},
				},
			},
		},
	}

	clone := sess.Clone()
	require.NotNil(t, clone)

	clone.SubThreads["sub-1"].Status = StatusCompleted
	clone.SubThreads["sub-1"].ItemThreads[1].ItemName = "changed"
	*clone.ActiveSubThreadID = "other"

	assert.Equal(t, StatusCreated, sess.SubThreads["sub-1"].Status)
	assert.Equal(t, "Pressure Transmitter", sess.SubThreads["sub-1"].ItemThreads[1].ItemName)
	assert.Equal(t, "sub-1", *sess.ActiveSubThreadID)
}

func TestValidationResultHelpers(t *testing.T) {
	assert.True(t, ValidationResult{Valid: false, Reason: ReasonNotFound}.NotFound())
	assert.True(t, ValidationResult{Valid: false, Reason: ReasonExpired}.Expired())
	assert.False(t, ValidationResult{Valid: true}.NotFound())
}
