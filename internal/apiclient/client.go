package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/instrulink/sessionkit/internal/httpclient"
	"github.com/instrulink/sessionkit/internal/logging"
	"github.com/instrulink/sessionkit/internal/orchestration"
	"github.com/instrulink/sessionkit/internal/session"
	"github.com/instrulink/sessionkit/internal/shared/types"
)

// Thread context headers mirrored onto every outbound call for server-side
// observability, regardless of verb.
const (
	HeaderMainThread     = "X-Main-Thread-ID"
	HeaderWorkflowThread = "X-Workflow-Thread-ID"
	HeaderSession        = "X-Session-ID"
	HeaderZone           = "X-Zone"
)

// Precondition violations. These are synchronous, deterministic failures —
// not transient network faults — and must not be retried.
var (
	ErrNoSession     = errors.New("apiclient: no active session")
	ErrUnknownParent = errors.New("apiclient: unknown parent workflow thread")
	ErrUnknownItem   = errors.New("apiclient: item thread not found under parent workflow")
	ErrUnknownType   = errors.New("apiclient: unknown workflow type")
)

// Client tags every outbound call with the current thread context and
// offers compound workflow helpers that keep the session tree in step with
// backend calls. Tagging is best-effort metadata, not an authorization
// gate: a missing session is logged and the request proceeds untagged.
type Client struct {
	http      *httpclient.Client
	store     *session.Store
	instances *orchestration.Instances
	log       *logging.Logger
}

// New creates a thread-aware API client.
func New(client *httpclient.Client, store *session.Store, instances *orchestration.Instances, log *logging.Logger) *Client {
	if log == nil {
		log = logging.NewNop()
	}
	return &Client{
		http:      client,
		store:     store,
		instances: instances,
		log:       log.Named("apiclient"),
	}
}

// Do issues a request with thread tagging. Mutating verbs get the thread
// ids merged into the JSON body; read verbs get them as query parameters;
// every verb carries them as headers.
func (c *Client) Do(ctx context.Context, method, path string, body map[string]interface{}) (*resty.Response, error) {
	r, err := c.http.Request(ctx)
	if err != nil {
		return nil, err
	}

	tctx := c.store.ThreadContext()
	if tctx.Empty() {
		c.log.Debug("outbound request without thread context",
			zap.String("method", method), zap.String("path", path))
		if body != nil {
			r.SetBody(body)
		}
		return r.Execute(method, path)
	}

	c.setContextHeaders(r, tctx)
	if isMutating(method) {
		r.SetBody(mergeContext(body, tctx))
	} else {
		c.setContextQuery(r, tctx)
		if body != nil {
			r.SetBody(body)
		}
	}
	return r.Execute(method, path)
}

// Get issues a read request with thread context in query parameters.
func (c *Client) Get(ctx context.Context, path string) (*resty.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post issues a mutating request with thread context merged into the body.
func (c *Client) Post(ctx context.Context, path string, body map[string]interface{}) (*resty.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

func (c *Client) setContextHeaders(r *resty.Request, tctx types.ThreadContext) {
	r.SetHeader(HeaderMainThread, tctx.MainThreadID)
	r.SetHeader(HeaderSession, tctx.SessionID)
	if tctx.WorkflowThreadID != "" {
		r.SetHeader(HeaderWorkflowThread, tctx.WorkflowThreadID)
	}
	if tctx.Zone != "" {
		r.SetHeader(HeaderZone, tctx.Zone)
	}
}

func (c *Client) setContextQuery(r *resty.Request, tctx types.ThreadContext) {
	r.SetQueryParam("main_thread_id", tctx.MainThreadID)
	r.SetQueryParam("session_id", tctx.SessionID)
	if tctx.WorkflowThreadID != "" {
		r.SetQueryParam("workflow_thread_id", tctx.WorkflowThreadID)
	}
	if tctx.Zone != "" {
		r.SetQueryParam("zone", tctx.Zone)
	}
}

func mergeContext(body map[string]interface{}, tctx types.ThreadContext) map[string]interface{} {
	merged := make(map[string]interface{}, len(body)+4)
	for k, v := range body {
		merged[k] = v
	}
	merged["main_thread_id"] = tctx.MainThreadID
	merged["session_id"] = tctx.SessionID
	if tctx.WorkflowThreadID != "" {
		merged["workflow_thread_id"] = tctx.WorkflowThreadID
	}
	if tctx.Zone != "" {
		merged["zone"] = tctx.Zone
	}
	return merged
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// WorkflowRun is the outcome of a compound workflow helper.
type WorkflowRun struct {
	SubThreadID  string
	InstanceID   string
	Deduplicated bool
	Response     *types.WorkflowRunResponse
}

// RunWorkflow resolves a sub-thread for the workflow, marks it active,
// consults the dedup service, launches the workflow, and registers returned
// items as item threads under the sub-thread just used.
func (c *Client) RunWorkflow(ctx context.Context, workflowType types.WorkflowType, payload map[string]interface{}) (*WorkflowRun, error) {
	if !workflowType.Valid() {
		return nil, ErrUnknownType
	}
	sub := c.store.CreateSubThread(workflowType)
	if sub == nil {
		return nil, ErrNoSession
	}
	c.store.SetActiveSubThread(sub.ID)

	tctx := c.store.ThreadContext()
	dedup := c.instances.CheckExistingInstance(ctx, types.InstanceQuery{
		SessionID:     tctx.SessionID,
		WorkflowType:  workflowType,
		TriggerSource: types.TriggerUserAction,
	})
	if dedup.Exists && dedup.Instance != nil && !dedup.Instance.Status.Terminal() {
		c.log.Info("reusing existing workflow instance",
			zap.String("instance_id", dedup.Instance.InstanceID),
			zap.String("workflow_type", string(workflowType)))
		c.store.SetSubThreadStatus(sub.ID, types.StatusRunning)
		return &WorkflowRun{SubThreadID: sub.ID, InstanceID: dedup.Instance.InstanceID, Deduplicated: true}, nil
	}

	return c.launch(ctx, sub.ID, workflowType, payload)
}

// SearchProductsForItem launches a product search scoped to one identified
// item. The item thread must already exist under the claimed parent
// workflow's sub-thread; an unknown item number is a precondition violation
// and fails immediately without touching the network.
func (c *Client) SearchProductsForItem(ctx context.Context, parentWorkflowID string, itemNumber int, payload map[string]interface{}) (*WorkflowRun, error) {
	if c.store.GetCurrentSession() == nil {
		return nil, ErrNoSession
	}
	parent := c.store.GetSubThread(parentWorkflowID)
	if parent == nil {
		return nil, ErrUnknownParent
	}
	item, ok := parent.ItemThreads[itemNumber]
	if !ok {
		return nil, fmt.Errorf("%w: item %d under %s", ErrUnknownItem, itemNumber, parentWorkflowID)
	}

	sub := c.store.CreateProductSearchSubThread(parentWorkflowID, itemNumber)
	if sub == nil {
		return nil, ErrNoSession
	}
	c.store.SetActiveSubThread(sub.ID)

	tctx := c.store.ThreadContext()
	dedup := c.instances.CheckExistingInstance(ctx, types.InstanceQuery{
		SessionID:        tctx.SessionID,
		WorkflowType:     types.WorkflowProductSearch,
		ParentWorkflowID: parentWorkflowID,
		TriggerSource:    types.TriggerUserAction,
	})
	if dedup.Exists && dedup.Instance != nil && !dedup.Instance.Status.Terminal() {
		c.store.SetSubThreadStatus(sub.ID, types.StatusRunning)
		return &WorkflowRun{SubThreadID: sub.ID, InstanceID: dedup.Instance.InstanceID, Deduplicated: true}, nil
	}

	body := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["item_number"] = itemNumber
	body["item_thread_id"] = item.ID
	return c.launch(ctx, sub.ID, types.WorkflowProductSearch, body)
}

func (c *Client) launch(ctx context.Context, subThreadID string, workflowType types.WorkflowType, payload map[string]interface{}) (*WorkflowRun, error) {
	c.store.SetSubThreadStatus(subThreadID, types.StatusRunning)

	resp, err := c.Post(ctx, fmt.Sprintf("/api/workflows/%s/run", workflowType), payload)
	if err != nil {
		c.store.SetSubThreadStatus(subThreadID, types.StatusError)
		return nil, fmt.Errorf("run %s: %w", workflowType, err)
	}
	if resp.IsError() {
		c.store.SetSubThreadStatus(subThreadID, types.StatusError)
		return nil, fmt.Errorf("run %s: backend returned %s", workflowType, resp.Status())
	}

	var out types.WorkflowRunResponse
	if err := types.DecodeNormalized(resp.Body(), &out); err != nil {
		c.store.SetSubThreadStatus(subThreadID, types.StatusError)
		return nil, fmt.Errorf("run %s: decode: %w", workflowType, err)
	}

	for _, item := range out.Items {
		c.store.AddItemThreadToSubThread(subThreadID, item.ItemNumber, item.ItemName, item.ItemType)
	}

	return &WorkflowRun{
		SubThreadID: subThreadID,
		InstanceID:  out.InstanceID,
		Response:    &out,
	}, nil
}
