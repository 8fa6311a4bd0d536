package orchestration

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/instrulink/sessionkit/internal/httpclient"
	"github.com/instrulink/sessionkit/internal/infrastructure/monitoring"
	"github.com/instrulink/sessionkit/internal/infrastructure/resilience"
	"github.com/instrulink/sessionkit/internal/logging"
	"github.com/instrulink/sessionkit/internal/shared/types"
)

// Instance endpoint paths.
const (
	pathInstanceCheck   = "/api/instances/check"
	pathInstanceByID    = "/api/instances/%s"
	pathInstanceSummary = "/api/instances/summary"
	pathInstanceActive  = "/api/instances/active"
	pathInstanceStats   = "/api/instances/stats"
)

// Dedup lookups are read-mostly: identical triggers repeat within seconds
// when users double-click. A short cache keeps those off the network.
const (
	dedupCacheTTL     = 10 * time.Second
	dedupCacheCleanup = 1 * time.Minute
)

// Instances performs backend workflow-instance deduplication lookups and
// read-only aggregation views. Instance status is backend-owned; this layer
// only observes it.
type Instances struct {
	http    *httpclient.Client
	cache   *gocache.Cache
	gate    *resilience.Gate
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewInstances creates an instance orchestration service.
func NewInstances(client *httpclient.Client, log *logging.Logger, metrics *monitoring.Metrics) *Instances {
	if log == nil {
		log = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewNop()
	}
	return &Instances{
		http:    client,
		cache:   gocache.New(dedupCacheTTL, dedupCacheCleanup),
		gate:    resilience.NewGate(5, 30*time.Second),
		log:     log.Named("instances"),
		metrics: metrics,
	}
}

// CheckExistingInstance asks whether a workflow instance already exists for
// this trigger. Deliberately availability-biased: any network, backend, or
// parse failure degrades to {Exists: false} — a duplicate instance is more
// recoverable than a wrongly blocked user action. Never returns an error.
func (i *Instances) CheckExistingInstance(ctx context.Context, query types.InstanceQuery) types.DedupResult {
	key := dedupKey(query)
	if cached, ok := i.cache.Get(key); ok {
		return cached.(types.DedupResult)
	}
	if !i.gate.Allow() {
		i.metrics.DedupErrors.Inc()
		return types.DedupResult{Exists: false, Instance: nil}
	}

	result, err := i.postCheck(ctx, query)
	if err != nil {
		i.gate.Failure()
		i.metrics.DedupErrors.Inc()
		i.log.Warn("dedup lookup degraded to exists=false", zap.Error(err))
		return types.DedupResult{Exists: false, Instance: nil}
	}
	i.gate.Success()

	if result.Exists {
		i.metrics.DedupHits.Inc()
	} else {
		i.metrics.DedupMisses.Inc()
	}
	i.cache.Set(key, result, gocache.DefaultExpiration)
	return result
}

func (i *Instances) postCheck(ctx context.Context, query types.InstanceQuery) (types.DedupResult, error) {
	r, err := i.http.Request(ctx)
	if err != nil {
		return types.DedupResult{}, err
	}
	resp, err := r.SetBody(query).Post(pathInstanceCheck)
	if err != nil {
		return types.DedupResult{}, fmt.Errorf("instance check: %w", err)
	}
	if resp.IsError() {
		return types.DedupResult{}, fmt.Errorf("instance check: backend returned %s", resp.Status())
	}
	var result types.DedupResult
	if err := types.DecodeNormalized(resp.Body(), &result); err != nil {
		return types.DedupResult{}, fmt.Errorf("instance check: decode: %w", err)
	}
	return result, nil
}

// GetInstance fetches one instance by id.
func (i *Instances) GetInstance(ctx context.Context, instanceID string) (*types.WorkflowInstance, error) {
	r, err := i.http.Request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := r.Get(fmt.Sprintf(pathInstanceByID, instanceID))
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get instance: backend returned %s", resp.Status())
	}
	var instance types.WorkflowInstance
	if err := types.DecodeNormalized(resp.Body(), &instance); err != nil {
		return nil, fmt.Errorf("get instance: decode: %w", err)
	}
	return &instance, nil
}

// GetInstanceSummary aggregates a session's instances, optionally filtered
// by workflow type.
func (i *Instances) GetInstanceSummary(ctx context.Context, sessionID string, workflowType *types.WorkflowType) (*types.InstanceSummary, error) {
	r, err := i.http.Request(ctx)
	if err != nil {
		return nil, err
	}
	r.SetQueryParam("session_id", sessionID)
	if workflowType != nil {
		r.SetQueryParam("workflow_type", string(*workflowType))
	}
	resp, err := r.Get(pathInstanceSummary)
	if err != nil {
		return nil, fmt.Errorf("instance summary: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("instance summary: backend returned %s", resp.Status())
	}
	var summary types.InstanceSummary
	if err := types.DecodeNormalized(resp.Body(), &summary); err != nil {
		return nil, fmt.Errorf("instance summary: decode: %w", err)
	}
	return &summary, nil
}

// GetActiveInstances lists a session's non-terminal instances.
func (i *Instances) GetActiveInstances(ctx context.Context, sessionID string) ([]types.WorkflowInstance, error) {
	r, err := i.http.Request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := r.SetQueryParam("session_id", sessionID).Get(pathInstanceActive)
	if err != nil {
		return nil, fmt.Errorf("active instances: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("active instances: backend returned %s", resp.Status())
	}
	var instances []types.WorkflowInstance
	if err := types.DecodeNormalized(resp.Body(), &instances); err != nil {
		return nil, fmt.Errorf("active instances: decode: %w", err)
	}
	return instances, nil
}

// GetStats fetches the backend-wide instance aggregate.
func (i *Instances) GetStats(ctx context.Context) (*types.InstanceStats, error) {
	r, err := i.http.Request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := r.Get(pathInstanceStats)
	if err != nil {
		return nil, fmt.Errorf("instance stats: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("instance stats: backend returned %s", resp.Status())
	}
	var stats types.InstanceStats
	if err := types.DecodeNormalized(resp.Body(), &stats); err != nil {
		return nil, fmt.Errorf("instance stats: decode: %w", err)
	}
	return &stats, nil
}

func dedupKey(q types.InstanceQuery) string {
	return fmt.Sprintf("%s|%s|%s|%s", q.SessionID, q.WorkflowType, q.ParentWorkflowID, q.TriggerSource)
}
