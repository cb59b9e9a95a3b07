package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/volantino-labs/flyer-extractor/internal/provider"
)

// Endpoint pairs a provider client with its credential pool. Pools are
// injected so tests and multi-tenant setups control key ownership.
type Endpoint struct {
	Client provider.Client
	Keys   *provider.KeyPool
}

// Orchestrator drives one page image through the provider chain:
// endpoints in priority order, per-endpoint retry with exponential
// backoff, and credential rotation on rate limits. A single-key pool
// falls back to backoff since rotating onto the same key is pointless.
type Orchestrator struct {
	endpoints []Endpoint
	policy    Policy
	log       *slog.Logger
}

// NewOrchestrator builds an orchestrator over endpoints in fallback
// order.
func NewOrchestrator(endpoints []Endpoint, policy Policy, logger *slog.Logger) (*Orchestrator, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoProviders
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{endpoints: endpoints, policy: policy, log: logger}, nil
}

// ExtractPage extracts products from one page image, falling through the
// endpoint chain until one succeeds.
func (o *Orchestrator) ExtractPage(ctx context.Context, imagePath string, req provider.Request) ([]provider.RawProduct, error) {
	var lastErr error
	for _, ep := range o.endpoints {
		products, err := o.tryEndpoint(ctx, ep, imagePath, req)
		if err == nil {
			return products, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		o.log.Warn("pipeline.endpoint_exhausted",
			"provider", ep.Client.Name(),
			"page", req.Page,
			"error", err,
		)
	}
	return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// tryEndpoint runs the per-endpoint attempt loop. A rate-limited key is
// put on cooldown; with more keys available the next attempt rotates
// immediately instead of backing off. Malformed output gets exactly one
// re-ask with the same inputs; a second garbled completion hands the
// page to the next provider.
func (o *Orchestrator) tryEndpoint(ctx context.Context, ep Endpoint, imagePath string, req provider.Request) ([]provider.RawProduct, error) {
	var lastErr error
	malformed := 0
	for attempt := 0; attempt < o.policy.MaxAttempts; attempt++ {
		key, err := o.acquireKey(ctx, ep.Keys)
		if err != nil {
			return nil, err
		}

		products, err := ep.Client.Extract(ctx, imagePath, key, req)
		if err == nil {
			return products, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		kind := provider.KindOf(err)
		o.log.Warn("pipeline.attempt_failed",
			"provider", ep.Client.Name(),
			"page", req.Page,
			"attempt", attempt+1,
			"kind", kind.String(),
			"error", err,
		)

		switch kind {
		case provider.Fatal:
			return nil, err
		case provider.MalformedOutput:
			malformed++
			if malformed >= 2 {
				return nil, err
			}
			if err := o.policy.Sleep(ctx, attempt); err != nil {
				return nil, err
			}
		case provider.RateLimited:
			ep.Keys.MarkRateLimited(key)
			if ep.Keys.Size() >= 2 {
				// rotate straight onto the next key
				continue
			}
			if err := o.policy.Sleep(ctx, attempt); err != nil {
				return nil, err
			}
		default:
			if err := o.policy.Sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// acquireKey pulls the next usable credential, waiting out the shortest
// cooldown when the whole pool is rate limited.
func (o *Orchestrator) acquireKey(ctx context.Context, pool *provider.KeyPool) (string, error) {
	for {
		key, wait, err := pool.Next()
		if err == nil {
			return key, nil
		}
		if wait <= 0 {
			return "", err
		}
		o.log.Info("pipeline.pool_cooling", "wait", wait.String())
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
}
