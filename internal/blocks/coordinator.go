// ABOUTME: Attach-send-detach lifecycle for persona blocks during exchanges
// ABOUTME: Guarantees detach on every exit path and one live lease per identity

package blocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/persona-gateway/internal/letta"
)

// ErrBlockAttachFailed means the persona block could not be attached to the
// target agent. The exchange never ran and is safe to retry.
var ErrBlockAttachFailed = errors.New("block attach failed")

// detachTimeout bounds the detach call made after the request context has
// been cancelled.
const detachTimeout = 10 * time.Second

// Lease records a block attached to an agent for an in-flight exchange.
// In-memory only; destroyed when the exchange ends on any path.
type Lease struct {
	Identity      string
	RemoteBlockID string
	AgentID       string
	AcquiredAt    time.Time
}

// ExchangeResult carries the exchange's value and whether the trailing
// detach failed. A detach warning does not mask the primary result; the
// reconciliation sweep retries the detach later.
type ExchangeResult struct {
	Value         any
	DetachWarning bool
}

// ExchangeFunc is the work performed while the block is attached,
// typically the message send.
type ExchangeFunc func(ctx context.Context) (any, error)

// Coordinator wraps message exchanges in the attach/send/detach protocol.
// A per-identity lock totally orders attach/detach for one identity;
// different identities proceed fully concurrently.
type Coordinator struct {
	registry *Registry
	upstream Upstream
	logger   *slog.Logger

	lifecycle *keyedMutex

	mu     sync.Mutex
	leases map[string]*Lease
	leaks  []Lease
}

// NewCoordinator creates a coordinator over the registry and runtime client.
func NewCoordinator(registry *Registry, upstream Upstream) *Coordinator {
	return &Coordinator{
		registry:  registry,
		upstream:  upstream,
		logger:    slog.Default().With("component", "lifecycle"),
		lifecycle: newKeyedMutex(),
		leases:    make(map[string]*Lease),
	}
}

// WithAttachedBlock resolves the identity's persona block, attaches it to
// the agent, runs fn, and detaches. Detach runs on every outcome of fn --
// success, upstream error, or cancellation of the inbound request -- before
// the per-identity lock is released. fn's result or error propagates
// unchanged after detach completes.
func (c *Coordinator) WithAttachedBlock(ctx context.Context, identity, agentID string, fn ExchangeFunc) (*ExchangeResult, error) {
	rec, err := c.registry.GetOrCreate(ctx, identity)
	if err != nil {
		return nil, err
	}

	unlock := c.lifecycle.Lock(identity)
	defer unlock()

	c.addLease(identity, rec.RemoteBlockID, agentID)
	defer c.removeLease(identity)

	if err := c.upstream.AttachBlock(ctx, agentID, rec.RemoteBlockID); err != nil {
		// An unavailability error leaves the remote state ambiguous: the
		// attach may have landed before the failure. Detach best-effort
		// so the identity never ends up with a stranded attachment.
		if errors.Is(err, letta.ErrUpstreamUnavailable) {
			c.detachQuietly(agentID, rec.RemoteBlockID, identity)
		}
		return nil, fmt.Errorf("%w: %v", ErrBlockAttachFailed, err)
	}

	// Safety net: if fn panics, the deferred detach still runs before the
	// panic unwinds past the lock release.
	attached := true
	defer func() {
		if attached {
			c.detachQuietly(agentID, rec.RemoteBlockID, identity)
		}
	}()

	value, fnErr := fn(ctx)

	detachErr := c.detach(agentID, rec.RemoteBlockID)
	attached = false
	if detachErr != nil {
		c.logger.Warn("detach failed after exchange",
			"identity", identity,
			"agent_id", agentID,
			"block_id", rec.RemoteBlockID,
			"error", detachErr,
		)
		c.recordLeak(identity, rec.RemoteBlockID, agentID)
	}

	if fnErr != nil {
		return nil, fnErr
	}
	return &ExchangeResult{Value: value, DetachWarning: detachErr != nil}, nil
}

// detach runs the detach call on a fresh context so cancellation of the
// inbound request never skips it.
func (c *Coordinator) detach(agentID, blockID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()
	return c.upstream.DetachBlock(ctx, agentID, blockID)
}

// detachQuietly detaches best-effort, recording a leak on failure.
func (c *Coordinator) detachQuietly(agentID, blockID, identity string) {
	if err := c.detach(agentID, blockID); err != nil {
		c.logger.Warn("best-effort detach failed",
			"identity", identity, "agent_id", agentID, "block_id", blockID, "error", err)
		c.recordLeak(identity, blockID, agentID)
	}
}

// addLease registers the in-flight attachment. The per-identity lifecycle
// lock guarantees no second lease can exist for the identity.
func (c *Coordinator) addLease(identity, blockID, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leases[identity] = &Lease{
		Identity:      identity,
		RemoteBlockID: blockID,
		AgentID:       agentID,
		AcquiredAt:    time.Now(),
	}
}

// removeLease destroys the identity's lease unconditionally.
func (c *Coordinator) removeLease(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.leases, identity)
}

// ActiveLeases returns the number of live leases for an identity. At most
// one can exist at any instant.
func (c *Coordinator) ActiveLeases(identity string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.leases[identity]; ok {
		return 1
	}
	return 0
}

// TotalLeases returns the number of live leases across all identities.
func (c *Coordinator) TotalLeases() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.leases)
}

// recordLeak remembers a failed detach for the reconciliation sweep.
func (c *Coordinator) recordLeak(identity, blockID, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaks = append(c.leaks, Lease{
		Identity:      identity,
		RemoteBlockID: blockID,
		AgentID:       agentID,
		AcquiredAt:    time.Now(),
	})
}

// Leaks returns a copy of the pending leaked attachments.
func (c *Coordinator) Leaks() []Lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Lease, len(c.leaks))
	copy(out, c.leaks)
	return out
}

// SweepLeaks retries detach for every leaked attachment. Entries that
// detach cleanly (or are already gone upstream) are dropped; the rest stay
// for the next sweep. Returns how many were resolved and how many remain.
func (c *Coordinator) SweepLeaks(ctx context.Context) (resolved, remaining int) {
	c.mu.Lock()
	pending := c.leaks
	c.leaks = nil
	c.mu.Unlock()

	var kept []Lease
	for _, leak := range pending {
		err := c.upstream.DetachBlock(ctx, leak.AgentID, leak.RemoteBlockID)
		if err != nil && !errors.Is(err, letta.ErrAgentNotFound) {
			kept = append(kept, leak)
			continue
		}
		resolved++
		c.logger.Info("leaked attachment reconciled",
			"identity", leak.Identity, "agent_id", leak.AgentID, "block_id", leak.RemoteBlockID)
	}

	if len(kept) > 0 {
		c.mu.Lock()
		c.leaks = append(kept, c.leaks...)
		c.mu.Unlock()
	}
	return resolved, len(kept)
}
