// ABOUTME: Tests for the attach-send-detach lifecycle coordinator
// ABOUTME: Validates detach-on-all-paths, single-lease invariant, and leak sweeping

package blocks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/persona-gateway/internal/letta"
	"github.com/2389/persona-gateway/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeUpstream) {
	t.Helper()
	up := newFakeUpstream()
	reg := NewRegistry(store.NewMemoryStore(), up)
	return NewCoordinator(reg, up), up
}

func TestWithAttachedBlock_Success_AttachesRunsDetaches(t *testing.T) {
	coord, up := newTestCoordinator(t)

	res, err := coord.WithAttachedBlock(context.Background(), "alice", "agent-1",
		func(ctx context.Context) (any, error) {
			assert.Equal(t, 1, coord.ActiveLeases("alice"), "lease must be live during fn")
			return "reply", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "reply", res.Value)
	assert.False(t, res.DetachWarning)

	assert.Equal(t, 1, up.attachCount())
	assert.Equal(t, 1, up.detachCount())
	assert.Equal(t, 0, coord.ActiveLeases("alice"))
	assert.Empty(t, coord.Leaks())
}

func TestWithAttachedBlock_FnError_StillDetachesOnce(t *testing.T) {
	coord, up := newTestCoordinator(t)

	boom := errors.New("send failed")
	_, err := coord.WithAttachedBlock(context.Background(), "alice", "agent-1",
		func(ctx context.Context) (any, error) {
			return nil, boom
		})
	assert.ErrorIs(t, err, boom, "fn error must propagate unchanged")

	assert.Equal(t, 1, up.attachCount())
	assert.Equal(t, 1, up.detachCount(), "detach runs exactly once even when fn fails")
	assert.Equal(t, 0, coord.ActiveLeases("alice"))
}

func TestWithAttachedBlock_FnPanic_StillDetaches(t *testing.T) {
	coord, up := newTestCoordinator(t)

	assert.Panics(t, func() {
		_, _ = coord.WithAttachedBlock(context.Background(), "alice", "agent-1",
			func(ctx context.Context) (any, error) {
				panic("handler blew up")
			})
	})

	assert.Equal(t, 1, up.detachCount(), "panic inside fn must not skip detach")
	assert.Equal(t, 0, coord.ActiveLeases("alice"))
	assert.Equal(t, 0, coord.TotalLeases())
}

func TestWithAttachedBlock_CancelledRequest_DetachStillRuns(t *testing.T) {
	coord, up := newTestCoordinator(t)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := coord.WithAttachedBlock(ctx, "alice", "agent-1",
		func(ctx context.Context) (any, error) {
			cancel()
			return nil, ctx.Err()
		})
	assert.ErrorIs(t, err, context.Canceled)

	// Detach runs on its own context, not the cancelled request context
	assert.Equal(t, 1, up.detachCount())
}

func TestWithAttachedBlock_AttachFails_NoExchange(t *testing.T) {
	coord, up := newTestCoordinator(t)
	up.attachErr = errors.New("attach rejected")

	ran := false
	_, err := coord.WithAttachedBlock(context.Background(), "alice", "agent-1",
		func(ctx context.Context) (any, error) {
			ran = true
			return nil, nil
		})
	assert.ErrorIs(t, err, ErrBlockAttachFailed)
	assert.False(t, ran, "fn must not run when attach fails")
	assert.Equal(t, 0, coord.ActiveLeases("alice"))
}

func TestWithAttachedBlock_AmbiguousAttachFailure_BestEffortDetach(t *testing.T) {
	coord, up := newTestCoordinator(t)
	up.attachErr = letta.ErrUpstreamUnavailable

	_, err := coord.WithAttachedBlock(context.Background(), "alice", "agent-1",
		func(ctx context.Context) (any, error) {
			return nil, nil
		})
	assert.ErrorIs(t, err, ErrBlockAttachFailed)
	assert.Equal(t, 1, up.detachCount(),
		"unavailability during attach leaves remote state ambiguous; detach defensively")
}

func TestWithAttachedBlock_DetachFails_ResultSurvivesWithWarning(t *testing.T) {
	coord, up := newTestCoordinator(t)
	up.detachErr = letta.ErrUpstreamUnavailable

	res, err := coord.WithAttachedBlock(context.Background(), "alice", "agent-1",
		func(ctx context.Context) (any, error) {
			return "reply", nil
		})
	require.NoError(t, err, "detach failure must not mask the exchange result")
	assert.Equal(t, "reply", res.Value)
	assert.True(t, res.DetachWarning)

	leaks := coord.Leaks()
	require.Len(t, leaks, 1)
	assert.Equal(t, "alice", leaks[0].Identity)
	assert.Equal(t, "agent-1", leaks[0].AgentID)
}

func TestWithAttachedBlock_SameIdentity_AtMostOneLease(t *testing.T) {
	coord, up := newTestCoordinator(t)

	const callers = 20
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.WithAttachedBlock(context.Background(), "alice", "agent-1",
				func(ctx context.Context) (any, error) {
					assert.Equal(t, 1, coord.ActiveLeases("alice"))
					return nil, nil
				})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	up.mu.Lock()
	maxAttached := up.maxAttached
	up.mu.Unlock()
	assert.Equal(t, 1, maxAttached, "the block must never be attached twice at once")
	assert.Equal(t, callers, up.attachCount())
	assert.Equal(t, callers, up.detachCount())
	assert.Equal(t, 0, coord.TotalLeases())
}

func TestWithAttachedBlock_DifferentIdentities_RunConcurrently(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	aliceIn := make(chan struct{})
	aliceOut := make(chan struct{})
	go func() {
		_, _ = coord.WithAttachedBlock(context.Background(), "alice", "agent-1",
			func(ctx context.Context) (any, error) {
				close(aliceIn)
				<-aliceOut
				return nil, nil
			})
	}()
	<-aliceIn

	// bob proceeds while alice's exchange is still open
	done := make(chan struct{})
	go func() {
		_, err := coord.WithAttachedBlock(context.Background(), "bob", "agent-2",
			func(ctx context.Context) (any, error) { return nil, nil })
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-timeout(t):
		t.Fatal("a second identity must not wait on the first identity's lease")
	}
	close(aliceOut)
}

func TestSweepLeaks_RetriesAndDrains(t *testing.T) {
	coord, up := newTestCoordinator(t)
	up.detachErr = letta.ErrUpstreamUnavailable

	_, err := coord.WithAttachedBlock(context.Background(), "alice", "agent-1",
		func(ctx context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	require.Len(t, coord.Leaks(), 1)

	// Upstream still down: the leak stays queued
	resolved, remaining := coord.SweepLeaks(context.Background())
	assert.Equal(t, 0, resolved)
	assert.Equal(t, 1, remaining)

	// Upstream recovers
	up.mu.Lock()
	up.detachErr = nil
	up.mu.Unlock()

	resolved, remaining = coord.SweepLeaks(context.Background())
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 0, remaining)
	assert.Empty(t, coord.Leaks())
}

func TestSweepLeaks_AgentGone_CountsAsResolved(t *testing.T) {
	coord, up := newTestCoordinator(t)
	up.detachErr = letta.ErrUpstreamUnavailable

	_, err := coord.WithAttachedBlock(context.Background(), "alice", "agent-1",
		func(ctx context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)

	up.mu.Lock()
	up.detachErr = letta.ErrAgentNotFound
	up.mu.Unlock()

	resolved, remaining := coord.SweepLeaks(context.Background())
	assert.Equal(t, 1, resolved, "a deleted agent has nothing left to detach")
	assert.Equal(t, 0, remaining)
}
