// ABOUTME: Identity-scoped agent operations behind rate limiting and caching
// ABOUTME: Every operation resolves exactly one identity and enforces agent ownership

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/2389/persona-gateway/internal/blocks"
	"github.com/2389/persona-gateway/internal/cache"
	"github.com/2389/persona-gateway/internal/config"
	"github.com/2389/persona-gateway/internal/identity"
	"github.com/2389/persona-gateway/internal/letta"
	"github.com/2389/persona-gateway/internal/ratelimit"
)

// ErrAgentCreationDisabled means the deployment does not allow creating
// agents through the gateway.
var ErrAgentCreationDisabled = errors.New("agent creation is disabled")

// RateLimitedError reports a denied request together with the seconds until
// the identity's window resets.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// RetryAfterSeconds returns the whole-second retry hint, at least 1.
func (e *RateLimitedError) RetryAfterSeconds() int {
	d := ratelimit.Decision{RetryAfter: e.RetryAfter}
	return d.RetryAfterSeconds()
}

// Runtime is the slice of the agent runtime client the service uses.
type Runtime interface {
	ListAgents(ctx context.Context, tags []string, matchAll bool) ([]letta.Agent, error)
	CreateAgent(ctx context.Context, req letta.CreateAgentRequest) (*letta.Agent, error)
	GetAgent(ctx context.Context, agentID string) (*letta.Agent, error)
	UpdateAgent(ctx context.Context, agentID string, fields map[string]any) (*letta.Agent, error)
	DeleteAgent(ctx context.Context, agentID string) error
	ListMessages(ctx context.Context, agentID string, limit int) ([]letta.Message, error)
	SendMessage(ctx context.Context, agentID string, messages []letta.MessageInput) (*letta.SendMessageResponse, error)
	ListArchivalMemory(ctx context.Context, agentID string, limit int, after, before string) ([]letta.Passage, error)
}

// messageHistoryLimit bounds how much history a single listing pulls.
const messageHistoryLimit = 100

// archivalMemoryLimit bounds the archival passages returned per request.
const archivalMemoryLimit = 10

// SendResult is a completed message exchange. DetachWarning means the
// trailing block detach failed and was queued for reconciliation; the
// exchange itself succeeded.
type SendResult struct {
	Response      *letta.SendMessageResponse
	DetachWarning bool
}

// Service implements the identity-scoped agent operations. One instance is
// constructed at startup and shared across requests; it holds no per-request
// state.
type Service struct {
	runtime     Runtime
	registry    *blocks.Registry
	coordinator *blocks.Coordinator
	limiter     *ratelimit.Limiter
	cache       *cache.Cache
	template    *AgentTemplate
	logger      *slog.Logger

	agentListTTL time.Duration
	lettaBaseURL string
	allowCreate  bool
}

// NewService wires the service from its collaborators.
func NewService(cfg *config.Config, runtime Runtime, registry *blocks.Registry, coordinator *blocks.Coordinator, limiter *ratelimit.Limiter, c *cache.Cache, template *AgentTemplate) *Service {
	return &Service{
		runtime:      runtime,
		registry:     registry,
		coordinator:  coordinator,
		limiter:      limiter,
		cache:        c,
		template:     template,
		logger:       slog.Default().With("component", "gateway"),
		agentListTTL: cfg.Cache.AgentListTTL,
		lettaBaseURL: cfg.Letta.BaseURL,
		allowCreate:  cfg.Agents.CreateFromUI,
	}
}

// agentListKey is the cache key for one identity's agent listing. All keys
// for an identity share the "agents:<identity>" prefix so writes can
// invalidate them together.
func agentListKey(id identity.Identity) string {
	return "agents:" + string(id)
}

// checkLimit converts a limiter denial into a RateLimitedError.
func (s *Service) checkLimit(id identity.Identity, class ratelimit.Class) error {
	decision := s.limiter.Check(string(id), class)
	if !decision.Allowed {
		s.logger.Warn("rate limit exceeded",
			"identity", string(id), "class", string(class),
			"retry_after", decision.RetryAfter)
		return &RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

// ownedAgent fetches the agent and verifies it carries the identity's
// ownership tag. A foreign agent is indistinguishable from a missing one.
func (s *Service) ownedAgent(ctx context.Context, id identity.Identity, agentID string) (*letta.Agent, error) {
	agent, err := s.runtime.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	for _, tag := range agent.Tags {
		if tag == id.Tag() {
			return agent, nil
		}
	}
	return nil, letta.ErrAgentNotFound
}

// ListAgentsForIdentity returns the identity's agents, newest first. The
// listing is cached per identity; concurrent misses share one upstream call.
func (s *Service) ListAgentsForIdentity(ctx context.Context, id identity.Identity) ([]letta.Agent, error) {
	if err := s.checkLimit(id, ratelimit.ClassRead); err != nil {
		return nil, err
	}

	value, err := s.cache.GetOrCompute(ctx, agentListKey(id), s.agentListTTL, func(ctx context.Context) (any, error) {
		agents, err := s.runtime.ListAgents(ctx, []string{id.Tag()}, true)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(agents, func(i, j int) bool {
			return agents[i].UpdatedAt > agents[j].UpdatedAt
		})
		return agents, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]letta.Agent), nil
}

// CreateAgentForIdentity creates an agent from the configured template,
// tagged with the identity's ownership tag. The identity's cached listings
// are invalidated before the agent is returned.
func (s *Service) CreateAgentForIdentity(ctx context.Context, id identity.Identity) (*letta.Agent, error) {
	if !s.allowCreate {
		return nil, ErrAgentCreationDisabled
	}

	req := s.template.CreateRequest()
	req.Tags = append(req.Tags, id.Tag())

	agent, err := s.runtime.CreateAgent(ctx, req)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(agentListKey(id))
	s.logger.Info("agent created", "identity", string(id), "agent_id", agent.ID)
	return agent, nil
}

// GetAgentForIdentity returns one of the identity's agents.
func (s *Service) GetAgentForIdentity(ctx context.Context, id identity.Identity, agentID string) (*letta.Agent, error) {
	if err := s.checkLimit(id, ratelimit.ClassRead); err != nil {
		return nil, err
	}
	return s.ownedAgent(ctx, id, agentID)
}

// UpdateAgentForIdentity applies a partial update to one of the identity's
// agents. Cached listings are invalidated before the response so an
// immediate re-read observes the update.
func (s *Service) UpdateAgentForIdentity(ctx context.Context, id identity.Identity, agentID string, fields map[string]any) (*letta.Agent, error) {
	if _, err := s.ownedAgent(ctx, id, agentID); err != nil {
		return nil, err
	}

	agent, err := s.runtime.UpdateAgent(ctx, agentID, fields)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(agentListKey(id))
	return agent, nil
}

// DeleteAgentForIdentity deletes one of the identity's agents and
// invalidates its cached listings.
func (s *Service) DeleteAgentForIdentity(ctx context.Context, id identity.Identity, agentID string) error {
	if _, err := s.ownedAgent(ctx, id, agentID); err != nil {
		return err
	}

	if err := s.runtime.DeleteAgent(ctx, agentID); err != nil {
		return err
	}

	s.cache.Invalidate(agentListKey(id))
	s.logger.Info("agent deleted", "identity", string(id), "agent_id", agentID)
	return nil
}

// SendMessageForIdentity runs one message exchange: rate check, ownership
// check, then attach-send-detach through the coordinator. The identity's
// cached listings are invalidated before the result is returned.
func (s *Service) SendMessageForIdentity(ctx context.Context, id identity.Identity, agentID string, messages []letta.MessageInput) (*SendResult, error) {
	if err := s.checkLimit(id, ratelimit.ClassSend); err != nil {
		return nil, err
	}

	if _, err := s.ownedAgent(ctx, id, agentID); err != nil {
		return nil, err
	}

	result, err := s.coordinator.WithAttachedBlock(ctx, string(id), agentID, func(ctx context.Context) (any, error) {
		return s.runtime.SendMessage(ctx, agentID, messages)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(agentListKey(id))

	return &SendResult{
		Response:      result.Value.(*letta.SendMessageResponse),
		DetachWarning: result.DetachWarning,
	}, nil
}

// GetMessagesForIdentity returns the agent's visible history, filtered and
// converted for clients. System and heartbeat traffic is hidden; assistant
// content carries rendered HTML alongside the raw markdown.
func (s *Service) GetMessagesForIdentity(ctx context.Context, id identity.Identity, agentID string) ([]ConvertedMessage, error) {
	if err := s.checkLimit(id, ratelimit.ClassRead); err != nil {
		return nil, err
	}

	if _, err := s.ownedAgent(ctx, id, agentID); err != nil {
		return nil, err
	}

	messages, err := s.runtime.ListMessages(ctx, agentID, messageHistoryLimit)
	if err != nil {
		return nil, err
	}

	return convertMessages(filterMessages(messages)), nil
}

// ArchivalMemoryForIdentity returns the agent's archival passages. An agent
// without archival memory yields an empty list, not an error.
func (s *Service) ArchivalMemoryForIdentity(ctx context.Context, id identity.Identity, agentID string) ([]letta.Passage, error) {
	if err := s.checkLimit(id, ratelimit.ClassRead); err != nil {
		return nil, err
	}

	if _, err := s.ownedAgent(ctx, id, agentID); err != nil {
		return nil, err
	}

	passages, err := s.runtime.ListArchivalMemory(ctx, agentID, archivalMemoryLimit, "", "")
	if err != nil {
		s.logger.Info("no archival memory for agent", "agent_id", agentID, "error", err)
		return []letta.Passage{}, nil
	}
	if passages == nil {
		passages = []letta.Passage{}
	}
	return passages, nil
}

// UpdatePersonaForIdentity replaces the identity's persona block content.
// The block is created on first use if it does not exist yet.
func (s *Service) UpdatePersonaForIdentity(ctx context.Context, id identity.Identity, content string) error {
	if _, err := s.registry.GetOrCreate(ctx, string(id)); err != nil {
		return err
	}
	return s.registry.Update(ctx, string(id), content)
}

// RuntimeInfo describes the upstream runtime the gateway is connected to.
type RuntimeInfo struct {
	LettaBaseURL string `json:"LETTA_BASE_URL"`
}

// Runtime returns connection information for clients.
func (s *Service) Runtime() RuntimeInfo {
	return RuntimeInfo{LettaBaseURL: s.lettaBaseURL}
}
