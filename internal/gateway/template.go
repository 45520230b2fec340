// ABOUTME: Default agent template loaded from a TOML file
// ABOUTME: Supplies memory blocks, model, and embedding for new agents

package gateway

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/2389/persona-gateway/internal/letta"
)

// TemplateBlock is one memory block definition in the template file.
type TemplateBlock struct {
	Label string `toml:"label"`
	Value string `toml:"value"`
}

// AgentTemplate is the default configuration applied to every new agent.
type AgentTemplate struct {
	Model        string          `toml:"model"`
	Embedding    string          `toml:"embedding"`
	MemoryBlocks []TemplateBlock `toml:"memory_blocks"`
}

// LoadAgentTemplate reads and validates an agent template file.
func LoadAgentTemplate(path string) (*AgentTemplate, error) {
	var tmpl AgentTemplate
	if _, err := toml.DecodeFile(path, &tmpl); err != nil {
		return nil, fmt.Errorf("reading agent template %s: %w", path, err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent template %s: %w", path, err)
	}
	return &tmpl, nil
}

// Validate checks the template has everything agent creation needs.
func (t *AgentTemplate) Validate() error {
	if t.Model == "" {
		return fmt.Errorf("model is required")
	}
	if t.Embedding == "" {
		return fmt.Errorf("embedding is required")
	}
	if len(t.MemoryBlocks) == 0 {
		return fmt.Errorf("at least one memory block is required")
	}
	for i, block := range t.MemoryBlocks {
		if block.Label == "" {
			return fmt.Errorf("memory block %d is missing a label", i)
		}
	}
	return nil
}

// CreateRequest builds an agent creation request from the template. Tags
// are left for the caller to fill in.
func (t *AgentTemplate) CreateRequest() letta.CreateAgentRequest {
	blocks := make([]letta.MemoryBlock, 0, len(t.MemoryBlocks))
	for _, b := range t.MemoryBlocks {
		blocks = append(blocks, letta.MemoryBlock{Label: b.Label, Value: b.Value})
	}
	return letta.CreateAgentRequest{
		MemoryBlocks: blocks,
		Model:        t.Model,
		Embedding:    t.Embedding,
	}
}

// DefaultAgentTemplate is the template written by the init command.
func DefaultAgentTemplate() *AgentTemplate {
	return &AgentTemplate{
		Model:     "openai/gpt-4o-mini",
		Embedding: "openai/text-embedding-3-small",
		MemoryBlocks: []TemplateBlock{
			{
				Label: "persona",
				Value: "My name is Sam, a friendly and helpful companion.",
			},
			{
				Label: "human",
				Value: "The human has not shared anything about themselves yet.",
			},
		},
	}
}
