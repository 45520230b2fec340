// ABOUTME: Data types for the upstream Letta-compatible agent runtime API
// ABOUTME: Defines agents, memory blocks, messages, and archival passages

package letta

// Block is a memory block on the agent runtime. Persona blocks are created
// once per visitor identity and attached to an agent for the duration of a
// message exchange.
type Block struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// MemoryBlock is a block definition supplied when creating an agent.
type MemoryBlock struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Agent is an agent on the runtime. Ownership is expressed through tags of
// the form "user:<identity>".
type Agent struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Model     string   `json:"model,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// CreateAgentRequest is the payload for creating a new agent.
type CreateAgentRequest struct {
	Name         string        `json:"name,omitempty"`
	MemoryBlocks []MemoryBlock `json:"memoryBlocks"`
	Model        string        `json:"model"`
	Embedding    string        `json:"embedding"`
	Tags         []string      `json:"tags,omitempty"`
}

// MessageInput is a message submitted to an agent.
type MessageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message is a message in an agent's history. MessageType distinguishes
// user, assistant, system, tool, and reasoning messages.
type Message struct {
	ID          string `json:"id"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	Reasoning   string `json:"reasoning,omitempty"`
	Date        string `json:"date,omitempty"`
}

// SendMessageResponse is the runtime's response to a message send.
type SendMessageResponse struct {
	Messages []Message `json:"messages"`
}

// Passage is an archival memory entry, semantically searched long-term
// memory separate from attached blocks.
type Passage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at,omitempty"`
}
