package chat

import (
	"github.com/vnmchuo/chat-backend/internal/provider"
	"github.com/vnmchuo/chat-backend/internal/store"
)

const DefaultSystemPrompt = `You are a helpful, harmless, and honest AI assistant.

Key characteristics:
- Be conversational, engaging, and genuinely helpful
- Provide accurate information and admit when you are unsure
- Maintain context throughout the conversation
- Ask clarifying questions when needed
- Be concise but thorough

Always aim to be useful while keeping a friendly, professional tone.`

// Assembler builds the provider prompt for one turn. It has no side effects.
type Assembler struct {
	SystemPrompt string
}

// Assemble returns the system prompt, the newest maxHistory stored messages
// in chronological order, and newMessage as the final user turn. Stored
// system messages are skipped so the configured prompt is the only one.
func (a Assembler) Assemble(history []*store.Message, newMessage string, maxHistory int) []provider.Message {
	if maxHistory < 0 {
		maxHistory = 0
	}

	kept := make([]*store.Message, 0, len(history))
	for _, m := range history {
		if m.Role == provider.RoleSystem {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > maxHistory {
		kept = kept[len(kept)-maxHistory:]
	}

	out := make([]provider.Message, 0, len(kept)+2)
	if a.SystemPrompt != "" {
		out = append(out, provider.Message{Role: provider.RoleSystem, Content: a.SystemPrompt})
	}
	for _, m := range kept {
		out = append(out, provider.Message{Role: m.Role, Content: m.Content})
	}
	return append(out, provider.Message{Role: provider.RoleUser, Content: newMessage})
}
